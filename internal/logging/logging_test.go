package logging

import (
	"bytes"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]log.Lvl{
		"debug":   log.DEBUG,
		"WARN":    log.WARN,
		"warning": log.WARN,
		"error":   log.ERROR,
		"off":     log.OFF,
		"":        log.INFO,
		"verbose": log.INFO,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("sweeper", "warn")
	l.SetOutput(&buf)

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "[sweeper]")
}
