package logging

import (
	"io"
	"strings"

	"github.com/labstack/gommon/log"
)

// New returns a leveled logger tagged with the component prefix.
func New(prefix, level string) *log.Logger {
	l := log.New(prefix)
	l.SetHeader(`${time_rfc3339} ${level} [${prefix}]`)
	l.SetLevel(ParseLevel(level))
	return l
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}

func ParseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
