package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition("assignment", "accepted")
	m.Transition("assignment", "accepted")
	m.Transition("quiz", "forbidden")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("assignment", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("quiz", "forbidden")))

	m.Sweep("ok", 3, 10*time.Millisecond)
	m.Sweep("skipped", 0, 0)
	m.Sweep("ok", 0, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept))

	m.EventConsumed("task.status_changed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("task.status_changed")))

	m.PointsAwarded(155)
	assert.Equal(t, 1, testutil.CollectAndCount(m.points))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("quiz", "forbidden")
		m.PointsAwarded(10)
		m.Sweep("ok", 1, time.Second)
		m.EventConsumed("x")
	})
}
