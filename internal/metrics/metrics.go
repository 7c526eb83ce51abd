// Package metrics holds the Prometheus collectors of the api and worker processes.
// Collectors are registered on the Registerer passed to New; a nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "classmaster"

type Metrics struct {
	transitions   *prometheus.CounterVec
	points        prometheus.Histogram
	sweeps        *prometheus.CounterVec
	swept         prometheus.Counter
	sweepDuration prometheus.Histogram
	events        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Manual task status updates by category and outcome.",
		}, []string{"category", "outcome"}),
		points: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "points_awarded",
			Help:      "Points added to a leaderboard entry per scored completion.",
			Buckets:   []float64{0, 25, 50, 100, 125, 150, 175, 200},
		}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_sweeps_total",
			Help:      "Deadline sweep cycles by result.",
		}, []string{"result"}),
		swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_tasks_auto_completed_total",
			Help:      "Quiz tasks completed by the deadline sweeper.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deadline_sweep_duration_seconds",
			Help:      "Duration of one sweep statement.",
			Buckets:   prometheus.DefBuckets,
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_consumed_total",
			Help:      "Task events consumed by the worker, by type.",
		}, []string{"type"}),
	}
}

// Transition counts one manual update; outcome is "accepted" or the rejection kind.
func (m *Metrics) Transition(category, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) PointsAwarded(points int) {
	if m == nil {
		return
	}
	m.points.Observe(float64(points))
}

// Sweep records one cycle; result is "ok", "error" or "skipped".
func (m *Metrics) Sweep(result string, completed int, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	if result == "skipped" {
		return
	}
	m.swept.Add(float64(completed))
	m.sweepDuration.Observe(took.Seconds())
}

func (m *Metrics) EventConsumed(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}
