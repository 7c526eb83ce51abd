// Package sweeper auto-completes pending quiz tasks once their announcement deadline has
// passed. It is the only writer that moves quiz tasks.
package sweeper

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"

	"classmaster/internal/metrics"
)

// Store is the single statement the sweep needs.
type Store interface {
	CompleteExpiredQuizzes(ctx context.Context, now time.Time) (int, error)
}

type Sweeper struct {
	store    Store
	locker   Locker
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *log.Logger
}

func New(store Store, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		timeout:  30 * time.Second,
		now:      time.Now,
		log:      logger,
	}
}

// WithLocker makes each scheduled cycle take l first.
func (s *Sweeper) WithLocker(l Locker) *Sweeper {
	s.locker = l
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.Metrics) *Sweeper {
	s.metrics = m
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// RunOnce completes every pending quiz task whose deadline is before now and returns how
// many were completed. Calling it again without time passing completes nothing.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.store.CompleteExpiredQuizzes(ctx, s.now().UTC())
	if err != nil {
		s.metrics.Sweep("error", 0, time.Since(start))
		return 0, err
	}
	s.metrics.Sweep("ok", n, time.Since(start))
	if n > 0 {
		s.log.Infof("auto-completed %d quiz tasks past deadline", n)
	}
	return n, nil
}

// Run sweeps immediately and then on every tick until ctx is done. A sweep already
// running when ctx ends is allowed to finish.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Infof("deadline sweeper started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("deadline sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) cycle(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.timeout)
	defer cancel()

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx)
		switch {
		case err != nil:
			s.log.Warnf("sweep lock unavailable, sweeping anyway: %v", err)
		case !ok:
			s.log.Debug("sweep lock held by another worker, skipping cycle")
			s.metrics.Sweep("skipped", 0, 0)
			return
		default:
			defer func() {
				if err := release(ctx); err != nil {
					s.log.Warnf("sweep lock release: %v", err)
				}
			}()
		}
	}

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Errorf("deadline sweep failed, retrying next tick: %v", err)
	}
}
