package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classmaster/internal/config"
	"classmaster/internal/events"
	"classmaster/internal/logging"
	"classmaster/internal/metrics"
	"classmaster/internal/queue"
	"classmaster/internal/store"
	"classmaster/internal/sweeper"
	"classmaster/internal/task"
)

// Worker runs the deadline sweeper and consumes task events.
func main() {
	cfg := config.Load()
	logger := logging.New("worker", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func run(cfg config.App, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sweep := sweeper.New(task.NewRepository(db.Client), cfg.SweepInterval, logging.New("sweeper", cfg.LogLevel)).
		WithLocker(sweeper.NewRedisLocker(redisClient.Client, cfg.SweepLockKey, cfg.SweepLockTTL)).
		WithMetrics(m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep.Run(ctx)
	}()

	if cfg.QueueBackend == "memory" {
		logger.Warn("QUEUE_BACKEND=memory: task events are consumed inside the api process")
	} else {
		consumer := events.NewConsumer(m, logger)
		q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx, q); err != nil {
				logger.Errorf("event consumer: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !db.Healthy(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics on :%s", cfg.MetricsPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	logger.Info("worker started")
	<-ctx.Done()
	logger.Info("shutdown signal received, waiting for in-flight sweep")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
	return nil
}
