package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"classmaster/internal/api"
	"classmaster/internal/config"
	"classmaster/internal/events"
	"classmaster/internal/httpmiddleware"
	"classmaster/internal/leaderboard"
	"classmaster/internal/logging"
	"classmaster/internal/metrics"
	"classmaster/internal/queue"
	"classmaster/internal/scoring"
	"classmaster/internal/store"
	"classmaster/internal/sweeper"
	"classmaster/internal/task"
)

func main() {
	cfg := config.Load()
	logger := logging.New("api", cfg.LogLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db.Client); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warnf("redis not reachable at %s, rate limiting falls back to memory", cfg.RedisAddr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		// the channel queue is process-local, consume it here
		go func() {
			_ = events.NewConsumer(m, logging.New("events", cfg.LogLevel)).Run(ctx, mem)
		}()
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	}

	taskRepo := task.NewRepository(db.Client)
	tasks := task.NewService(taskRepo, scoring.NewEngine(cfg.CompoundBase), logger).
		WithEvents(q).
		WithMetrics(m)
	board := leaderboard.NewService(leaderboard.NewRepository(db.Client), logger)
	sweep := sweeper.New(taskRepo, cfg.SweepInterval, logging.New("sweeper", cfg.LogLevel)).WithMetrics(m)

	if !cfg.CompoundBase {
		logger.Info("scoring awards only the adjustment and bonus above the base")
	}

	limiter := httpmiddleware.NewFallback(
		httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin),
		httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		logger,
	)

	r := api.NewRouter(api.Deps{
		Tasks:       tasks,
		Leaderboard: board,
		Sweeper:     sweep,
		Limiter:     limiter,
		Health: map[string]api.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Gatherer:      reg,
		JWTSigningKey: cfg.JWTSigningKey,
		JWTIssuer:     cfg.JWTIssuer,
		Log:           logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server forced shutdown: %v", err)
	}
	logger.Info("server exited")
	return nil
}
