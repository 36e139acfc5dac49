package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/gateway"
	"github.com/af-corp/wall-e/internal/lock"
	"github.com/af-corp/wall-e/internal/queue"
	"github.com/af-corp/wall-e/internal/ratelimit"
	"github.com/af-corp/wall-e/internal/registry"
	"github.com/af-corp/wall-e/internal/telemetry"
	"github.com/af-corp/wall-e/internal/vcs"
	"github.com/af-corp/wall-e/internal/worker"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	// The worker builds everything once; restart it to pick up config changes.
	cfg := loader.Config()

	logger := telemetry.NewLogger(cfg.Telemetry, os.Stdout).With("component", "worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := registry.New(loader.Models())
	if err != nil {
		logger.Error("invalid model catalog", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addresses,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis not reachable", "error", err)
		os.Exit(1)
	}

	dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	locks, err := lock.NewStore(cfg.Lock, rdb, dbPool)
	if err != nil {
		logger.Error("failed to build lock store", "error", err)
		os.Exit(1)
	}

	app, err := vcs.NewApp(cfg.GitHub, http.DefaultTransport)
	if err != nil {
		logger.Error("failed to configure github app", "error", err)
		os.Exit(1)
	}

	consumerName := cfg.Queue.Consumer
	if host, err := os.Hostname(); err == nil && consumerName == "" {
		consumerName = host
	}
	consumer, err := queue.NewConsumer(ctx, rdb, queue.ConsumerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  consumerName,
		BatchSize: cfg.Queue.BatchSize,
		Block:     cfg.Queue.Block,
		MinIdle:   cfg.Queue.DeliveryTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create queue consumer", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.NewMetrics()
	gw := gateway.New(catalog, cfg.Relay, &http.Client{Timeout: cfg.Relay.Timeout}, metrics, logger)

	processor := worker.NewProcessor(worker.Deps{
		Config:  cfg.Worker,
		Prefix:  cfg.GitHub.CommandPrefix,
		Catalog: catalog,
		Gateway: gw,
		Locks:   locks,
		VCS:     app,
		Budget:  ratelimit.NewBudgetTracker(rdb),
		Metrics: metrics,
		Logger:  logger,
	})
	runner := worker.NewRunner(consumer, processor, worker.RunnerConfig{
		Concurrency:     cfg.Worker.Concurrency,
		JobTimeout:      cfg.Worker.JobTimeout,
		ReclaimInterval: cfg.Queue.ReclaimInterval,
	}, logger)

	// Health and metrics on a side port
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("worker starting",
		"version", version,
		"stream", cfg.Queue.Stream,
		"group", cfg.Queue.Group,
		"consumer", consumerName,
		"lock_backend", cfg.Lock.Backend,
		"providers", catalog.Priority(),
	)
	if err := runner.Run(ctx); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
