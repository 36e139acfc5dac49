package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/wall-e/internal/auth"
	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/dispatch"
	"github.com/af-corp/wall-e/internal/lock"
	"github.com/af-corp/wall-e/internal/policy"
	"github.com/af-corp/wall-e/internal/queue"
	"github.com/af-corp/wall-e/internal/ratelimit"
	"github.com/af-corp/wall-e/internal/telemetry"
	"github.com/af-corp/wall-e/internal/vcs"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := telemetry.NewLogger(cfg.Telemetry, os.Stdout)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (service tokens and postgres locks will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addresses,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis not reachable (webhooks cannot be queued)", "error", err)
	} else {
		logger.Info("redis connected")
	}

	metrics := telemetry.NewMetrics()

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

	evaluator := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy }, logger)
	if evaluator.Enabled() {
		if err := evaluator.Load(); err != nil {
			logger.Error("failed to load command policies", "error", err)
			os.Exit(1)
		}
	}
	loader.OnReload(evaluator.Reload)

	limiter := ratelimit.NewLimiter(rdb)
	budget := ratelimit.NewBudgetTracker(rdb)

	dispatcher := dispatch.New(dispatch.Deps{
		Secret:   []byte(cfg.GitHub.WebhookSecret),
		Prefix:   cfg.GitHub.CommandPrefix,
		Queue:    queue.NewProducer(rdb, cfg.Queue.Stream, cfg.Queue.MaxLen, logger),
		Locks:    locks,
		VCS:      app,
		Policy:   evaluator,
		Throttle: ratelimit.NewCommandGuard(limiter, budget, cfg.RateLimit, metrics),
		Metrics:  metrics,
		Logger:   logger,
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	// Unauthenticated routes
	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	dispatcher.Register(r)

	// Lock actor API, for workers that use the http lock backend
	if cfg.Lock.Backend == "http" {
		logger.Info("lock backend is http, lock actor API not served by this instance")
	} else {
		tokens := auth.ChainStore{
			auth.NewStaticTokenStore(cfg.Lock.AuthToken),
			auth.NewCachedTokenStore(dbPool, rdb),
		}
		actor := lock.NewHandler(locks, metrics, logger).Routes()
		r.Mount("/locks", auth.Middleware(tokens)(
			ratelimit.Middleware(limiter, cfg.RateLimit.ActorRequestsPerMinute, metrics)(actor),
		))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "version", version, "lock_backend", cfg.Lock.Backend)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
