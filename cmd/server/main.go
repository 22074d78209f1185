package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cagopat/grayscaleToRgb/internal/app"
	"github.com/cagopat/grayscaleToRgb/internal/colorizer"
	"github.com/cagopat/grayscaleToRgb/internal/config"
	"github.com/cagopat/grayscaleToRgb/internal/dispatch"
	"github.com/cagopat/grayscaleToRgb/internal/domain"
	"github.com/cagopat/grayscaleToRgb/internal/logging"
	"github.com/cagopat/grayscaleToRgb/internal/ratelimit"
	"github.com/cagopat/grayscaleToRgb/internal/redis"
	"github.com/cagopat/grayscaleToRgb/internal/server"
	"github.com/cagopat/grayscaleToRgb/internal/store"
	"github.com/cagopat/grayscaleToRgb/internal/validate"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, stopSweeper context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopSweeper()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	var (
		counterStore ratelimit.CounterStore
		resultStore  domain.ResultStore
		healthChecks []server.HealthCheck
	)
	if cfg.RedisURL != "" {
		redisClient := setupRedis(context.Background(), cfg)
		defer func() { _ = redisClient.Close() }()

		counterStore = redis.NewCounterStore(redisClient)
		resultStore = redis.NewArtifactStore(redisClient, clock, cfg.ResultTTL)
		healthChecks = append(healthChecks, server.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		// Single-instance development mode: counters and artifacts live in
		// process memory and vanish on restart.
		slog.Warn("REDIS_URL not set, using in-memory stores")
		counterStore = ratelimit.NewMemoryCounterStore(clock)
		resultStore = store.NewMemoryResultStore(clock, cfg.ResultTTL)
	}

	limiter := ratelimit.NewLimiter(counterStore, clock, cfg.RateLimitWindow, cfg.MaxUploadsPerWindow, cfg.MaxFilesPerDay)

	inferenceClient := colorizer.NewClient(cfg.ColorizerAPIURL, cfg.InferenceTimeout)
	healthChecks = append(healthChecks, server.HealthCheck{
		Name:  "colorizer",
		Check: inferenceClient.Ping,
	})
	dispatcher := dispatch.New(inferenceClient, colorizer.Classify, dispatch.Options{
		PoolSize:   cfg.PoolSize,
		QueueDepth: cfg.QueueDepth,
		Retries:    cfg.InferenceRetries,
	})

	limits := validate.Limits{
		MaxFilesPerRequest: cfg.MaxFilesPerRequest,
		MaxBytesPerFile:    cfg.MaxUploadBytes,
		AcceptedTypes:      cfg.AcceptedTypes,
	}
	appSvc := app.NewService(limiter, dispatcher, resultStore, clock, limits)

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := app.NewSweeper(resultStore, clock, cfg.SweepInterval)
	go sweeper.Run(sweeperCtx)

	srv := server.NewServer(cfg, appSvc, resultStore, healthChecks)

	done := runGracefulShutdown(srv, stopSweeper)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
