package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tassa-soggiorno/tassa/internal/app"
	"github.com/tassa-soggiorno/tassa/internal/calc"
	"github.com/tassa-soggiorno/tassa/internal/export"
	"github.com/tassa-soggiorno/tassa/internal/observability"
	"github.com/tassa-soggiorno/tassa/internal/platform/cache"
	"github.com/tassa-soggiorno/tassa/jobs"
	"github.com/tassa-soggiorno/tassa/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	runCache := cache.NewVersioned(redisClient, calc.CacheNamespace, cfg.CacheTTL)
	if err := runCache.ListenForInvalidation(ctx, func(version int64) {
		logger.Info("tax run cache invalidated", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	wj, err := newWorkerJobs(cfg, logger, runCache)
	if err != nil {
		logger.Error("init worker jobs", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsSrv := metricsServer(cfg.WorkerMetricsAddr, wj.metrics)
		go func() {
			logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("worker metrics shutdown", slog.Any("error", err))
			}
		}()
	}

	cleanupTask, err := jobs.NewExportCleanupTask(jobs.ExportCleanupPayload{})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExportPDF, Handler: wj.export.Handle},
			{Type: jobs.TaskExportCleanup, Handler: wj.cleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// workerJobs bundles the task handlers with the registry they report to.
type workerJobs struct {
	metrics *observability.Metrics
	export  *calc.ExportJob
	cleanup *jobs.ExportCleanupJob
}

// newWorkerJobs builds the export and cleanup handlers. A nil runCache
// disables result caching.
func newWorkerJobs(cfg *app.Config, logger *slog.Logger, runCache *cache.Versioned) (*workerJobs, error) {
	defaults, err := cfg.DefaultPolicy()
	if err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics()
	service := calc.NewService(calc.Config{
		Defaults:   defaults,
		Cache:      runCache,
		Registerer: metrics.Registerer(),
		Logger:     logger,
	})
	renderer, err := export.NewRenderer(report.NewClient(cfg.GotenbergURL))
	if err != nil {
		return nil, err
	}
	return &workerJobs{
		metrics: metrics,
		export: calc.NewExportJob(calc.ExportJobConfig{
			Service:    service,
			Renderer:   renderer,
			StorageDir: cfg.ExportStorageDir,
			Logger:     logger,
			Metrics:    metrics.Jobs(),
		}),
		cleanup: jobs.NewExportCleanupJob(cfg.ExportStorageDir, cfg.ExportRetention, logger, metrics.Jobs()),
	}, nil
}

// metricsServer exposes the worker registry for scraping.
func metricsServer(addr string, metrics *observability.Metrics) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
