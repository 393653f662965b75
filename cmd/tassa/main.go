package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tassa-soggiorno/tassa/cmd/tassa/cli"
	"github.com/tassa-soggiorno/tassa/internal/app"
	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/calc"
	calchttp "github.com/tassa-soggiorno/tassa/internal/calc/http"
	"github.com/tassa-soggiorno/tassa/internal/export"
	"github.com/tassa-soggiorno/tassa/internal/observability"
	"github.com/tassa-soggiorno/tassa/internal/platform/cache"
	"github.com/tassa-soggiorno/tassa/jobs"
	"github.com/tassa-soggiorno/tassa/report"
)

const usage = `usage: tassa [serve | calc [flags] | jobs status|cleanup | cache invalidate]`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return serve()
	case "calc":
		return runCalc(args)
	case "jobs":
		return runJobs(args)
	case "cache":
		return runCache(args)
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func runCalc(args []string) int {
	opts, err := cli.ParseCalcFlags(args, os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return cli.ExitOK
		}
		return cli.ExitFailure
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "calc: load config: %v\n", err)
		return cli.ExitFailure
	}
	defaults, err := cfg.DefaultPolicy()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "calc: %v\n", err)
		return cli.ExitFailure
	}
	opts.Defaults = defaults
	return cli.CalcCommand(context.Background(), opts)
}

func runJobs(args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: load config: %v\n", err)
		return 1
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch args[0] {
	case "status":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs status: %v\n", err)
			return 1
		}
		cli.RenderQueueStats(os.Stdout, stats)
		failed, err := jobsCLI.ListFailedExports(ctx, 10)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs status: %v\n", err)
			return 1
		}
		for _, task := range failed {
			_, _ = fmt.Fprintf(os.Stdout, "failed export %s: %s\n", task.ID, task.LastErr)
		}
	case "cleanup":
		info, err := jobsCLI.TriggerCleanup(ctx, 0)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs cleanup: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	return 0
}

func runCache(args []string) int {
	if len(args) != 1 || args[0] != "invalidate" {
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "cache: load config: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		return 1
	}
	defer func() { _ = client.Close() }()
	service := calc.NewService(calc.Config{Cache: cache.NewVersioned(client, calc.CacheNamespace, cfg.CacheTTL)})
	if err := service.Invalidate(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "cache invalidate: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(os.Stdout, "tax run cache invalidated")
	return 0
}

func serve() int {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	logger := app.NewLogger(cfg)

	defaults, err := cfg.DefaultPolicy()
	if err != nil {
		logger.Error("default tax policy", slog.Any("error", err))
		return 1
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	runs := cache.NewVersioned(redisClient, calc.CacheNamespace, cfg.CacheTTL)
	if err := runs.ListenForInvalidation(ctx, func(version int64) {
		logger.Info("tax run cache invalidated", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	service := calc.NewService(calc.Config{
		Defaults:   defaults,
		Cache:      runs,
		Registerer: metrics.Registerer(),
		Logger:     logger,
	})

	reportClient := report.NewClient(cfg.GotenbergURL)
	renderer, err := export.NewRenderer(reportClient)
	if err != nil {
		logger.Error("init tax report renderer", slog.Any("error", err))
		return 1
	}
	preview := func(ctx context.Context) (string, error) {
		res, err := service.Calculate(ctx, calc.Request{Title: "Tassa di soggiorno (esempio)", Rows: booking.SampleRows()})
		if err != nil {
			return "", err
		}
		return renderer.HTML(res.Document)
	}
	reportHandler := report.NewHandler(reportClient, preview, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Metrics:       metrics,
		TaxHandler:    calchttp.NewHandler(logger, service, renderer, queue),
		ReportHandler: reportHandler,
		JobHandler:    jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}
