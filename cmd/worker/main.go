package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/visitscribe/internal/app"
	"github.com/timmy/visitscribe/internal/config"
	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("visitscribe-worker"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	once := flag.Bool("once", false, "Process at most one job and exit")
	simulate := flag.Bool("simulate", false, "Run the pipeline against fixtures instead of providers")
	intervalMs := flag.Int("interval", 5000, "Idle polling interval in milliseconds")
	workerID := flag.String("id", "", "Worker identity recorded on claims (default hostname-pid-random)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Error("Failed to load config")
		return 1
	}

	// Flags given on the command line override config.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "once":
			cfg.Worker.Once = *once
		case "simulate":
			cfg.Worker.Simulate = *simulate
		case "interval":
			cfg.Worker.IntervalMs = *intervalMs
		}
	})
	if cfg.Worker.IntervalMs <= 0 {
		appLogger.Errorf("Invalid interval: %d ms", cfg.Worker.IntervalMs)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = appLogger.WithContext(ctx)
	ctx = logger.SetComponent(ctx, "worker")

	a, err := app.Build(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Error("Failed to initialize application")
		return 1
	}
	defer a.Close()

	worker := a.NewWorker(app.Options{WorkerID: *workerID, Simulate: cfg.Worker.Simulate})

	appLogger.WithFields(logger.Fields{
		logger.FieldWorkerID: worker.ID(),
		"once":               cfg.Worker.Once,
		"simulate":           cfg.Worker.Simulate,
		"interval_ms":        cfg.Worker.IntervalMs,
	}).Info("Starting worker")

	if cfg.Worker.Once {
		return runOnce(ctx, a, worker)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Reconciler.Run(ctx, cfg.Worker.ReplayInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.CtxError(ctx, "Fallback reconciler stopped: %v", err)
		}
	}()

	start := time.Now()
	if err := worker.Run(ctx); err != nil {
		logger.CtxError(ctx, "Worker stopped: %v", err)
	}
	<-done

	logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).
		Info(ctx, "Worker exited")
	return 0
}

// runOnce processes at most one job, then drains the fallback log once.
// A failed job still exits 0; only a queue access error exits 1.
func runOnce(ctx context.Context, a *app.App, worker *service.Worker) int {
	processed, err := worker.RunOnce(ctx)
	if err != nil {
		logger.CtxError(ctx, "Queue access failed: %v", err)
		return 1
	}
	if !processed {
		logger.CtxInfo(ctx, "No claimable job")
	}

	if _, err := a.Reconciler.Replay(ctx); err != nil {
		logger.CtxWarn(ctx, "Fallback replay failed: %v", err)
	}
	return 0
}
