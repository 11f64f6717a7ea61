package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/dirsync/internal/app"
	"github.com/cuongbtq/dirsync/internal/config"
	"github.com/cuongbtq/dirsync/internal/job"
	"github.com/cuongbtq/dirsync/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	drainTag := flag.String("drain", "", "Run every runnable job of this tag in-process and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := app.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if *drainTag != "" {
		return drain(ctx, rt, *drainTag)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Runner:        rt.Executor,
		Broker:        rt.Rabbit,
		WorkerID:      cfg.Worker.ID,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
		stop()
	}

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// drain runs one tag to completion on this process, bypassing the broker
func drain(ctx context.Context, rt *app.Runtime, tag string) error {
	start := time.Now()
	calls, err := job.Drain(ctx, rt.Executor, tag)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to drain tag %s: %w", tag, err)
	}

	progress, err := job.ProgressOf(context.WithoutCancel(ctx), rt.Executor, tag)
	if err != nil {
		return fmt.Errorf("failed to count jobs of tag %s: %w", tag, err)
	}

	rt.Logger.Info("Tag drained",
		slog.String("tag", tag),
		slog.Int("calls", calls),
		slog.Int("total", progress.Total),
		slog.Int("finished", progress.Finished),
		slog.Int("failed", progress.Failed),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
