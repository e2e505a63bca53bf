package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/application/scheduler"
	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/bootstrap"
	"github.com/costwarden/costwarden/internal/config"
	"github.com/costwarden/costwarden/internal/infrastructure/persistence/postgres"
	"github.com/costwarden/costwarden/pkg/observability"
)

const serviceName = "costwarden-worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown tracer provider", "error", err)
		}
	}()

	mp, err := observability.InitMeterProvider(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown meter provider", "error", err)
		}
	}()

	slog.InfoContext(ctx, "starting costwarden worker", "env", cfg.Environment,
		"poll_interval", cfg.PollInterval, "batch", cfg.MaxJobsPerBatch)

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Database.ConnectionString(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()
	store.SetWebhookMaxAttempts(cfg.WebhookMaxAttempts)

	collab, err := bootstrap.NewCollaborators(ctx, cfg.Cloud, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to build collaborators: %w", err)
	}
	defer func() {
		if err := collab.Close(); err != nil {
			slog.Error("failed to close collaborators", "error", err)
		}
	}()

	orchestrator := bootstrap.NewOrchestrator(store, collab, zombie.Config{
		PluginTimeout: cfg.ZombiePluginTimeout(),
		Concurrency:   int64(cfg.ZombieScanConcurrency),
	})
	registry := bootstrap.BuildRegistry(store, collab, orchestrator)
	processor := jobs.NewProcessor(store, postgres.NewSessionFactory(store.Pool()), registry, jobs.ProcessorConfig{
		JobTimeout:  cfg.JobTimeout(),
		BackoffBase: cfg.BackoffBase(),
	})

	var wg sync.WaitGroup

	// Cancellation listener: turns NOTIFY events into in-flight aborts so a
	// cancel does not have to wait for the running handler to finish.
	cancellations, err := store.SubscribeCancellations(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to cancellations: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for id := range cancellations {
			if processor.CancelInflight(id) {
				slog.InfoContext(ctx, "aborted in-flight job", "job_id", id)
			}
		}
	}()

	if cfg.SchedulerEnabled {
		sched := scheduler.New(store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Start(ctx); err != nil {
				slog.ErrorContext(ctx, "scheduler stopped with error", "error", err)
			}
		}()
	}

	pollLoop(ctx, processor, cfg)

	// The poll loop exits on ctx cancellation; the listener channel closes
	// with it and the scheduler drains its in-flight sweeps.
	wg.Wait()
	slog.Info("worker shut down gracefully")
	return nil
}

// pollLoop claims and processes due jobs until ctx is cancelled. An idle tick
// is silent; errors are logged and the loop keeps going.
func pollLoop(ctx context.Context, processor *jobs.Processor, cfg *config.WorkerConfig) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := processor.ProcessDueBatch(ctx, cfg.MaxJobsPerBatch)
			if err != nil {
				slog.ErrorContext(ctx, "batch processing failed", "error", err)
				continue
			}
			if result.Claimed > 0 {
				slog.InfoContext(ctx, "batch processed",
					"claimed", result.Claimed,
					"completed", result.Completed,
					"retried", result.Retried,
					"dead_letter", result.DeadLetter,
					"cancelled", result.Cancelled)
			}
		}
	}
}
