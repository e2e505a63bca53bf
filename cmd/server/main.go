package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/costwarden/costwarden/internal/application/auth"
	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/application/zombie"
	"github.com/costwarden/costwarden/internal/bootstrap"
	"github.com/costwarden/costwarden/internal/config"
	httpserver "github.com/costwarden/costwarden/internal/infrastructure/http"
	"github.com/costwarden/costwarden/internal/infrastructure/http/handler"
	"github.com/costwarden/costwarden/internal/infrastructure/persistence/postgres"
	"github.com/costwarden/costwarden/pkg/observability"
)

const serviceName = "costwarden-api"

func main() {
	if err := run(); err != nil {
		// slog may not be initialized if config loading fails, so print
		// directly to stderr.
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Root context for all normal operations, cancelled on SIGTERM/SIGINT.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Exporter endpoint and headers come from the standard OTEL_* env vars.
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

	slog.InfoContext(ctx, "starting costwarden API", "env", cfg.Environment)

	connStr := cfg.Database.ConnectionString()
	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             connStr,
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

	slog.InfoContext(ctx, "storage initialized", "url", maskPassword(connStr))

	authenticator := auth.NewAuthenticator(ctx, store, auth.Config{})
	slog.InfoContext(ctx, "API key authentication enabled")

	// The manual and internal process endpoints run the same registry as the
	// worker, so ad-hoc triggers execute real handlers.
	collab, err := bootstrap.NewCollaborators(ctx, cfg.Cloud, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to build collaborators: %w", err)
	}
	defer func() {
		if err := collab.Close(); err != nil {
			slog.Error("failed to close collaborators", "error", err)
		}
	}()

	orchestrator := bootstrap.NewOrchestrator(store, collab, zombie.Config{})
	registry := bootstrap.BuildRegistry(store, collab, orchestrator)
	processor := jobs.NewProcessor(store, postgres.NewSessionFactory(store.Pool()), registry, jobs.ProcessorConfig{})

	deps := httpserver.Dependencies{
		Authenticator: authenticator,
		Jobs:          handler.NewJobHandler(store),
		Process:       handler.NewProcessHandler(processor, cfg.InternalAPISecret),
		DB:            store.Pool(),
	}
	serverCfg := httpserver.ServerConfig{
		Port:         cfg.HTTPPort,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	if cfg.RateLimitEnabled {
		deps.RateLimiter = collab.Limiter
		serverCfg.RateLimitPerMinute = cfg.RateLimitPerMinute
	}

	server := httpserver.NewAPIServer(deps, serverCfg)

	errResult := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "HTTP server shutdown timed out", "error", err)
		} else {
			slog.InfoContext(shutdownCtx, "HTTP server shutdown complete")
		}

		// Drains pending last_used_at updates.
		if err := authenticator.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "authenticator shutdown timeout", "error", err)
		} else {
			slog.InfoContext(shutdownCtx, "authenticator shutdown complete")
		}

		return nil
	case err := <-errResult:
		return err
	}
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "(unparseable connection string)"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
