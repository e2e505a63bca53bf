// Package http assembles the chi router and HTTP server for the API binary.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/costwarden/costwarden/internal/application/auth"
	"github.com/costwarden/costwarden/internal/infrastructure/http/handler"
	mw "github.com/costwarden/costwarden/internal/infrastructure/http/middleware"
)

// Default configuration values for the HTTP server.
const (
	DefaultHost              = "" // all interfaces
	DefaultPort              = "8080"
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultMaxBodyBytes      = 1 << 20
)

// ServerConfig holds configuration for the HTTP server and router.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	// RateLimitPerMinute caps authenticated requests per tenant. Zero
	// disables request rate limiting.
	RateLimitPerMinute int
}

func (cfg *ServerConfig) applyDefaults() {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Pinger reports backend health for the readiness endpoint. Satisfied by
// pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies carries everything the router needs.
type Dependencies struct {
	Authenticator *auth.Authenticator
	Jobs          *handler.JobHandler
	Process       *handler.ProcessHandler
	DB            Pinger

	// RateLimiter backs the per-tenant request cap. Nil disables limiting.
	RateLimiter mw.Limiter
}

// APIServer wraps the HTTP server with router and all HTTP concerns.
type APIServer struct {
	server *http.Server
}

// NewAPIServer creates the HTTP server with router and middleware configured.
func NewAPIServer(deps Dependencies, cfg ServerConfig) *APIServer {
	cfg.applyDefaults()

	router := setupRouter(deps, cfg)
	return &APIServer{
		server: &http.Server{
			Addr:              cfg.Host + ":" + cfg.Port,
			Handler:           otelhttp.NewHandler(router, "costwarden.api"),
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

func setupRouter(deps Dependencies, cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(mw.MaxBodyBytes(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusOK, `{"status":"ok"}`)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "error", err)
			writeStatus(w, r, http.StatusServiceUnavailable, `{"status":"unavailable"}`)
			return
		}
		writeStatus(w, r, http.StatusOK, `{"status":"ready"}`)
	})

	// Internal surface: authenticated by shared secret, not API keys.
	r.Post("/internal/jobs/process", deps.Process.InternalTrigger)

	r.Route("/v1", func(r chi.Router) {
		authMw := mw.NewAuth(deps.Authenticator)
		r.Use(authMw.Validate)
		if deps.RateLimiter != nil && cfg.RateLimitPerMinute > 0 {
			r.Use(mw.RateLimit(deps.RateLimiter, cfg.RateLimitPerMinute))
		}

		r.Post("/jobs", deps.Jobs.Enqueue)
		r.Get("/jobs", deps.Jobs.List)
		r.Get("/jobs/status", deps.Jobs.StatusCounts)
		r.Post("/jobs/{id}/cancel", deps.Jobs.Cancel)
		r.Delete("/jobs/{id}", deps.Jobs.SoftDelete)

		r.Route("/admin", func(r chi.Router) {
			r.Use(mw.RequireAdmin)

			r.Get("/jobs/dead-letter", deps.Jobs.ListDeadLetter)
			r.Post("/jobs/dead-letter/{id}/retry", deps.Jobs.RetryDeadLetter)
			r.Delete("/jobs/dead-letter/{id}", deps.Jobs.DiscardDeadLetter)
			r.Delete("/jobs/{id}", deps.Jobs.HardDelete)
			r.Post("/jobs/process", deps.Process.Trigger)
		})
	})

	return r
}

func writeStatus(w http.ResponseWriter, r *http.Request, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.ErrorContext(r.Context(), "failed to write status response", "error", err)
	}
}

// Start starts the HTTP server.
func (s *APIServer) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server. The context bounds how long
// outstanding requests may run.
func (s *APIServer) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}
