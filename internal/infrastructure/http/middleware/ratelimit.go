package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/costwarden/costwarden/internal/infrastructure/http/response"
)

// Limiter counts events in fixed windows. Implemented by the Redis-backed
// limiter in multi-replica deployments and an in-process fallback otherwise.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit caps requests per tenant per minute. Must run after Auth.Validate
// so the tenant id is available as the counter key. A limiter failure lets
// the request through: availability is preferred over strict limiting when
// the counter backend is down.
func RateLimit(limiter Limiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				response.Unauthorized(w, "missing authentication")
				return
			}

			allowed, err := limiter.Allow(r.Context(), "ratelimit:api:"+id.TenantID.String(), perMinute, time.Minute)
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					"tenant_id", id.TenantID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					"tenant_id", id.TenantID, "path", r.URL.Path)
				response.TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
