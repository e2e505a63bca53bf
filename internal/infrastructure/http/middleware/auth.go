package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/application/auth"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/http/response"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	KeyID    uuid.UUID
	TenantID uuid.UUID
	Role     domain.APIKeyRole
}

// IdentityFrom extracts the authenticated identity from the context. The
// second return is false on unauthenticated paths.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity attaches an identity to the context. Exposed for handler tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Auth is HTTP middleware for API key authentication.
type Auth struct {
	authenticator *auth.Authenticator
}

// NewAuth creates a new auth middleware.
func NewAuth(authenticator *auth.Authenticator) *Auth {
	return &Auth{authenticator: authenticator}
}

// Validate checks the Authorization header ("Bearer <api-key>") and attaches
// the resulting identity to the request context.
func (a *Auth) Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			slog.WarnContext(r.Context(), "authentication failed: missing Authorization header",
				"path", r.URL.Path, "method", r.Method)
			response.Unauthorized(w, "missing Authorization header")
			return
		}

		rawKey, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			slog.WarnContext(r.Context(), "authentication failed: invalid Authorization header format",
				"path", r.URL.Path, "method", r.Method)
			response.Unauthorized(w, "invalid Authorization header format, expected: Bearer <token>")
			return
		}

		key, err := a.authenticator.ValidateAPIKey(r.Context(), rawKey)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				slog.WarnContext(r.Context(), "authentication failed: invalid API key",
					"path", r.URL.Path, "method", r.Method)
			} else {
				slog.ErrorContext(r.Context(), "authentication failed: unexpected error",
					"path", r.URL.Path, "method", r.Method, "error", err)
			}
			response.Unauthorized(w, "invalid or expired API key")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{
			KeyID:    key.ID,
			TenantID: key.TenantID,
			Role:     key.Role,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose identity does not carry the admin role.
// Must run after Validate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			response.Unauthorized(w, "missing authentication")
			return
		}
		if id.Role != domain.APIKeyRoleAdmin {
			slog.WarnContext(r.Context(), "admin endpoint refused",
				"path", r.URL.Path, "tenant_id", id.TenantID, "role", id.Role)
			response.Forbidden(w, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
