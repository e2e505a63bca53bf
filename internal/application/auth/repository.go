package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/domain"
)

// Repository defines storage operations for authentication.
type Repository interface {
	// FindAPIKeyByHash retrieves an API key by the SHA-256 digest of the raw
	// credential. Returns domain.ErrAPIKeyNotFound when nothing matches.
	FindAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)

	// CreateAPIKey stores a new API key record. Only the hash is persisted.
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error

	// TouchAPIKeyLastUsed advances the key's last_used_at timestamp. Updates
	// carrying an older timestamp than the stored one are a no-op.
	TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}
