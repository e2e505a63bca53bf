package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/costwarden/costwarden/internal/domain"
)

// API key operations. These run on the pool directly: the key lookup is what
// authenticates a request, so it necessarily precedes any tenant context.
// The api_keys table is on the internal-statement allowlist for the same
// reason.

// FindAPIKeyByHash retrieves an API key by the SHA-256 digest of the
// presented credential.
func (s *Store) FindAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var k domain.APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, role, key_hash, created_at, last_used_at
		FROM api_keys WHERE key_hash = $1`, keyHash).Scan(
		&k.ID, &k.TenantID, &k.Role, &k.KeyHash, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return &k, nil
}

// CreateAPIKey stores a new key record. Only the hash is persisted.
func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	if !key.Role.Valid() {
		return fmt.Errorf("invalid API key role %q", key.Role)
	}
	id := key.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, tenant_id, role, key_hash)
		VALUES ($1, $2, $3, $4)`,
		id, key.TenantID, key.Role, key.KeyHash); err != nil {
		if isUniqueViolation(err) {
			// 256-bit keys do not collide; a duplicate hash means the same
			// key record was submitted twice.
			return fmt.Errorf("api key already exists: %w", err)
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}
	key.ID = id
	return nil
}

// TouchAPIKeyLastUsed advances the key's last-used timestamp. The update is
// monotonic: an older timestamp from a racing request is a no-op, not an
// error.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET last_used_at = $2
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to update API key last used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM api_keys WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check API key existence: %w", err)
		}
		if !exists {
			return domain.ErrAPIKeyNotFound
		}
	}
	return nil
}
