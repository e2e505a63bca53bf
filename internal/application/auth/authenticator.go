// Package auth validates API keys and tracks their usage.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/keygen"
)

// Default configuration values.
const (
	DefaultOperationTimeout = 5 * time.Second
	DefaultUpdateQueueSize  = 1000
)

// Config holds configuration for the Authenticator.
type Config struct {
	OperationTimeout time.Duration // Timeout for storage operations
	UpdateQueueSize  int           // Buffer size for last_used_at updates
}

// lastUsedUpdate holds information for updating an API key's last_used_at
// timestamp.
type lastUsedUpdate struct {
	keyID  uuid.UUID
	usedAt time.Time
}

// Authenticator handles API key authentication. Successful validations queue
// a last_used_at update onto a buffered channel processed by one background
// worker, so the hot path never waits on that write.
type Authenticator struct {
	repo             Repository
	appCtx           context.Context // Application context, cancelled on shutdown
	lastUsedUpdates  chan lastUsedUpdate
	shutdownChan     chan struct{}
	shutdownOnce     sync.Once
	wg               sync.WaitGroup
	operationTimeout time.Duration
}

// NewAuthenticator creates a new authenticator and starts the background
// worker for last_used_at updates. The ctx parameter should be an
// application-level context that gets cancelled on shutdown. Zero
// OperationTimeout means no timeout; zero UpdateQueueSize gets the default
// since an unbuffered channel would block the hot path.
func NewAuthenticator(ctx context.Context, repo Repository, config Config) *Authenticator {
	if config.OperationTimeout < 0 {
		config.OperationTimeout = DefaultOperationTimeout
	}
	if config.UpdateQueueSize <= 0 {
		config.UpdateQueueSize = DefaultUpdateQueueSize
	}

	a := &Authenticator{
		repo:             repo,
		appCtx:           ctx,
		lastUsedUpdates:  make(chan lastUsedUpdate, config.UpdateQueueSize),
		shutdownChan:     make(chan struct{}),
		operationTimeout: config.OperationTimeout,
	}

	a.wg.Add(1)
	go a.processLastUsedUpdates()

	return a
}

// processLastUsedUpdates is the background worker draining the update queue.
func (a *Authenticator) processLastUsedUpdates() {
	defer a.wg.Done()

	for {
		select {
		case update := <-a.lastUsedUpdates:
			// cancel is called explicitly rather than deferred: defer in a
			// loop holds every context until function exit.
			ctx, cancel := a.opContext(a.appCtx)
			if err := a.repo.TouchAPIKeyLastUsed(ctx, update.keyID, update.usedAt); err != nil {
				slog.WarnContext(ctx, "failed to update api key last_used_at",
					slog.String("key_id", update.keyID.String()),
					slog.String("error", err.Error()))
			}
			cancel()

		case <-a.shutdownChan:
			// Drain remaining updates before exiting. appCtx is already
			// cancelled at this point, so the drain runs on a background
			// context bounded by the operation timeout.
			for {
				select {
				case update := <-a.lastUsedUpdates:
					ctx, cancel := a.opContext(context.Background())
					_ = a.repo.TouchAPIKeyLastUsed(ctx, update.keyID, update.usedAt)
					cancel()
				default:
					return
				}
			}
		}
	}
}

func (a *Authenticator) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	if a.operationTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.operationTimeout)
}

// Shutdown signals the worker to stop and waits for it to finish draining
// queued updates, bounded by the context deadline. Idempotent.
func (a *Authenticator) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		close(a.shutdownChan)

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = fmt.Errorf("shutdown timeout: %w", ctx.Err())
		}
	})
	return shutdownErr
}

// ValidateAPIKey validates a raw API key and returns the key record if valid.
// Every failure mode maps to domain.ErrUnauthorized so callers cannot
// distinguish an unknown key from a wrong one.
func (a *Authenticator) ValidateAPIKey(ctx context.Context, rawKey string) (*domain.APIKey, error) {
	providedHash := keygen.HashKey(rawKey)

	opCtx, cancel := a.opContext(ctx)
	defer cancel()

	key, err := a.repo.FindAPIKeyByHash(opCtx, providedHash)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}

	// The lookup already matched on the hash; the constant-time comparison
	// guards against a repository returning a near-miss row.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(providedHash)) != 1 {
		return nil, domain.ErrUnauthorized
	}

	select {
	case a.lastUsedUpdates <- lastUsedUpdate{keyID: key.ID, usedAt: time.Now().UTC()}:
	default:
		// Queue full, drop the update. last_used_at is advisory.
		slog.WarnContext(ctx, "dropped last_used_at update due to full queue",
			slog.String("key_id", key.ID.String()))
	}

	return key, nil
}

// CreateAPIKey generates a key for the tenant, stores its hash, and returns
// the raw key. This is the only time the raw key is visible.
func CreateAPIKey(ctx context.Context, repo Repository, tenantID uuid.UUID, role domain.APIKeyRole) (string, *domain.APIKey, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("invalid api key role %q", role)
	}

	rawKey, err := keygen.GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	key := &domain.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Role:      role,
		KeyHash:   keygen.HashKey(rawKey),
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}
	return rawKey, key, nil
}
