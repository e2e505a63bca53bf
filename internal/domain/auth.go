package domain

import (
	"time"

	"github.com/google/uuid"
)

// APIKeyRole controls which job operations a key may perform.
type APIKeyRole string

const (
	// APIKeyRoleMember may enqueue the user-facing job subset and read its
	// tenant's jobs.
	APIKeyRoleMember APIKeyRole = "member"
	// APIKeyRoleAdmin may additionally enqueue any job type, drive the dead
	// letter queue and trigger batch processing.
	APIKeyRoleAdmin APIKeyRole = "admin"
)

// Valid reports whether the role is in the closed set.
func (r APIKeyRole) Valid() bool {
	return r == APIKeyRoleMember || r == APIKeyRoleAdmin
}

// APIKey is a tenant-scoped credential. Only the SHA-256 digest of the raw
// key is stored; the raw key is shown once at creation.
type APIKey struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Role       APIKeyRole
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
