package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies a cloud platform a tenant has connected.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return true
	}
	return false
}

// Credentials is the decrypted credential material stored on a connection
// row. Keys are provider-specific (access_key_id, tenant_id, project_id, ...).
type Credentials map[string]string

// Get returns the named credential or empty string.
func (c Credentials) Get(key string) string {
	return c[key]
}

// CloudConnection is a tenant's link to one cloud account, carrying the
// credentials the detectors and cost adapters authenticate with.
type CloudConnection struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Provider    Provider
	Name        string
	Region      string // optional default region
	Credentials Credentials
	Status      string // active, disabled, error
	CreatedAt   time.Time
}

// CloudAccount is the ingestion-facing identity of a connection, upserted by
// the cost_ingestion handler and keyed by connection id.
type CloudAccount struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	ConnectionID      uuid.UUID
	Provider          Provider
	ExternalAccountID string
	Name              string
	LastIngestedAt    *time.Time
}
