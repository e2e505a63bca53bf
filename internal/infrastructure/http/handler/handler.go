// Package handler adapts HTTP requests to job queue operations.
package handler

import (
	"github.com/costwarden/costwarden/internal/application/jobs"
)

// JobHandler serves the tenant-facing and admin job queue endpoints.
type JobHandler struct {
	store jobs.Store
}

// NewJobHandler creates a new job queue HTTP handler.
func NewJobHandler(store jobs.Store) *JobHandler {
	return &JobHandler{store: store}
}
