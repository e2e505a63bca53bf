package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/infrastructure/http/response"
)

// BatchProcessor runs one claim-and-process pass over due jobs.
type BatchProcessor interface {
	ProcessDueBatch(ctx context.Context, limit int) (*jobs.BatchResult, error)
}

// ProcessHandler serves the endpoints that trigger a processing pass:
// a synchronous admin endpoint and an asynchronous internal one for
// schedulers that only need acknowledgement.
type ProcessHandler struct {
	processor      BatchProcessor
	internalSecret string
}

// NewProcessHandler creates the process-trigger handler. An empty secret
// disables the internal endpoint.
func NewProcessHandler(processor BatchProcessor, internalSecret string) *ProcessHandler {
	return &ProcessHandler{processor: processor, internalSecret: internalSecret}
}

type processRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Trigger runs a batch synchronously and reports the outcome. Admin only.
func (h *ProcessHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	limit := h.decodeLimit(w, r)
	if limit == 0 {
		return
	}

	result, err := h.processor.ProcessDueBatch(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.OK(w, map[string]any{
		"claimed":     result.Claimed,
		"completed":   result.Completed,
		"retried":     result.Retried,
		"dead_letter": result.DeadLetter,
		"cancelled":   result.Cancelled,
	})
}

// InternalTrigger authenticates via the shared internal secret and dispatches
// a batch asynchronously, acknowledging with 202 before the work runs.
func (h *ProcessHandler) InternalTrigger(w http.ResponseWriter, r *http.Request) {
	if h.internalSecret == "" {
		response.NotFound(w, "endpoint")
		return
	}

	presented := r.Header.Get("X-Internal-Secret")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.internalSecret)) != 1 {
		slog.WarnContext(r.Context(), "internal process trigger refused: bad secret")
		response.Unauthorized(w, "invalid internal secret")
		return
	}

	limit := h.decodeLimit(w, r)
	if limit == 0 {
		return
	}

	// The batch outlives the request; context.WithoutCancel detaches it from
	// the connection while keeping trace and log correlation.
	bgCtx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.processor.ProcessDueBatch(bgCtx, limit); err != nil {
			slog.ErrorContext(bgCtx, "async process batch failed", "error", err)
		}
	}()

	response.Accepted(w, map[string]any{"dispatched": true, "limit": limit})
}

// decodeLimit parses the optional request body and clamps the batch size.
// Returns 0 after writing an error response.
func (h *ProcessHandler) decodeLimit(w http.ResponseWriter, r *http.Request) int {
	req := processRequest{Limit: jobs.DefaultBatchLimit}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return 0
		}
	}
	if req.Limit < 1 {
		req.Limit = jobs.DefaultBatchLimit
	}
	if req.Limit > jobs.MaxBatchLimit {
		response.ValidationError(w, "limit", fmt.Sprintf("must be at most %d", jobs.MaxBatchLimit))
		return 0
	}
	return req.Limit
}
