package jobs

import (
	"context"

	"github.com/costwarden/costwarden/internal/domain"
)

// Handler executes one job type. Implementations are stateless with respect
// to each other and must be idempotent: a worker may crash after the handler
// succeeded but before the completed write committed, in which case the job
// runs again.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	return f(ctx, job, sess)
}

// Registry maps job types to handlers. It is populated once at process
// start and read-only afterwards, so lookups need no locking.
type Registry struct {
	handlers map[domain.JobType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

// Register binds a handler to a job type. Later registrations for the same
// type replace earlier ones.
func (r *Registry) Register(t domain.JobType, h Handler) {
	r.handlers[t] = h
}

// Resolve returns the handler for a job type, or UnknownHandlerError when
// none is registered.
func (r *Registry) Resolve(t domain.JobType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, UnknownHandlerError{Type: t}
	}
	return h, nil
}

// Types returns the registered job types, for startup logging.
func (r *Registry) Types() []domain.JobType {
	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
