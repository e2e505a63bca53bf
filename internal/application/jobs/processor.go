package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/costwarden/costwarden/internal/domain"
)

// ProcessorConfig tunes a Processor. Zero values fall back to the defaults
// noted per field.
type ProcessorConfig struct {
	JobTimeout  time.Duration // per-handler deadline (default 300s)
	BackoffBase time.Duration // retry delay base (default 60s)
	CancelDelay time.Duration // reschedule delay for cancelled jobs (default 60s)
}

func (c *ProcessorConfig) applyDefaults() {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 300 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 60 * time.Second
	}
	if c.CancelDelay <= 0 {
		c.CancelDelay = 60 * time.Second
	}
}

// Batch limit bounds enforced on every ProcessDueBatch call, regardless of
// what the transport or config edge let through.
const (
	DefaultBatchLimit = 10
	MaxBatchLimit     = 50
)

// BatchResult summarizes one ProcessDueBatch invocation.
type BatchResult struct {
	Claimed    int
	Completed  int
	Retried    int
	DeadLetter int
	Cancelled  int

	// BatchError is set when a batch-level database failure stopped the
	// invocation before every claimed job was processed.
	BatchError error
}

// Processor claims due jobs and executes their handlers under per-job
// timeouts and tenant-scoped sessions. Safe for use from multiple worker
// replicas: cross-worker exclusivity comes from the store's claim contract,
// not from anything the processor does.
type Processor struct {
	store    Store
	sessions SessionFactory
	registry *Registry
	cfg      ProcessorConfig

	tracer    trace.Tracer
	processed metric.Int64Counter
	timeouts  metric.Int64Counter

	// inflight maps running job ids to their cancellation hooks so the
	// cancellation listener can interrupt them.
	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelCauseFunc
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(store Store, sessions SessionFactory, registry *Registry, cfg ProcessorConfig) *Processor {
	cfg.applyDefaults()

	meter := otel.Meter("costwarden.jobs")
	processed, _ := meter.Int64Counter("jobs.processed",
		metric.WithDescription("Jobs processed, labeled by type and outcome"))
	timeouts, _ := meter.Int64Counter("jobs.timeouts",
		metric.WithDescription("Handler executions that exceeded the job timeout"))

	return &Processor{
		store:     store,
		sessions:  sessions,
		registry:  registry,
		cfg:       cfg,
		tracer:    otel.Tracer("costwarden.jobs"),
		processed: processed,
		timeouts:  timeouts,
		inflight:  make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// ProcessDueBatch claims up to limit due jobs and runs each handler in claim
// order. Limits outside [1, MaxBatchLimit] are clamped, so every caller gets
// the same bounds the config and HTTP edges enforce. Per-job failures never
// abort the batch; a batch-level database failure stops the invocation and
// is surfaced on the result. The processor does not loop; a periodic trigger
// re-invokes it.
func (p *Processor) ProcessDueBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if limit > MaxBatchLimit {
		limit = MaxBatchLimit
	}

	ctx, span := p.tracer.Start(ctx, "process_pending_jobs",
		trace.WithAttributes(attribute.Int("batch_limit", limit)))
	defer span.End()

	result := &BatchResult{}

	claimed, err := p.store.ClaimDue(ctx, limit)
	if err != nil {
		result.BatchError = fmt.Errorf("failed to claim due jobs: %w", err)
		slog.ErrorContext(ctx, "batch claim failed", "error", err)
		return result, result.BatchError
	}
	result.Claimed = len(claimed)
	if len(claimed) == 0 {
		return result, nil
	}

	for _, job := range claimed {
		if err := p.processOne(ctx, job, result); err != nil {
			// Bookkeeping write failed: the queue state is unknown, so the
			// remaining claimed jobs are left for the stale reaper rather
			// than processed against a broken store.
			result.BatchError = err
			slog.ErrorContext(ctx, "batch aborted on bookkeeping failure",
				"job_id", job.ID, "error", err)
			return result, result.BatchError
		}
	}

	return result, nil
}

// CancelInflight interrupts a running job claimed by this processor. Used by
// the cancellation listener; a miss is not an error (the job may be running
// on another replica).
func (p *Processor) CancelInflight(jobID uuid.UUID) bool {
	p.mu.Lock()
	cancel, ok := p.inflight[jobID]
	p.mu.Unlock()
	if ok {
		cancel(ErrCancelRequested)
	}
	return ok
}

// processOne runs a single claimed job end to end. The returned error is
// non-nil only for bookkeeping (store) failures that must abort the batch.
func (p *Processor) processOne(ctx context.Context, job *domain.Job, result *BatchResult) error {
	ctx, span := p.tracer.Start(ctx, "job_process:"+string(job.Type),
		trace.WithAttributes(
			attribute.String("job_id", job.ID.String()),
			attribute.Int("attempt", job.Attempts),
		))
	defer span.End()

	// A cancel can land while the job sits pending, with no in-flight
	// handler to interrupt. Honor the flag before any handler work.
	if job.CancelRequested {
		if err := p.store.ScheduleCancelled(ctx, job.ID, "Job was cancelled", p.cfg.CancelDelay); err != nil {
			return fmt.Errorf("failed to reschedule cancelled job %s: %w", job.ID, err)
		}
		result.Cancelled++
		p.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_type", string(job.Type)),
			attribute.String("outcome", "cancelled")))
		slog.WarnContext(ctx, "job cancelled before execution", "job_id", job.ID, "delay", p.cfg.CancelDelay)
		return nil
	}

	handler, err := p.registry.Resolve(job.Type)
	if err != nil {
		// Missing handler is a terminal failure path: recorded on the job
		// and routed through the retry/dead-letter decision.
		return p.recordFailure(ctx, job, err.Error(), false, result)
	}

	outcome, handlerErr := p.runHandler(ctx, job, handler)

	switch {
	case handlerErr == nil:
		if err := p.store.MarkCompleted(ctx, job.ID, outcome); err != nil {
			return fmt.Errorf("failed to mark job %s completed: %w", job.ID, err)
		}
		result.Completed++
		p.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_type", string(job.Type)),
			attribute.String("outcome", "completed")))
		slog.InfoContext(ctx, "job completed", "job_id", job.ID, "job_type", job.Type)
		return nil

	case errors.Is(handlerErr, ErrCancelRequested):
		if err := p.store.ScheduleCancelled(ctx, job.ID, "Job was cancelled", p.cfg.CancelDelay); err != nil {
			return fmt.Errorf("failed to reschedule cancelled job %s: %w", job.ID, err)
		}
		result.Cancelled++
		p.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_type", string(job.Type)),
			attribute.String("outcome", "cancelled")))
		slog.WarnContext(ctx, "job cancelled, rescheduled", "job_id", job.ID, "delay", p.cfg.CancelDelay)
		return nil

	case errors.Is(handlerErr, context.DeadlineExceeded):
		p.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(job.Type))))
		msg := fmt.Sprintf("Job timed out after %ds", int(p.cfg.JobTimeout.Seconds()))
		return p.recordFailure(ctx, job, msg, false, result)

	default:
		// Invalid payloads and panics cannot succeed on retry.
		terminal := IsInvalidInput(handlerErr) || IsPanic(handlerErr)
		return p.recordFailure(ctx, job, handlerErr.Error(), terminal, result)
	}
}

// runHandler executes the handler inside a tenant-scoped session and a
// handler transaction, under the job timeout, with panic recovery. The
// transaction commits only on success; every other outcome rolls it back so
// partial handler work never persists.
func (p *Processor) runHandler(ctx context.Context, job *domain.Job, handler Handler) (map[string]any, error) {
	sess, err := p.acquireSession(ctx, job)
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to acquire session: %w", err))
	}

	hctx, cancel := context.WithCancelCause(ctx)
	hctx, timeoutCancel := context.WithTimeout(hctx, p.cfg.JobTimeout)

	p.mu.Lock()
	p.inflight[job.ID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inflight, job.ID)
		p.mu.Unlock()
		timeoutCancel()
		cancel(nil)
	}()

	type handlerReturn struct {
		result map[string]any
		err    error
	}
	done := make(chan handlerReturn, 1)

	go func() {
		tx, err := sess.BeginTx(hctx)
		if err != nil {
			sess.Release()
			done <- handlerReturn{err: Transient(fmt.Errorf("failed to begin handler transaction: %w", err))}
			return
		}

		result, err := p.executeWithRecovery(hctx, job, handler, tx)
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(hctx))
			sess.Release()
			done <- handlerReturn{err: err}
			return
		}
		if err := tx.Commit(hctx); err != nil {
			sess.Release()
			done <- handlerReturn{err: Transient(fmt.Errorf("failed to commit handler transaction: %w", err))}
			return
		}
		sess.Release()
		done <- handlerReturn{result: result}
	}()

	select {
	case ret := <-done:
		return ret.result, ret.err

	case <-hctx.Done():
		// The handler goroutine still owns the session; it observes the
		// context, rolls back and releases on its own. The processor records
		// the outcome immediately rather than waiting it out.
		if cause := context.Cause(hctx); errors.Is(cause, ErrCancelRequested) {
			return nil, ErrCancelRequested
		}
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, hctx.Err()
	}
}

func (p *Processor) acquireSession(ctx context.Context, job *domain.Job) (LeasedSession, error) {
	if job.TenantID != nil {
		return p.sessions.AcquireTenant(ctx, *job.TenantID)
	}
	return p.sessions.AcquireSystem(ctx)
}

// executeWithRecovery invokes the handler and converts panics to PanicError.
func (p *Processor) executeWithRecovery(ctx context.Context, job *domain.Job, handler Handler, sess Session) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			slog.ErrorContext(ctx, "handler panicked",
				"job_id", job.ID, "job_type", job.Type, "panic", r)
			err = PanicError{Value: r, StackTrace: stack}
		}
	}()
	return handler.Execute(ctx, job, sess)
}

// recordFailure routes a failed job to retry or dead-letter. terminal forces
// dead-letter regardless of the remaining retry budget. Returns an error
// only when the bookkeeping write itself failed.
func (p *Processor) recordFailure(ctx context.Context, job *domain.Job, errMsg string, terminal bool, result *BatchResult) error {
	if !terminal && job.Attempts < job.MaxAttempts {
		// Backoff base doubles per attempt: B * 2^(k-1) after attempt k.
		delay := p.cfg.BackoffBase << (max(job.Attempts, 1) - 1)
		if err := p.store.ScheduleRetry(ctx, job.ID, errMsg, delay); err != nil {
			return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
		}
		result.Retried++
		p.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_type", string(job.Type)),
			attribute.String("outcome", "retried")))
		slog.WarnContext(ctx, "job failed, retry scheduled",
			"job_id", job.ID, "job_type", job.Type,
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts,
			"delay", delay, "error", errMsg)
		return nil
	}

	if err := p.store.MarkDeadLetter(ctx, job.ID, errMsg); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.ID, err)
	}
	result.DeadLetter++
	p.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", string(job.Type)),
		attribute.String("outcome", "dead_letter")))
	slog.ErrorContext(ctx, "job dead-lettered",
		"job_id", job.ID, "job_type", job.Type,
		"attempt", job.Attempts, "error", errMsg)
	return nil
}
