package jobs

import (
	"context"
	"log/slog"

	"github.com/costwarden/costwarden/internal/domain"
)

// ProviderWebhookHandler re-processes a webhook event from a known payment
// provider. The original signature check is intentionally bypassed: the
// event was authenticated when first received, before the retry job was
// enqueued.
type ProviderWebhookHandler interface {
	HandleEvent(ctx context.Context, sess Session, data map[string]any) error
}

// WebhookRetryHandler redelivers failed webhooks. Known providers dispatch
// to their registered sub-handler; unknown providers get a plain POST of
// payload.data to payload.url with payload.headers.
type WebhookRetryHandler struct {
	providers  map[string]ProviderWebhookHandler
	dispatcher WebhookDispatcher
}

// NewWebhookRetryHandler wires the webhook_retry handler.
func NewWebhookRetryHandler(dispatcher WebhookDispatcher) *WebhookRetryHandler {
	return &WebhookRetryHandler{
		providers:  make(map[string]ProviderWebhookHandler),
		dispatcher: dispatcher,
	}
}

// RegisterProvider binds a provider-specific sub-handler, e.g. "paystack".
func (h *WebhookRetryHandler) RegisterProvider(name string, handler ProviderWebhookHandler) {
	h.providers[name] = handler
}

func (h *WebhookRetryHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	provider, err := requireString(job.Payload, "provider")
	if err != nil {
		return nil, err
	}

	data := optionalMap(job.Payload, "data")

	if sub, ok := h.providers[provider]; ok {
		if data == nil {
			return nil, InvalidInput("data", "provider webhook retry requires event data")
		}
		if err := sub.HandleEvent(ctx, sess, data); err != nil {
			return nil, Transient(err)
		}
		slog.InfoContext(ctx, "provider webhook reprocessed", "job_id", job.ID, "provider", provider)
		return map[string]any{"status": "delivered", "provider": provider}, nil
	}

	url, err := requireString(job.Payload, "url")
	if err != nil {
		return nil, err
	}
	headers := optionalStringMap(job.Payload, "headers")

	// Target-side idempotency is assumed for generic POSTs; the job id is
	// forwarded as an idempotency key so well-behaved targets can dedupe.
	if err := h.dispatcher.Dispatch(ctx, url, data, headers, job.ID.String()); err != nil {
		return nil, Transient(err)
	}

	slog.InfoContext(ctx, "webhook redelivered", "job_id", job.ID, "provider", provider, "url", url)
	return map[string]any{"status": "delivered", "provider": provider, "url": url}, nil
}
