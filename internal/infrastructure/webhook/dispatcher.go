// Package webhook delivers outbound webhook payloads with a circuit
// breaker around the target.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const (
	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Dispatcher POSTs JSON payloads to arbitrary targets. A single circuit
// breaker guards all targets: webhook fan-out shares one egress path, and a
// dead network should stop the whole retry queue from hammering it.
type Dispatcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewDispatcher creates the dispatcher.
func NewDispatcher() *Dispatcher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook-egress",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("webhook circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Dispatcher{
		client:  &http.Client{Timeout: requestTimeout},
		breaker: breaker,
	}
}

// Dispatch POSTs data as JSON to url. The idempotency key is forwarded so
// well-behaved targets can dedupe redeliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, url string, data map[string]any, headers map[string]string, idempotencyKey string) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	_, err = d.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, fmt.Errorf("webhook target returned %d: %s", resp.StatusCode, snippet)
		}
		return nil, nil
	})
	return err
}
