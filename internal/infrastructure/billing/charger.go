// Package billing integrates the payment provider: renewal charges and
// webhook event reprocessing.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/costwarden/costwarden/internal/domain"
)

const chargeTimeout = 30 * time.Second

// Charger executes renewal charges against the provider's
// charge-authorization endpoint.
type Charger struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

// NewCharger creates the charger.
func NewCharger(baseURL, secretKey string) *Charger {
	return &Charger{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: chargeTimeout},
	}
}

type chargeRequest struct {
	AuthorizationCode string `json:"authorization_code"`
	AmountCents       int64  `json:"amount"`
	Currency          string `json:"currency"`
	Reference         string `json:"reference"`
}

type chargeResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Status string `json:"status"`
	} `json:"data"`
	Message string `json:"message"`
}

// ChargeRenewal attempts the renewal charge. A provider-side decline returns
// (false, nil): declines are a billing outcome, not a transient failure.
func (c *Charger) ChargeRenewal(ctx context.Context, sub *domain.Subscription) (bool, error) {
	body, err := json.Marshal(chargeRequest{
		AuthorizationCode: *sub.AuthorizationToken,
		AmountCents:       sub.AmountCents,
		Currency:          sub.Currency,
		// The subscription id plus due date dedupes the charge on the
		// provider side if the job retries after a network failure.
		Reference: fmt.Sprintf("renewal-%s-%s", sub.ID, sub.NextPaymentDate.Format("20060102")),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transaction/charge_authorization", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("charge request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("failed to decode charge response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("billing provider returned %d: %s", resp.StatusCode, parsed.Message)
	}
	if !parsed.Status || parsed.Data.Status != "success" {
		slog.InfoContext(ctx, "renewal charge declined",
			"subscription_id", sub.ID, "provider_status", parsed.Data.Status, "message", parsed.Message)
		return false, nil
	}
	return true, nil
}
