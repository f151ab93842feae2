package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPProvider settles payouts against an external payment rail over HTTP.
// Every request carries the payout ID as Idempotency-Key, so a retry after an
// ambiguous failure cannot double-pay.
type HTTPProvider struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPProvider creates an HTTP settlement client.
func NewHTTPProvider(cfg domain.SettlementConfig) (*HTTPProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("settlement url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPProvider{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type settleRequest struct {
	Destination domain.PaymentDestination `json:"destination"`
	Amount      float64                   `json:"amount"`
	Currency    string                    `json:"currency"`
}

type settleResponse struct {
	ReferenceID string `json:"referenceId"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Execute submits one settlement. Transport faults and timeouts surface as
// plain errors, which the caller treats as retryable.
func (p *HTTPProvider) Execute(ctx context.Context, dest domain.PaymentDestination, amount float64, currency, idempotencyKey string) (*domain.SettlementResult, error) {
	body, err := json.Marshal(settleRequest{
		Destination: dest,
		Amount:      amount,
		Currency:    currency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("settlement request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement response: %w", err)
	}

	var payload settleResponse
	if len(data) > 0 {
		// A malformed body on an error status still classifies by status.
		_ = json.Unmarshal(data, &payload)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if payload.ReferenceID == "" {
			return nil, domain.NewRetryableError("missing_reference", "provider returned no reference id")
		}
		return &domain.SettlementResult{ReferenceID: payload.ReferenceID}, nil

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return nil, domain.NewRetryableError(codeOr(payload.Code, fmt.Sprintf("http_%d", resp.StatusCode)), payload.Message)

	default:
		return nil, domain.NewTerminalError(codeOr(payload.Code, fmt.Sprintf("http_%d", resp.StatusCode)), payload.Message)
	}
}

func codeOr(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}
