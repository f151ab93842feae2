package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SettlementResult is the provider's acknowledgement of a settled payout.
type SettlementResult struct {
	ReferenceID string `json:"referenceId"`
}

// SettlementError is a typed provider failure. Retryable errors are retried
// per the backoff policy; terminal errors fail the payout immediately.
type SettlementError struct {
	Code      string
	Retryable bool
	Message   string
}

func (e *SettlementError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Message == "" {
		return fmt.Sprintf("settlement %s failure: %s", kind, e.Code)
	}
	return fmt.Sprintf("settlement %s failure: %s: %s", kind, e.Code, e.Message)
}

// NewRetryableError builds a transient settlement failure.
func NewRetryableError(code, message string) *SettlementError {
	return &SettlementError{Code: code, Retryable: true, Message: message}
}

// NewTerminalError builds a permanent settlement failure.
func NewTerminalError(code, message string) *SettlementError {
	return &SettlementError{Code: code, Retryable: false, Message: message}
}

// IsRetryable reports whether err should be retried. Unclassified errors
// (timeouts, transport faults) are treated as retryable.
func IsRetryable(err error) bool {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// ErrorCode extracts the provider error code, or "unknown".
func ErrorCode(err error) string {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Code
	}
	return "unknown"
}

// Settler is the settlement provider boundary. The idempotency key is the
// PayoutRequest ID, so repeated retries against the provider are safe.
type Settler interface {
	Execute(ctx context.Context, dest PaymentDestination, amount float64, currency, idempotencyKey string) (*SettlementResult, error)
}

// SettlementConfig holds configuration for settlement provider initialization.
type SettlementConfig struct {
	// Provider is the provider type: "http" or "mock"
	Provider string `json:"provider" yaml:"provider"`

	// HTTP provider settings
	URL    string `json:"url" yaml:"url"`
	APIKey string `json:"apiKey" yaml:"api_key"`

	// Timeout bounds a single settlement call; expiry is a retryable failure.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}
