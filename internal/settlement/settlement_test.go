package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testDest() domain.PaymentDestination {
	return domain.PaymentDestination{Method: "bank", Account: "acct-1", Name: "Test Payee"}
}

func TestHTTPProviderSuccess(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"referenceId":"ref-123"}`))
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(domain.SettlementConfig{
		URL:     server.URL,
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	result, err := provider.Execute(context.Background(), testDest(), 100, "USD", "payout-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReferenceID != "ref-123" {
		t.Errorf("expected reference ref-123, got %s", result.ReferenceID)
	}
	if gotKey != "payout-1" {
		t.Errorf("expected idempotency key payout-1, got %q", gotKey)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
}

func TestHTTPProviderStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		code      string
	}{
		{"ServerError", http.StatusInternalServerError, "", true, "http_500"},
		{"RateLimited", http.StatusTooManyRequests, "", true, "http_429"},
		{"BadRequest", http.StatusBadRequest, "", false, "http_400"},
		{"InvalidDestination", http.StatusUnprocessableEntity, `{"code":"invalid_destination","message":"unknown account"}`, false, "invalid_destination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider, err := NewHTTPProvider(domain.SettlementConfig{URL: server.URL})
			if err != nil {
				t.Fatalf("failed to create provider: %v", err)
			}

			_, err = provider.Execute(context.Background(), testDest(), 100, "USD", "payout-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if domain.IsRetryable(err) != tt.retryable {
				t.Errorf("expected retryable=%v, got %v (%v)", tt.retryable, domain.IsRetryable(err), err)
			}
			if domain.ErrorCode(err) != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, domain.ErrorCode(err))
			}
		})
	}
}

func TestHTTPProviderMissingReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(domain.SettlementConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	_, err = provider.Execute(context.Background(), testDest(), 100, "USD", "payout-1")
	if err == nil {
		t.Fatal("expected error for missing reference id")
	}
	if !domain.IsRetryable(err) {
		t.Error("ambiguous success must be retryable; the idempotency key makes the retry safe")
	}
}

func TestHTTPProviderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(domain.SettlementConfig{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	_, err = provider.Execute(context.Background(), testDest(), 100, "USD", "payout-1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	// Transport-level failures carry no classification and default to retryable.
	if !domain.IsRetryable(err) {
		t.Error("expected timeout to be retryable")
	}
}

func TestMockProviderScript(t *testing.T) {
	provider := NewMockProvider()
	provider.Script(
		domain.NewRetryableError("provider_busy", "try later"),
		nil,
	)

	ctx := context.Background()

	_, err := provider.Execute(ctx, testDest(), 100, "USD", "payout-1")
	if err == nil || !domain.IsRetryable(err) {
		t.Fatalf("expected scripted retryable error, got %v", err)
	}

	result, err := provider.Execute(ctx, testDest(), 100, "USD", "payout-1")
	if err != nil {
		t.Fatalf("unexpected error after script drained: %v", err)
	}
	if result.ReferenceID == "" {
		t.Error("expected a reference id")
	}

	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(calls))
	}
	if calls[0].IdempotencyKey != "payout-1" || calls[1].IdempotencyKey != "payout-1" {
		t.Error("expected stable idempotency key across retries")
	}
}

func TestFactory(t *testing.T) {
	if _, err := New(domain.SettlementConfig{Provider: "mock"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := New(domain.SettlementConfig{Provider: "http"}); err == nil {
		t.Error("expected error for http provider without url")
	}
	if _, err := New(domain.SettlementConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
