package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MockProvider is an in-process settler for development and tests. Outcomes
// can be scripted per call; once the script drains every call succeeds.
type MockProvider struct {
	mu     sync.Mutex
	script []error
	calls  []MockCall
	seq    int
}

// MockCall records one Execute invocation.
type MockCall struct {
	Amount         float64
	Currency       string
	IdempotencyKey string
}

// NewMockProvider creates a mock settler that always succeeds.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Script queues outcomes for upcoming calls; a nil entry means success.
func (p *MockProvider) Script(outcomes ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, outcomes...)
}

// Calls returns a copy of the recorded invocations.
func (p *MockProvider) Calls() []MockCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MockCall(nil), p.calls...)
}

// Execute settles a payout per the script.
func (p *MockProvider) Execute(ctx context.Context, dest domain.PaymentDestination, amount float64, currency, idempotencyKey string) (*domain.SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.seq++
	ref := fmt.Sprintf("mock-%d", p.seq)
	p.calls = append(p.calls, MockCall{
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: idempotencyKey,
	})

	var outcome error
	if len(p.script) > 0 {
		outcome = p.script[0]
		p.script = p.script[1:]
	}
	p.mu.Unlock()

	if outcome != nil {
		return nil, outcome
	}
	return &domain.SettlementResult{ReferenceID: ref}, nil
}
