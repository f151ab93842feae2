package admission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// captureBus records published messages; optionally fails every publish.
type captureBus struct {
	published []domain.Message
	fail      bool
}

func (b *captureBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.fail {
		return errors.New("bus unavailable")
	}
	b.published = append(b.published, domain.Message{Topic: topic, Payload: payload})
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (b *captureBus) Ping(ctx context.Context) error { return nil }
func (b *captureBus) Close() error                   { return nil }

func (b *captureBus) alerts(t *testing.T) []domain.Alert {
	t.Helper()
	var out []domain.Alert
	for _, msg := range b.published {
		if msg.Topic != domain.TopicAlert {
			continue
		}
		var alert domain.Alert
		if err := json.Unmarshal(msg.Payload, &alert); err != nil {
			t.Fatalf("bad alert payload: %v", err)
		}
		out = append(out, alert)
	}
	return out
}

func gateCandidate(amount float64, priority domain.Priority) *domain.PayoutCandidate {
	return &domain.PayoutCandidate{
		ID:       "cand-1",
		Amount:   amount,
		Currency: "USD",
		Entities: []domain.EntityKey{
			{Kind: domain.EntityCustomer, ID: "cust-1"},
		},
		Destination: domain.PaymentDestination{Method: "wallet", Account: "acct-1"},
		Priority:    priority,
	}
}

func assessmentWith(action domain.RiskAction, tier domain.RiskTier, score float64) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		ID:          "assess-1",
		CandidateID: "cand-1",
		Score:       score,
		Tier:        tier,
		Action:      action,
		CreatedAt:   time.Now(),
	}
}

func newTestGate(bus domain.EventBus) *Gate {
	cfg := domain.DefaultConfig()
	return NewGate(cfg.Admission, cfg.Risk, bus)
}

func TestGateApprove(t *testing.T) {
	bus := &captureBus{}
	gate := newTestGate(bus)

	decision := gate.Admit(context.Background(),
		gateCandidate(500, domain.PriorityMedium),
		assessmentWith(domain.ActionApprove, domain.TierLow, 10))

	if !decision.Accept || decision.Hold {
		t.Errorf("expected plain accept, got %+v", decision)
	}
	if decision.AdjustedAmount != 500 {
		t.Errorf("expected amount unchanged, got %.2f", decision.AdjustedAmount)
	}
	if len(bus.published) != 0 {
		t.Errorf("approval must not alert, got %d messages", len(bus.published))
	}
}

func TestGateReject(t *testing.T) {
	bus := &captureBus{}
	gate := newTestGate(bus)

	decision := gate.Admit(context.Background(),
		gateCandidate(500, domain.PriorityMedium),
		assessmentWith(domain.ActionReject, domain.TierCritical, 95))

	if decision.Accept {
		t.Error("expected rejection")
	}

	alerts := bus.alerts(t)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Type != domain.AlertRiskRejected {
		t.Errorf("expected risk_rejected alert, got %s", alerts[0].Type)
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity, got %s", alerts[0].Severity)
	}
	if alerts[0].Score != 95 {
		t.Errorf("expected score 95 on alert, got %.1f", alerts[0].Score)
	}
}

func TestGateHold(t *testing.T) {
	bus := &captureBus{}
	gate := newTestGate(bus)

	decision := gate.Admit(context.Background(),
		gateCandidate(400, domain.PriorityHigh),
		assessmentWith(domain.ActionHold, domain.TierHigh, 65))

	if !decision.Accept || !decision.Hold {
		t.Errorf("expected accepted hold, got %+v", decision)
	}
	// Hold halves the amount with the default 50% reduction.
	if decision.AdjustedAmount != 200 {
		t.Errorf("expected adjusted amount 200, got %.2f", decision.AdjustedAmount)
	}

	alerts := bus.alerts(t)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertPayoutHeld {
		t.Errorf("expected payout_held alert, got %+v", alerts)
	}
}

func TestGateApproveReduced(t *testing.T) {
	bus := &captureBus{}
	gate := newTestGate(bus)

	decision := gate.Admit(context.Background(),
		gateCandidate(500, domain.PriorityMedium),
		assessmentWith(domain.ActionApproveReduced, domain.TierMedium, 40))

	if !decision.Accept || decision.Hold {
		t.Errorf("expected accepted reduction, got %+v", decision)
	}
	// 20% default reduction.
	if decision.AdjustedAmount != 400 {
		t.Errorf("expected adjusted amount 400, got %.2f", decision.AdjustedAmount)
	}
	if decision.Reason == "" {
		t.Error("expected a reduction reason")
	}

	alerts := bus.alerts(t)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertAmountReduced {
		t.Errorf("expected amount_reduced alert, got %+v", alerts)
	}
}

func TestGateMaxPayoutCap(t *testing.T) {
	gate := newTestGate(&captureBus{})

	decision := gate.Admit(context.Background(),
		gateCandidate(5000, domain.PriorityLow),
		assessmentWith(domain.ActionApprove, domain.TierLow, 5))

	if !decision.Accept {
		t.Fatal("expected acceptance")
	}
	if decision.AdjustedAmount != 1000 {
		t.Errorf("expected cap at 1000, got %.2f", decision.AdjustedAmount)
	}
	if decision.Reason == "" {
		t.Error("expected a cap reason")
	}
}

func TestGateMinPayoutFloor(t *testing.T) {
	gate := newTestGate(&captureBus{})

	// 1.20 reduced by 20% lands at 0.96, under the 1.00 floor.
	decision := gate.Admit(context.Background(),
		gateCandidate(1.20, domain.PriorityLow),
		assessmentWith(domain.ActionApproveReduced, domain.TierMedium, 40))

	if decision.Accept {
		t.Errorf("expected rejection below minimum, got %+v", decision)
	}
}

func TestGateBusFailureDoesNotBlock(t *testing.T) {
	gate := newTestGate(&captureBus{fail: true})

	decision := gate.Admit(context.Background(),
		gateCandidate(500, domain.PriorityMedium),
		assessmentWith(domain.ActionReject, domain.TierCritical, 95))

	// The decision stands even though the alert could not be published.
	if decision.Accept {
		t.Error("expected rejection despite bus failure")
	}
}

func TestGateEmitBlockAlerts(t *testing.T) {
	bus := &captureBus{}
	gate := newTestGate(bus)

	expires := time.Now().Add(time.Hour)
	gate.EmitBlockAlerts(context.Background(), "cand-1", []domain.BlockRecord{
		{
			Entity:    domain.EntityKey{Kind: domain.EntityCustomer, ID: "cust-1"},
			Reason:    "velocity rule customer-hourly exceeded",
			ExpiresAt: &expires,
		},
	})

	alerts := bus.alerts(t)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Type != domain.AlertEntityBlocked {
		t.Errorf("expected entity_blocked alert, got %s", alerts[0].Type)
	}
	if len(alerts[0].Entities) != 1 || alerts[0].Entities[0].ID != "cust-1" {
		t.Errorf("unexpected alert entities: %v", alerts[0].Entities)
	}
}
