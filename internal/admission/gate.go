// Package admission converts risk assessments into enqueue decisions.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Gate applies the recommended action from a risk assessment, then the
// configured payout bounds. Bounds run after any risk-driven reduction and
// independently of it. Alert publishing is fire-and-forget; a bus failure is
// logged and never blocks the decision.
type Gate struct {
	cfg  domain.AdmissionConfig
	risk domain.RiskConfig
	bus  domain.EventBus

	now func() time.Time
}

// NewGate creates an admission gate. bus may be nil to disable alerting.
func NewGate(cfg domain.AdmissionConfig, risk domain.RiskConfig, bus domain.EventBus) *Gate {
	return &Gate{
		cfg:  cfg,
		risk: risk,
		bus:  bus,
		now:  time.Now,
	}
}

// Admit decides whether the candidate enters the payout queue and at what
// amount.
func (g *Gate) Admit(ctx context.Context, candidate *domain.PayoutCandidate, assessment *domain.RiskAssessment) domain.AdmissionDecision {
	amount := candidate.Amount

	switch assessment.Action {
	case domain.ActionReject:
		reason := fmt.Sprintf("risk tier %s (score %.1f)", assessment.Tier, assessment.Score)
		g.alert(ctx, domain.Alert{
			Type:     domain.AlertRiskRejected,
			Severity: domain.SeverityCritical,
			PayoutID: candidate.ID,
			Entities: candidate.Entities,
			Reason:   reason,
			Score:    assessment.Score,
		})
		return domain.AdmissionDecision{Accept: false, Reason: reason}

	case domain.ActionHold:
		amount = amount * (1 - g.risk.HoldReductionPct)
		reason := fmt.Sprintf("held for review at tier %s (score %.1f)", assessment.Tier, assessment.Score)
		g.alert(ctx, domain.Alert{
			Type:     domain.AlertPayoutHeld,
			Severity: domain.SeverityWarning,
			PayoutID: candidate.ID,
			Entities: candidate.Entities,
			Reason:   reason,
			Score:    assessment.Score,
		})
		return domain.AdmissionDecision{
			Accept:         true,
			Hold:           true,
			AdjustedAmount: g.capAmount(amount),
			Reason:         reason,
		}

	case domain.ActionApproveReduced:
		amount = amount * (1 - g.risk.MediumReductionPct)
		g.alert(ctx, domain.Alert{
			Type:     domain.AlertAmountReduced,
			Severity: domain.SeverityInfo,
			PayoutID: candidate.ID,
			Entities: candidate.Entities,
			Reason:   fmt.Sprintf("amount reduced %.0f%% at tier %s", g.risk.MediumReductionPct*100, assessment.Tier),
			Score:    assessment.Score,
		})
	}

	amount = g.capAmount(amount)

	// The minimum applies after reductions: a payout shrunk below the floor
	// is not worth settling.
	if g.cfg.MinPayout > 0 && amount < g.cfg.MinPayout {
		reason := fmt.Sprintf("amount %.2f below minimum payout %.2f", amount, g.cfg.MinPayout)
		return domain.AdmissionDecision{Accept: false, Reason: reason}
	}

	decision := domain.AdmissionDecision{
		Accept:         true,
		AdjustedAmount: amount,
	}
	if amount != candidate.Amount {
		decision.Reason = reductionReason(assessment, candidate.Amount, amount, g.cfg.MaxPayout)
	}
	return decision
}

func (g *Gate) capAmount(amount float64) float64 {
	if g.cfg.MaxPayout > 0 && amount > g.cfg.MaxPayout {
		return g.cfg.MaxPayout
	}
	return amount
}

func reductionReason(assessment *domain.RiskAssessment, original, adjusted, maxPayout float64) string {
	if assessment.Action == domain.ActionApproveReduced {
		return fmt.Sprintf("risk reduction at tier %s", assessment.Tier)
	}
	if maxPayout > 0 && adjusted == maxPayout && original > maxPayout {
		return fmt.Sprintf("capped at maximum payout %.2f", maxPayout)
	}
	return fmt.Sprintf("adjusted from %.2f", original)
}

// EmitBlockAlerts publishes an entity_blocked alert for each applied block.
func (g *Gate) EmitBlockAlerts(ctx context.Context, payoutID string, blocks []domain.BlockRecord) {
	for _, block := range blocks {
		g.alert(ctx, domain.Alert{
			Type:     domain.AlertEntityBlocked,
			Severity: domain.SeverityCritical,
			PayoutID: payoutID,
			Entities: []domain.EntityKey{block.Entity},
			Reason:   block.Reason,
		})
	}
}

func (g *Gate) alert(ctx context.Context, alert domain.Alert) {
	if g.bus == nil {
		return
	}

	alert.ID = uuid.New().String()
	alert.CreatedAt = g.now()

	payload, err := json.Marshal(alert)
	if err != nil {
		slog.Error("failed to marshal alert", "type", alert.Type, "error", err)
		return
	}
	if err := g.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		slog.Error("failed to publish alert",
			"type", alert.Type,
			"payout_id", alert.PayoutID,
			"error", err,
		)
	}
}
