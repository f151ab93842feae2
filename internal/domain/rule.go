package domain

import (
	"fmt"
	"time"
)

// VelocityRule is a threshold on transaction count/amount within a time
// window for one entity kind. Rules are static configuration, loaded once at
// startup; multiple rules may apply to the same kind.
type VelocityRule struct {
	ID         string     `json:"id" yaml:"id"`
	EntityKind EntityKind `json:"entityKind" yaml:"entity_kind"`

	Window    time.Duration `json:"window" yaml:"window"`
	MaxCount  int64         `json:"maxCount" yaml:"max_count"`
	MaxAmount float64       `json:"maxAmount" yaml:"max_amount"`

	// Thresholds are fractions of the rule limits. Crossing the alert
	// threshold contributes to the velocity risk category; crossing the
	// block threshold additionally blocks the entity for the window.
	AlertThresholdPct float64 `json:"alertThresholdPct" yaml:"alert_threshold_pct"`
	BlockThresholdPct float64 `json:"blockThresholdPct" yaml:"block_threshold_pct"`
}

// Validate checks a rule for internal consistency.
func (r *VelocityRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !r.EntityKind.Valid() {
		return fmt.Errorf("rule %s: unknown entity kind %q", r.ID, r.EntityKind)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive", r.ID)
	}
	if r.MaxCount <= 0 && r.MaxAmount <= 0 {
		return fmt.Errorf("rule %s: at least one of max_count or max_amount is required", r.ID)
	}
	if r.AlertThresholdPct <= 0 || r.BlockThresholdPct <= 0 {
		return fmt.Errorf("rule %s: thresholds must be positive", r.ID)
	}
	if r.AlertThresholdPct > r.BlockThresholdPct {
		return fmt.Errorf("rule %s: alert threshold must not exceed block threshold", r.ID)
	}
	return nil
}

// CustomRule is an operator-defined CEL expression that contributes to the
// custom risk category. Expressions are compiled once at startup and must
// evaluate to bool (full points when true) or a numeric score in [0,1]
// (scaled by Points).
type CustomRule struct {
	ID         string  `json:"id" yaml:"id"`
	Expression string  `json:"expression" yaml:"expression"`
	Points     float64 `json:"points" yaml:"points"`
}
