package domain

import (
	"time"
)

// RiskTier is the coarse classification of a composite score.
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// RiskAction is the recommended handling for a payout candidate.
type RiskAction string

const (
	ActionApprove        RiskAction = "approve"
	ActionApproveReduced RiskAction = "approve_reduced"
	ActionHold           RiskAction = "hold"
	ActionReject         RiskAction = "reject"
)

// MoreRestrictive reports whether a is stricter than b. Used for the
// most-restrictive-wins tie-break when categories disagree.
func (a RiskAction) MoreRestrictive(b RiskAction) bool {
	return actionRank(a) > actionRank(b)
}

func actionRank(a RiskAction) int {
	switch a {
	case ActionReject:
		return 3
	case ActionHold:
		return 2
	case ActionApproveReduced:
		return 1
	default:
		return 0
	}
}

// RiskCategory names one scoring dimension of the assessment.
type RiskCategory string

const (
	CategoryVelocity   RiskCategory = "velocity"
	CategoryBehavioral RiskCategory = "behavioral"
	CategoryLists      RiskCategory = "lists"
	CategoryCustom     RiskCategory = "custom"
)

// Evidence is a closed tagged variant: exactly one of the pointer fields is
// set, matching Category.
type Evidence struct {
	Category   RiskCategory        `json:"category"`
	Velocity   *VelocityEvidence   `json:"velocity,omitempty"`
	Behavioral *BehavioralEvidence `json:"behavioral,omitempty"`
	List       *ListEvidence       `json:"list,omitempty"`
	Custom     *CustomEvidence     `json:"custom,omitempty"`
}

// VelocityEvidence records one velocity rule trigger.
type VelocityEvidence struct {
	RuleID       string    `json:"ruleId"`
	Entity       EntityKey `json:"entity"`
	Count        int64     `json:"count"`
	Total        float64   `json:"total"`
	ViolationPct float64   `json:"violationPct"`
	Blocking     bool      `json:"blocking"`
}

// BehavioralEvidence records a deviation from the entity's trailing average.
type BehavioralEvidence struct {
	Entity      EntityKey `json:"entity"`
	Amount      float64   `json:"amount"`
	TrailingAvg float64   `json:"trailingAvg"`
	Deviation   float64   `json:"deviation"` // amount / trailing average
}

// ListEvidence records a blocklist or whitelist hit.
type ListEvidence struct {
	Entity      EntityKey `json:"entity"`
	Blocked     bool      `json:"blocked"`
	Whitelisted bool      `json:"whitelisted"`
	Reason      string    `json:"reason,omitempty"`
}

// CustomEvidence records a custom rule contribution.
type CustomEvidence struct {
	RuleID string  `json:"ruleId"`
	Points float64 `json:"points"`
}

// RiskAssessment is the immutable result of scoring one payout candidate.
// Produced fresh per candidate, never mutated after creation, persisted as an
// audit artifact.
type RiskAssessment struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidateId"`

	Score          float64                  `json:"score"` // composite, 0-100
	Tier           RiskTier                 `json:"tier"`
	Action         RiskAction               `json:"recommendedAction"`
	CategoryScores map[RiskCategory]float64 `json:"categoryScores"`
	TriggeredRules []string                 `json:"triggeredRuleIds,omitempty"`
	Evidence       []Evidence               `json:"evidence,omitempty"`

	// PendingBlocks are block records the caller must apply to the list
	// store. Kept out of Assess itself so scoring stays side-effect free.
	PendingBlocks []BlockRecord `json:"pendingBlocks,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// AdmissionDecision is the Admission Gate's verdict for one candidate.
type AdmissionDecision struct {
	Accept         bool    `json:"accept"`
	Hold           bool    `json:"hold"`
	AdjustedAmount float64 `json:"adjustedAmount"`
	Reason         string  `json:"reason"`
}
