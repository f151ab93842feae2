// Package risk scores payout candidates across weighted categories.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// VelocityReader is the slice of the velocity tracker the scorer needs.
type VelocityReader interface {
	Query(ctx context.Context, key domain.EntityKey, window time.Duration) (domain.Aggregate, error)
	TrailingAverage(ctx context.Context, key domain.EntityKey, window time.Duration) (float64, error)
}

// Scorer produces a RiskAssessment for each payout candidate. Assessment is
// read-only: list-store block writes triggered by the candidate are returned
// as PendingBlocks for the caller to apply, so repeated assessments of the
// same candidate against the same state yield identical results.
type Scorer struct {
	cfg    domain.RiskConfig
	rules  []domain.VelocityRule
	reader VelocityReader
	lists  domain.ListStore
	custom *CustomEngine

	now func() time.Time
}

// NewScorer creates a scorer. Custom rules are compiled here; a bad
// expression fails construction.
func NewScorer(cfg domain.RiskConfig, rules []domain.VelocityRule, reader VelocityReader, lists domain.ListStore) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}

	custom, err := NewCustomEngine(cfg.CustomRules)
	if err != nil {
		return nil, err
	}

	return &Scorer{
		cfg:    cfg,
		rules:  rules,
		reader: reader,
		lists:  lists,
		custom: custom,
		now:    time.Now,
	}, nil
}

// Assess scores one candidate against the history recorded so far. The
// candidate itself enters the velocity windows only once its payout reaches a
// terminal outcome, so assessing never changes what a re-assessment would see.
func (s *Scorer) Assess(ctx context.Context, candidate *domain.PayoutCandidate) (*domain.RiskAssessment, error) {
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	now := s.now()
	assessment := &domain.RiskAssessment{
		ID:             uuid.New().String(),
		CandidateID:    candidate.ID,
		CategoryScores: make(map[domain.RiskCategory]float64),
		CreatedAt:      now,
	}

	// A block-level velocity trigger or an active blocklist hit forces the
	// critical tier regardless of the weighted composite.
	forceCritical := false

	velocityScore, err := s.scoreVelocity(ctx, candidate, now, assessment, &forceCritical)
	if err != nil {
		return nil, err
	}

	behavioralScore, err := s.scoreBehavioral(ctx, candidate, assessment)
	if err != nil {
		return nil, err
	}

	listScore, whitelisted, err := s.scoreLists(ctx, candidate, assessment, &forceCritical)
	if err != nil {
		return nil, err
	}

	customScore, customEvidence, customRules := s.custom.Evaluate(candidate)
	assessment.Evidence = append(assessment.Evidence, customEvidence...)
	assessment.TriggeredRules = append(assessment.TriggeredRules, customRules...)

	assessment.CategoryScores[domain.CategoryVelocity] = velocityScore
	assessment.CategoryScores[domain.CategoryBehavioral] = behavioralScore
	assessment.CategoryScores[domain.CategoryLists] = listScore
	assessment.CategoryScores[domain.CategoryCustom] = customScore

	composite := velocityScore*s.cfg.Weights.Velocity +
		behavioralScore*s.cfg.Weights.Behavioral +
		listScore*s.cfg.Weights.Lists +
		customScore*s.cfg.Weights.Custom

	if whitelisted {
		composite -= s.cfg.WhitelistBonus
	}
	composite = clamp(composite, 0, 100)

	assessment.Score = composite
	assessment.Tier = s.tierFor(composite, forceCritical)

	// When a forcing signal and the weighted composite disagree, the more
	// restrictive action wins.
	action := actionFor(s.tierFor(composite, false))
	if forced := actionFor(assessment.Tier); forced.MoreRestrictive(action) {
		action = forced
	}
	assessment.Action = action

	return assessment, nil
}

// scoreVelocity evaluates every configured rule against every matching entity
// key. The category score is the worst observed violation mapped onto 0-100,
// with a fixed bump when a block threshold is crossed.
func (s *Scorer) scoreVelocity(ctx context.Context, candidate *domain.PayoutCandidate, now time.Time, assessment *domain.RiskAssessment, forceCritical *bool) (float64, error) {
	var score float64
	blocked := false

	for _, rule := range s.rules {
		for _, key := range candidate.Entities {
			if key.Kind != rule.EntityKind {
				continue
			}

			agg, err := s.reader.Query(ctx, key, rule.Window)
			if err != nil {
				return 0, fmt.Errorf("velocity query for %s: %w", key, err)
			}

			var violationPct float64
			if rule.MaxCount > 0 {
				violationPct = float64(agg.Count) / float64(rule.MaxCount)
			}
			if rule.MaxAmount > 0 {
				if pct := agg.Total / rule.MaxAmount; pct > violationPct {
					violationPct = pct
				}
			}

			if violationPct < rule.AlertThresholdPct {
				continue
			}

			blocking := violationPct >= rule.BlockThresholdPct
			if contribution := clamp(violationPct*100, 0, 100); contribution > score {
				score = contribution
			}

			assessment.TriggeredRules = append(assessment.TriggeredRules, rule.ID)
			assessment.Evidence = append(assessment.Evidence, domain.Evidence{
				Category: domain.CategoryVelocity,
				Velocity: &domain.VelocityEvidence{
					RuleID:       rule.ID,
					Entity:       key,
					Count:        agg.Count,
					Total:        agg.Total,
					ViolationPct: violationPct,
					Blocking:     blocking,
				},
			})

			if blocking {
				blocked = true
				*forceCritical = true
				expires := now.Add(rule.Window)
				assessment.PendingBlocks = append(assessment.PendingBlocks, domain.BlockRecord{
					Entity:    key,
					Reason:    fmt.Sprintf("velocity rule %s exceeded", rule.ID),
					CreatedAt: now,
					ExpiresAt: &expires,
				})
			}
		}
	}

	if blocked {
		score = clamp(score+s.cfg.BlockScore, 0, 100)
	}
	return score, nil
}

// scoreBehavioral flags amounts far above an entity's trailing average. An
// entity with no history contributes nothing; there is no baseline to deviate
// from.
func (s *Scorer) scoreBehavioral(ctx context.Context, candidate *domain.PayoutCandidate, assessment *domain.RiskAssessment) (float64, error) {
	if s.cfg.DeviationMultiple <= 0 {
		return 0, nil
	}

	var score float64
	for _, key := range candidate.Entities {
		avg, err := s.reader.TrailingAverage(ctx, key, s.cfg.BehavioralWindow)
		if err != nil {
			return 0, fmt.Errorf("trailing average for %s: %w", key, err)
		}
		if avg <= 0 {
			continue
		}

		deviation := candidate.Amount / avg
		if deviation < s.cfg.DeviationMultiple {
			continue
		}

		// Exactly at the multiple contributes 50; twice the multiple saturates.
		contribution := clamp(deviation/s.cfg.DeviationMultiple*50, 0, 100)
		if contribution > score {
			score = contribution
		}

		assessment.Evidence = append(assessment.Evidence, domain.Evidence{
			Category: domain.CategoryBehavioral,
			Behavioral: &domain.BehavioralEvidence{
				Entity:      key,
				Amount:      candidate.Amount,
				TrailingAvg: avg,
				Deviation:   deviation,
			},
		})
	}
	return score, nil
}

// scoreLists checks every entity key against the blocklist and whitelist. An
// active block forces critical; whitelist membership earns a composite bonus
// but never overrides a block.
func (s *Scorer) scoreLists(ctx context.Context, candidate *domain.PayoutCandidate, assessment *domain.RiskAssessment, forceCritical *bool) (score float64, whitelisted bool, err error) {
	for _, key := range candidate.Entities {
		rec, err := s.lists.GetBlock(ctx, key)
		if err != nil {
			return 0, false, fmt.Errorf("block lookup for %s: %w", key, err)
		}
		if rec != nil {
			score = clamp(s.cfg.ListPenalty, 0, 100)
			*forceCritical = true
			assessment.Evidence = append(assessment.Evidence, domain.Evidence{
				Category: domain.CategoryLists,
				List: &domain.ListEvidence{
					Entity:  key,
					Blocked: true,
					Reason:  rec.Reason,
				},
			})
			continue
		}

		ok, err := s.lists.IsWhitelisted(ctx, key)
		if err != nil {
			return 0, false, fmt.Errorf("whitelist lookup for %s: %w", key, err)
		}
		if ok {
			whitelisted = true
			assessment.Evidence = append(assessment.Evidence, domain.Evidence{
				Category: domain.CategoryLists,
				List: &domain.ListEvidence{
					Entity:      key,
					Whitelisted: true,
				},
			})
		}
	}
	return score, whitelisted, nil
}

func (s *Scorer) tierFor(score float64, forceCritical bool) domain.RiskTier {
	switch {
	case forceCritical, score >= s.cfg.CriticalThreshold:
		return domain.TierCritical
	case score >= s.cfg.HighThreshold:
		return domain.TierHigh
	case score >= s.cfg.MediumThreshold:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func actionFor(tier domain.RiskTier) domain.RiskAction {
	switch tier {
	case domain.TierCritical:
		return domain.ActionReject
	case domain.TierHigh:
		return domain.ActionHold
	case domain.TierMedium:
		return domain.ActionApproveReduced
	default:
		return domain.ActionApprove
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
