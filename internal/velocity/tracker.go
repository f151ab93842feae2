// Package velocity maintains sliding-window transaction history per entity.
package velocity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tracker answers "how many transactions / how much value has this entity
// produced in window W?". Entities are created lazily on first observation
// and never destroyed; their history is pruned on each query, bounded by the
// longest configured window for the entity kind.
//
// Mutation is serialized per entity key. A Query issued after a Record call
// returns is guaranteed to observe that update.
type Tracker struct {
	mu       sync.RWMutex
	entities map[string]*history

	maxWindow     map[domain.EntityKind]time.Duration
	defaultWindow time.Duration

	repo    domain.Repository // optional observation audit trail
	persist bool

	now func() time.Time
}

type history struct {
	mu  sync.Mutex
	obs []domain.Observation // append order == timestamp order
}

// NewTracker creates a tracker for the configured rules. repo may be nil.
func NewTracker(cfg domain.VelocityConfig, repo domain.Repository) *Tracker {
	maxWindow := make(map[domain.EntityKind]time.Duration)
	for _, rule := range cfg.Rules {
		if rule.Window > maxWindow[rule.EntityKind] {
			maxWindow[rule.EntityKind] = rule.Window
		}
	}

	defaultWindow := cfg.DefaultWindow
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}

	return &Tracker{
		entities:      make(map[string]*history),
		maxWindow:     maxWindow,
		defaultWindow: defaultWindow,
		repo:          repo,
		persist:       cfg.PersistObservations && repo != nil,
		now:           time.Now,
	}
}

// Record appends an observation to the history of every supplied key.
func (t *Tracker) Record(ctx context.Context, keys []domain.EntityKey, amount float64, ts time.Time, outcome domain.ObservationOutcome) {
	obs := domain.Observation{
		Amount:    amount,
		Timestamp: ts,
		Outcome:   outcome,
	}

	for _, key := range keys {
		h := t.historyFor(key)
		h.mu.Lock()
		h.obs = append(h.obs, obs)
		h.mu.Unlock()

		if t.persist {
			if err := t.repo.SaveObservation(ctx, key, &obs); err != nil {
				slog.Error("failed to persist observation",
					"entity", key.String(),
					"error", err,
				)
			}
		}
	}
}

// Query returns aggregates for all observations within [now-window, now].
func (t *Tracker) Query(ctx context.Context, key domain.EntityKey, window time.Duration) (domain.Aggregate, error) {
	h := t.historyFor(key)
	now := t.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Prune first: anything older than the kind's longest configured window
	// can never satisfy a still-valid query.
	t.pruneLocked(h, key.Kind, now)

	cutoff := now.Add(-window)
	var agg domain.Aggregate
	for _, obs := range h.obs {
		if obs.Timestamp.Before(cutoff) {
			continue
		}
		agg.Count++
		agg.Total += obs.Amount
	}
	return agg, nil
}

// TrailingAverage returns the mean observed amount for the entity within the
// window, or 0 when there is no history.
func (t *Tracker) TrailingAverage(ctx context.Context, key domain.EntityKey, window time.Duration) (float64, error) {
	agg, err := t.Query(ctx, key, window)
	if err != nil || agg.Count == 0 {
		return 0, err
	}
	return agg.Total / float64(agg.Count), nil
}

// EntityCount returns the number of tracked entities.
func (t *Tracker) EntityCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

// pruneLocked drops observations older than the retention bound for the
// kind. Caller holds h.mu.
func (t *Tracker) pruneLocked(h *history, kind domain.EntityKind, now time.Time) {
	retention, ok := t.maxWindow[kind]
	if !ok {
		retention = t.defaultWindow
	}
	cutoff := now.Add(-retention)

	// Observations are in timestamp order; find the first one to keep.
	keep := 0
	for keep < len(h.obs) && h.obs[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		h.obs = append([]domain.Observation(nil), h.obs[keep:]...)
	}
}

func (t *Tracker) historyFor(key domain.EntityKey) *history {
	id := key.String()

	t.mu.RLock()
	h, ok := t.entities[id]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok = t.entities[id]; ok {
		return h
	}
	h = &history{}
	t.entities[id] = h
	return h
}
