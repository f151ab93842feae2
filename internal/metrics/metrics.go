// Package metrics aggregates payout pipeline statistics.
package metrics

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PayoutsEnqueued counts admitted payouts by priority.
	PayoutsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "payouts_enqueued_total",
			Help:      "Total payouts admitted to the queue by priority.",
		},
		[]string{"priority"},
	)

	// PayoutsSettled counts terminal payout outcomes.
	PayoutsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "payouts_settled_total",
			Help:      "Total payouts reaching a terminal status.",
		},
		[]string{"status"},
	)

	// SettlementLatency observes enqueue-to-settlement latency.
	SettlementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "settlement_latency_seconds",
			Help:      "Latency from enqueue to successful settlement.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks the current queue depth.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kestrel",
			Name:      "queue_depth",
			Help:      "Number of payouts waiting in the queue.",
		},
	)

	// RiskDecisions counts risk assessments by tier and action.
	RiskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "risk_decisions_total",
			Help:      "Total risk assessments by tier and recommended action.",
		},
		[]string{"tier", "action"},
	)
)

var registerOnce sync.Once

// Register installs the collectors on the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PayoutsEnqueued,
			PayoutsSettled,
			SettlementLatency,
			QueueDepth,
			RiskDecisions,
		)
	})
}

// Snapshot is a point-in-time view of pipeline totals.
type Snapshot struct {
	QueueDepth   int     `json:"queueDepth"`
	Enqueued     int64   `json:"enqueued"`
	Completed    int64   `json:"completed"`
	Failed       int64   `json:"failed"`
	Cancelled    int64   `json:"cancelled"`
	SuccessRate  float64 `json:"successRate"` // completed / (completed + failed)
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// Aggregator keeps running totals for the /stats endpoint and mirrors them
// into the Prometheus collectors. Implements the payout queue's Recorder.
type Aggregator struct {
	mu sync.Mutex

	depth     int
	enqueued  int64
	completed int64
	failed    int64
	cancelled int64

	latencyTotalMs int64
}

// NewAggregator creates an aggregator and registers the Prometheus
// collectors.
func NewAggregator() *Aggregator {
	Register()
	return &Aggregator{}
}

// RecordEnqueued counts one admitted payout.
func (a *Aggregator) RecordEnqueued(priority domain.Priority) {
	a.mu.Lock()
	a.enqueued++
	a.mu.Unlock()
	PayoutsEnqueued.WithLabelValues(string(priority)).Inc()
}

// RecordCompleted counts one settled payout and its latency.
func (a *Aggregator) RecordCompleted(latencyMs int64) {
	a.mu.Lock()
	a.completed++
	a.latencyTotalMs += latencyMs
	a.mu.Unlock()
	PayoutsSettled.WithLabelValues(string(domain.StatusCompleted)).Inc()
	SettlementLatency.Observe(float64(latencyMs) / 1000)
}

// RecordFailed counts one terminally failed payout.
func (a *Aggregator) RecordFailed() {
	a.mu.Lock()
	a.failed++
	a.mu.Unlock()
	PayoutsSettled.WithLabelValues(string(domain.StatusFailed)).Inc()
}

// RecordCancelled counts one cancelled payout.
func (a *Aggregator) RecordCancelled() {
	a.mu.Lock()
	a.cancelled++
	a.mu.Unlock()
	PayoutsSettled.WithLabelValues(string(domain.StatusCancelled)).Inc()
}

// RecordDepth updates the current queue depth.
func (a *Aggregator) RecordDepth(depth int) {
	a.mu.Lock()
	a.depth = depth
	a.mu.Unlock()
	QueueDepth.Set(float64(depth))
}

// RecordDecision counts one risk assessment outcome.
func (a *Aggregator) RecordDecision(tier domain.RiskTier, action domain.RiskAction) {
	RiskDecisions.WithLabelValues(string(tier), string(action)).Inc()
}

// Snapshot returns current totals. Success rate over zero settlements is 0.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		QueueDepth: a.depth,
		Enqueued:   a.enqueued,
		Completed:  a.completed,
		Failed:     a.failed,
		Cancelled:  a.cancelled,
	}
	if settled := a.completed + a.failed; settled > 0 {
		snap.SuccessRate = float64(a.completed) / float64(settled)
	}
	if a.completed > 0 {
		snap.AvgLatencyMs = float64(a.latencyTotalMs) / float64(a.completed)
	}
	return snap
}
