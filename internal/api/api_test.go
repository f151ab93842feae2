package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/admission"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lists"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/payout"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/settlement"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// testPipeline wires a full in-process pipeline behind a router. The queue
// worker is not started; settlement is driven by Enqueue only when a test
// needs it.
type testPipeline struct {
	router  http.Handler
	queue   *payout.Queue
	settler *settlement.MockProvider
	lists   domain.ListStore
}

func newTestPipeline(t *testing.T, mutate ...func(*domain.Config)) *testPipeline {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Queue.Tick = time.Hour // drained manually, never by timer
	for _, fn := range mutate {
		fn(cfg)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := lists.New(domain.ListStoreConfig{Type: "memory", MaxEntries: 100})
	if err != nil {
		t.Fatalf("failed to create list store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eventBus, err := bus.New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 64})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(func() { eventBus.Close() })

	tracker := velocity.NewTracker(cfg.Velocity, nil)
	scorer, err := risk.NewScorer(cfg.Risk, cfg.Velocity.Rules, tracker, store)
	if err != nil {
		t.Fatalf("failed to create scorer: %v", err)
	}
	gate := admission.NewGate(cfg.Admission, cfg.Risk, eventBus)
	settler := settlement.NewMockProvider()
	agg := metrics.NewAggregator()
	queue := payout.NewQueue(cfg.Queue, settler, repo, eventBus, agg, tracker)

	handler := NewHandler(repo, store, eventBus, tracker, scorer, gate, queue, agg, "test")
	server := NewServer(cfg.Server, handler)

	return &testPipeline{
		router:  server.Router(),
		queue:   queue,
		settler: settler,
		lists:   store,
	}
}

func (p *testPipeline) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v\n%s", err, rec.Body.String())
	}
	return out
}

func submission(id string, amount float64) PayoutSubmission {
	return PayoutSubmission{
		ID:       id,
		Amount:   amount,
		Currency: "USD",
		Priority: domain.PriorityMedium,
		Destination: domain.PaymentDestination{
			Method:  "wallet",
			Account: "acct-1",
		},
		Facets: FacetInfo{
			CustomerID:        "cust-1",
			DeviceFingerprint: "dev-1",
		},
	}
}

func TestSubmitPayout(t *testing.T) {
	t.Run("CleanCandidateQueued", func(t *testing.T) {
		p := newTestPipeline(t)

		rec := p.do(t, http.MethodPost, "/payouts", submission("pay-1", 50))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}

		resp := decode[PayoutResponse](t, rec)
		if resp.Status != "queued" {
			t.Errorf("expected queued, got %s", resp.Status)
		}
		if resp.Amount != 50 {
			t.Errorf("expected full amount, got %v", resp.Amount)
		}
		if resp.Risk.Tier != domain.TierLow {
			t.Errorf("expected low tier, got %s", resp.Risk.Tier)
		}
		if p.queue.Depth() != 1 {
			t.Errorf("expected depth 1, got %d", p.queue.Depth())
		}
	})

	t.Run("InvalidCandidate", func(t *testing.T) {
		p := newTestPipeline(t)

		bad := submission("pay-bad", 50)
		bad.Facets = FacetInfo{}
		rec := p.do(t, http.MethodPost, "/payouts", bad)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}

		rec = p.do(t, http.MethodPost, "/payouts", submission("pay-neg", -5))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for negative amount, got %d", rec.Code)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		p := newTestPipeline(t)

		if rec := p.do(t, http.MethodPost, "/payouts", submission("pay-dup", 50)); rec.Code != http.StatusAccepted {
			t.Fatalf("first submit failed: %d", rec.Code)
		}
		if rec := p.do(t, http.MethodPost, "/payouts", submission("pay-dup", 50)); rec.Code != http.StatusConflict {
			t.Errorf("expected 409 for duplicate, got %d", rec.Code)
		}
	})

	t.Run("BlockedEntityRejected", func(t *testing.T) {
		p := newTestPipeline(t)

		block := BlockRequest{
			Kind:   domain.EntityCustomer,
			ID:     "cust-1",
			Reason: "manual review",
		}
		if rec := p.do(t, http.MethodPost, "/blocks", block); rec.Code != http.StatusCreated {
			t.Fatalf("block creation failed: %d", rec.Code)
		}

		rec := p.do(t, http.MethodPost, "/payouts", submission("pay-blocked", 50))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decode[PayoutResponse](t, rec)
		if resp.Status != "rejected" {
			t.Errorf("expected rejected, got %s", resp.Status)
		}
		if resp.Risk.Tier != domain.TierCritical {
			t.Errorf("expected critical tier, got %s", resp.Risk.Tier)
		}
		if p.queue.Depth() != 0 {
			t.Errorf("rejected payout must not enqueue, depth %d", p.queue.Depth())
		}
	})

	t.Run("OverMaxCapped", func(t *testing.T) {
		p := newTestPipeline(t)

		rec := p.do(t, http.MethodPost, "/payouts", submission("pay-big", 2000))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[PayoutResponse](t, rec)
		if resp.Amount != 1000 {
			t.Errorf("expected cap at 1000, got %v", resp.Amount)
		}
		if resp.OriginalAmount != 2000 {
			t.Errorf("expected original 2000, got %v", resp.OriginalAmount)
		}
	})
}

func TestGetAndCancelPayout(t *testing.T) {
	p := newTestPipeline(t)

	if rec := p.do(t, http.MethodPost, "/payouts", submission("pay-1", 50)); rec.Code != http.StatusAccepted {
		t.Fatalf("submit failed: %d", rec.Code)
	}

	t.Run("Get", func(t *testing.T) {
		rec := p.do(t, http.MethodGet, "/payouts/pay-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode[domain.PayoutRequest](t, rec)
		if got.ID != "pay-1" || got.Status != domain.StatusQueued {
			t.Errorf("unexpected payout: %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if rec := p.do(t, http.MethodGet, "/payouts/no-such", nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		rec := p.do(t, http.MethodDelete, "/payouts/pay-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode[domain.PayoutRequest](t, rec)
		if got.Status != domain.StatusCancelled {
			t.Errorf("expected cancelled, got %s", got.Status)
		}

		// Terminal payouts cannot be cancelled twice.
		if rec := p.do(t, http.MethodDelete, "/payouts/pay-1", nil); rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})
}

func TestHeldPayoutRetrievable(t *testing.T) {
	// Weight the custom category so a single rule lands the composite in the
	// high tier, which holds instead of queueing.
	p := newTestPipeline(t, func(cfg *domain.Config) {
		cfg.Risk.CustomRules = []domain.CustomRule{
			{ID: "large-amount-review", Expression: "amount > 400.0", Points: 100},
		}
		cfg.Risk.Weights = domain.CategoryWeights{
			Velocity:   0.1,
			Behavioral: 0.1,
			Lists:      0.1,
			Custom:     0.7,
		}
	})

	rec := p.do(t, http.MethodPost, "/payouts", submission("pay-held", 500))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[PayoutResponse](t, rec)
	if resp.Status != "held" {
		t.Fatalf("expected held, got %s", resp.Status)
	}
	if resp.Risk.Tier != domain.TierHigh {
		t.Errorf("expected high tier, got %s", resp.Risk.Tier)
	}
	if resp.Amount != 250 {
		t.Errorf("expected hold reduction to 250, got %v", resp.Amount)
	}
	if p.queue.Depth() != 0 {
		t.Errorf("held payout must not enqueue, depth %d", p.queue.Depth())
	}

	// The held record is served from the repository.
	rec = p.do(t, http.MethodGet, "/payouts/pay-held", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for held payout, got %d", rec.Code)
	}
	got := decode[domain.PayoutRequest](t, rec)
	if got.Status != domain.StatusHeld {
		t.Errorf("expected held status, got %s", got.Status)
	}
	if got.Amount != 250 || got.OriginalAmount != 500 {
		t.Errorf("unexpected amounts: %v of %v", got.Amount, got.OriginalAmount)
	}
}

func TestVelocityEndpoint(t *testing.T) {
	p := newTestPipeline(t)

	for i := 0; i < 3; i++ {
		sub := submission(fmt.Sprintf("pay-%d", i), 10)
		// Urgent submissions leave a wake pending, so the worker drains
		// immediately on start instead of waiting out the long test tick.
		sub.Priority = domain.PriorityUrgent
		if rec := p.do(t, http.MethodPost, "/payouts", sub); rec.Code != http.StatusAccepted {
			t.Fatalf("submit %s failed: %d", sub.ID, rec.Code)
		}
	}

	// Queued payouts have no observations yet; settle them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.queue.Start(ctx)
	deadline := time.Now().Add(5 * time.Second)
	for p.queue.Depth() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.queue.Stop()
	if got := p.queue.Depth(); got != 0 {
		t.Fatalf("queue did not drain, depth %d", got)
	}
	if calls := p.settler.Calls(); len(calls) != 3 {
		t.Fatalf("expected 3 settlement calls, got %d", len(calls))
	}

	rec := p.do(t, http.MethodGet, "/velocity/customer/cust-1?window=1h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		Count int64   `json:"count"`
		Total float64 `json:"total"`
	}](t, rec)
	if got.Count != 3 || got.Total != 30 {
		t.Errorf("expected count 3 total 30, got %+v", got)
	}

	t.Run("BadKind", func(t *testing.T) {
		if rec := p.do(t, http.MethodGet, "/velocity/martian/x", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("BadWindow", func(t *testing.T) {
		if rec := p.do(t, http.MethodGet, "/velocity/customer/cust-1?window=soon", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestListCuration(t *testing.T) {
	p := newTestPipeline(t)

	t.Run("BlockLifecycle", func(t *testing.T) {
		block := BlockRequest{
			Kind:   domain.EntityDevice,
			ID:     "dev-9",
			Reason: "fraud ring",
			TTL:    "1h",
		}
		if rec := p.do(t, http.MethodPost, "/blocks", block); rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}

		rec := p.do(t, http.MethodGet, "/blocks", nil)
		listing := decode[struct {
			Count int `json:"count"`
		}](t, rec)
		if listing.Count != 1 {
			t.Errorf("expected 1 block, got %d", listing.Count)
		}

		if rec := p.do(t, http.MethodDelete, "/blocks/device/dev-9", nil); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}

		rec = p.do(t, http.MethodGet, "/blocks", nil)
		listing = decode[struct {
			Count int `json:"count"`
		}](t, rec)
		if listing.Count != 0 {
			t.Errorf("expected no blocks after delete, got %d", listing.Count)
		}
	})

	t.Run("BlockValidation", func(t *testing.T) {
		if rec := p.do(t, http.MethodPost, "/blocks", BlockRequest{Kind: "bogus", ID: "x", Reason: "r"}); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad kind, got %d", rec.Code)
		}
		if rec := p.do(t, http.MethodPost, "/blocks", BlockRequest{Kind: domain.EntityDevice, ID: "x"}); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for missing reason, got %d", rec.Code)
		}
	})

	t.Run("WhitelistLifecycle", func(t *testing.T) {
		entry := WhitelistRequest{Kind: domain.EntityCustomer, ID: "vip-1", Note: "partner"}
		if rec := p.do(t, http.MethodPost, "/whitelist", entry); rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}

		ok, err := p.lists.IsWhitelisted(context.Background(), domain.EntityKey{Kind: domain.EntityCustomer, ID: "vip-1"})
		if err != nil || !ok {
			t.Errorf("expected whitelisted, got %v %v", ok, err)
		}

		if rec := p.do(t, http.MethodDelete, "/whitelist/customer/vip-1", nil); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		ok, _ = p.lists.IsWhitelisted(context.Background(), domain.EntityKey{Kind: domain.EntityCustomer, ID: "vip-1"})
		if ok {
			t.Error("expected whitelist entry removed")
		}
	})
}

func TestStatsAndHealth(t *testing.T) {
	p := newTestPipeline(t)

	if rec := p.do(t, http.MethodPost, "/payouts", submission("pay-1", 50)); rec.Code != http.StatusAccepted {
		t.Fatalf("submit failed: %d", rec.Code)
	}

	t.Run("Stats", func(t *testing.T) {
		rec := p.do(t, http.MethodGet, "/stats", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		stats := decode[struct {
			Pipeline        metrics.Snapshot `json:"pipeline"`
			TrackedEntities int              `json:"trackedEntities"`
		}](t, rec)
		if stats.Pipeline.Enqueued < 1 {
			t.Errorf("expected at least one enqueued, got %d", stats.Pipeline.Enqueued)
		}
		if stats.Pipeline.QueueDepth != 1 {
			t.Errorf("expected depth 1, got %d", stats.Pipeline.QueueDepth)
		}
		// Scoring the submission touched the customer and device facets.
		if stats.TrackedEntities != 2 {
			t.Errorf("expected 2 tracked entities, got %d", stats.TrackedEntities)
		}
	})

	t.Run("Health", func(t *testing.T) {
		rec := p.do(t, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decode[map[string]string](t, rec)
		if body["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", body["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		if rec := p.do(t, http.MethodGet, "/ready", nil); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := p.do(t, http.MethodGet, "/metrics", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}
