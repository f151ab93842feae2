package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/admission"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/payout"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	lists   domain.ListStore
	bus     domain.EventBus
	tracker *velocity.Tracker
	scorer  *risk.Scorer
	gate    *admission.Gate
	queue   *payout.Queue
	agg     *metrics.Aggregator
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, lists domain.ListStore, bus domain.EventBus, tracker *velocity.Tracker, scorer *risk.Scorer, gate *admission.Gate, queue *payout.Queue, agg *metrics.Aggregator, version string) *Handler {
	return &Handler{
		repo:    repo,
		lists:   lists,
		bus:     bus,
		tracker: tracker,
		scorer:  scorer,
		gate:    gate,
		queue:   queue,
		agg:     agg,
		version: version,
	}
}

// FacetInfo carries the identity facets of a payout candidate. Each non-empty
// facet becomes one tracked entity key.
type FacetInfo struct {
	CustomerID        string `json:"customerId,omitempty"`
	BusinessID        string `json:"businessId,omitempty"`
	NetworkAddress    string `json:"networkAddress,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	InstrumentToken   string `json:"instrumentToken,omitempty"`
}

// EntityKeys expands the facets into entity keys in a fixed order.
func (f FacetInfo) EntityKeys() []domain.EntityKey {
	var keys []domain.EntityKey
	add := func(kind domain.EntityKind, id string) {
		if id != "" {
			keys = append(keys, domain.EntityKey{Kind: kind, ID: id})
		}
	}
	add(domain.EntityCustomer, f.CustomerID)
	add(domain.EntityBusiness, f.BusinessID)
	add(domain.EntityNetwork, f.NetworkAddress)
	add(domain.EntityDevice, f.DeviceFingerprint)
	add(domain.EntityInstrument, f.InstrumentToken)
	return keys
}

// PayoutSubmission is the request body for POST /payouts.
type PayoutSubmission struct {
	ID          string                    `json:"id,omitempty"`
	Amount      float64                   `json:"amount"`
	Currency    string                    `json:"currency"`
	Priority    domain.Priority           `json:"priority,omitempty"`
	Destination domain.PaymentDestination `json:"destination"`
	Facets      FacetInfo                 `json:"facets"`
}

// PayoutResponse is the response for POST /payouts.
type PayoutResponse struct {
	PayoutID       string  `json:"payoutId"`
	Status         string  `json:"status"` // queued, held, rejected
	Amount         float64 `json:"amount"`
	OriginalAmount float64 `json:"originalAmount"`
	Reason         string  `json:"reason,omitempty"`
	Risk           struct {
		Score  float64           `json:"score"`
		Tier   domain.RiskTier   `json:"tier"`
		Action domain.RiskAction `json:"action"`
	} `json:"risk"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// SubmitPayout handles POST /payouts: assess, apply blocks, admit, enqueue.
func (h *Handler) SubmitPayout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req PayoutSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}

	candidate := &domain.PayoutCandidate{
		ID:          req.ID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Entities:    req.Facets.EntityKeys(),
		Destination: req.Destination,
		Priority:    req.Priority,
	}
	if err := candidate.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	assessment, err := h.scorer.Assess(ctx, candidate)
	if err != nil {
		slog.Error("risk assessment failed", "candidate_id", candidate.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "risk assessment failed",
		})
		return
	}

	h.applyBlocks(ctx, candidate.ID, assessment.PendingBlocks)
	h.agg.RecordDecision(assessment.Tier, assessment.Action)

	if h.repo != nil {
		if err := h.repo.SaveAssessment(ctx, assessment); err != nil {
			slog.Error("failed to save assessment", "id", assessment.ID, "error", err)
		}
	}

	decision := h.gate.Admit(ctx, candidate, assessment)

	resp := PayoutResponse{
		PayoutID:       candidate.ID,
		Amount:         decision.AdjustedAmount,
		OriginalAmount: candidate.Amount,
		Reason:         decision.Reason,
	}
	resp.Risk.Score = assessment.Score
	resp.Risk.Tier = assessment.Tier
	resp.Risk.Action = assessment.Action
	resp.Metadata.TraceID = traceID
	resp.Metadata.Version = h.version

	if !decision.Accept {
		// Rejections still count toward velocity so repeated attempts keep
		// raising the score.
		h.tracker.Record(ctx, candidate.Entities, candidate.Amount, time.Now().UTC(), domain.OutcomeRejected)
		resp.Status = "rejected"
		resp.Amount = 0
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if decision.Hold {
		// Held payouts never enter the queue; the repository record is what
		// GET /payouts/{id} serves while review is pending.
		held := &domain.PayoutRequest{
			ID:              candidate.ID,
			Amount:          decision.AdjustedAmount,
			Currency:        candidate.Currency,
			Priority:        candidate.Priority,
			Destination:     candidate.Destination,
			Entities:        candidate.Entities,
			RiskScore:       assessment.Score,
			OriginalAmount:  candidate.Amount,
			ReductionReason: decision.Reason,
			Status:          domain.StatusHeld,
			CreatedAt:       time.Now().UTC(),
		}
		if h.repo != nil {
			if err := h.repo.SavePayout(ctx, held); err != nil {
				slog.Error("failed to persist held payout", "payout_id", held.ID, "error", err)
			}
		}

		resp.Status = "held"
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	payoutReq := &domain.PayoutRequest{
		ID:              candidate.ID,
		Amount:          decision.AdjustedAmount,
		Currency:        candidate.Currency,
		Priority:        candidate.Priority,
		Destination:     candidate.Destination,
		Entities:        candidate.Entities,
		RiskScore:       assessment.Score,
		OriginalAmount:  candidate.Amount,
		ReductionReason: decision.Reason,
	}

	if err := h.queue.Enqueue(ctx, payoutReq); err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateID):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "payout id already submitted",
			})
		case errors.Is(err, domain.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("enqueue failed", "payout_id", payoutReq.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue payout",
			})
		}
		return
	}

	resp.Status = "queued"
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusAccepted, resp)
}

// applyBlocks installs automatic blocks produced by the assessment. Store or
// audit failures are logged; the decision itself already stands.
func (h *Handler) applyBlocks(ctx context.Context, payoutID string, blocks []domain.BlockRecord) {
	if len(blocks) == 0 {
		return
	}
	for _, rec := range blocks {
		if err := h.lists.Block(ctx, rec); err != nil {
			slog.Error("failed to apply block",
				"entity", rec.Entity.String(),
				"error", err,
			)
			continue
		}
		if h.repo != nil {
			if err := h.repo.SaveBlockRecord(ctx, &rec); err != nil {
				slog.Error("failed to persist block record",
					"entity", rec.Entity.String(),
					"error", err,
				)
			}
		}
		slog.Warn("entity blocked",
			"entity", rec.Entity.String(),
			"reason", rec.Reason,
			"payout_id", payoutID,
		)
	}
	h.gate.EmitBlockAlerts(ctx, payoutID, blocks)
}

// GetPayout retrieves a payout by ID, checking the live queue first and the
// repository for older records.
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	req, err := h.queue.Get(id)
	if err != nil && h.repo != nil {
		req, err = h.repo.GetPayout(ctx, id)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "payout not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// ListPayouts lists recent payouts, optionally filtered by status.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	status := domain.PayoutStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	payouts, err := h.repo.ListPayouts(r.Context(), status, limit)
	if err != nil {
		slog.Error("failed to list payouts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list payouts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

// CancelPayout handles DELETE /payouts/{id}. Only requests still waiting in
// the queue can be cancelled.
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.queue.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "payout not found",
			})
		case errors.Is(err, domain.ErrNotCancellable):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to cancel payout",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// GetVelocity handles GET /velocity/{kind}/{id}?window=1h.
func (h *Handler) GetVelocity(w http.ResponseWriter, r *http.Request) {
	key := domain.EntityKey{
		Kind: domain.EntityKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "window must be a positive duration",
			})
			return
		}
		window = parsed
	}

	agg, err := h.tracker.Query(r.Context(), key, window)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "velocity query failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity": key,
		"window": window.String(),
		"count":  agg.Count,
		"total":  agg.Total,
	})
}

// BlockRequest is the request body for POST /blocks.
type BlockRequest struct {
	Kind   domain.EntityKind `json:"kind"`
	ID     string            `json:"id"`
	Reason string            `json:"reason"`
	TTL    string            `json:"ttl,omitempty"` // duration, empty for permanent
}

// CreateBlock handles POST /blocks for manual blacklist curation.
func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	key := domain.EntityKey{Kind: req.Kind, ID: req.ID}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reason is required",
		})
		return
	}

	rec := domain.BlockRecord{
		Entity:    key,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "ttl must be a positive duration",
			})
			return
		}
		expires := rec.CreatedAt.Add(ttl)
		rec.ExpiresAt = &expires
	}

	if err := h.lists.Block(ctx, rec); err != nil {
		slog.Error("failed to create block", "entity", key.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create block",
		})
		return
	}
	if h.repo != nil {
		if err := h.repo.SaveBlockRecord(ctx, &rec); err != nil {
			slog.Error("failed to persist block record", "entity", key.String(), "error", err)
		}
	}

	slog.Info("block created", "entity", key.String(), "reason", req.Reason)
	writeJSON(w, http.StatusCreated, rec)
}

// ListBlocks handles GET /blocks.
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.lists.ListBlocks(r.Context())
	if err != nil {
		slog.Error("failed to list blocks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list blocks",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocks": blocks,
		"count":  len(blocks),
	})
}

// DeleteBlock handles DELETE /blocks/{kind}/{id}.
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	key := domain.EntityKey{
		Kind: domain.EntityKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.lists.Unblock(r.Context(), key); err != nil {
		slog.Error("failed to remove block", "entity", key.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to remove block",
		})
		return
	}

	slog.Info("block removed", "entity", key.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "block removed",
	})
}

// WhitelistRequest is the request body for POST /whitelist.
type WhitelistRequest struct {
	Kind domain.EntityKind `json:"kind"`
	ID   string            `json:"id"`
	Note string            `json:"note,omitempty"`
}

// CreateWhitelistEntry handles POST /whitelist.
func (h *Handler) CreateWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	key := domain.EntityKey{Kind: req.Kind, ID: req.ID}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	entry := domain.WhitelistEntry{
		Entity:    key,
		Note:      req.Note,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.lists.Whitelist(r.Context(), entry); err != nil {
		slog.Error("failed to whitelist entity", "entity", key.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to whitelist entity",
		})
		return
	}

	slog.Info("entity whitelisted", "entity", key.String())
	writeJSON(w, http.StatusCreated, entry)
}

// DeleteWhitelistEntry handles DELETE /whitelist/{kind}/{id}.
func (h *Handler) DeleteWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	key := domain.EntityKey{
		Kind: domain.EntityKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.lists.Unwhitelist(r.Context(), key); err != nil {
		slog.Error("failed to remove whitelist entry", "entity", key.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to remove whitelist entry",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "whitelist entry removed",
	})
}

// Stats handles GET /stats with a point-in-time pipeline snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.agg.RecordDepth(h.queue.Depth())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pipeline":        h.agg.Snapshot(),
		"trackedEntities": h.tracker.EntityCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.lists != nil {
		if err := h.lists.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
