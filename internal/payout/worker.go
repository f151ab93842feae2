package payout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Start launches the single settlement worker. The worker drains every due
// request on each tick or wake, one at a time; queue order is the only
// concurrency control the settlement path needs.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancelRun = cancel
	q.done = make(chan struct{})

	go q.run(ctx)

	slog.Info("payout worker started",
		"tick", q.cfg.Tick,
		"max_retries", q.cfg.MaxRetries,
		"backoff_base", q.cfg.BackoffBase,
	)
}

// Stop halts the worker and waits for an in-flight settlement to finish.
func (q *Queue) Stop() {
	if q.cancelRun == nil {
		return
	}
	q.cancelRun()
	<-q.done
	slog.Info("payout worker stopped", "depth", q.Depth())
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		req := q.popDue(q.now())
		if req == nil {
			return
		}
		q.process(ctx, req)
		if q.recorder != nil {
			q.recorder.RecordDepth(q.Depth())
		}
	}
}

// process runs one settlement attempt and applies the outcome to the request
// state machine. A panic inside the settler fails the payout instead of
// killing the worker.
func (q *Queue) process(ctx context.Context, req *domain.PayoutRequest) {
	start := q.now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("settlement panicked",
				"payout_id", req.ID,
				"panic", r,
			)
			q.countFailure(req)
			q.fail(ctx, req, domain.NewTerminalError("system_fault", "settlement provider panicked"), start)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, q.cfg.SettlementTimeout)
	result, err := q.settler.Execute(callCtx, req.Destination, req.Amount, req.Currency, req.ID)
	cancel()

	if err == nil {
		q.complete(ctx, req, result, start)
		return
	}

	// Attempts counts failed settlement calls, so a request that eventually
	// succeeds keeps the number of failures it took to get there.
	attempts := q.countFailure(req)

	if domain.IsRetryable(err) && attempts <= req.MaxRetries {
		delay := q.cfg.BackoffBase << (attempts - 1)
		dueAt := q.now().Add(delay)
		q.requeueForRetry(req, dueAt, err)
		q.persist(ctx, req)

		slog.Warn("settlement failed, retry scheduled",
			"payout_id", req.ID,
			"failures", attempts,
			"max_retries", req.MaxRetries,
			"delay", delay,
			"error", err,
		)
		return
	}

	q.fail(ctx, req, err, start)
}

func (q *Queue) countFailure(req *domain.PayoutRequest) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.Attempts++
	return req.Attempts
}

func (q *Queue) complete(ctx context.Context, req *domain.PayoutRequest, result *domain.SettlementResult, start time.Time) {
	now := q.now()
	latency := now.Sub(req.CreatedAt).Milliseconds()

	q.mu.Lock()
	req.Status = domain.StatusCompleted
	req.ReferenceID = result.ReferenceID
	req.CompletedAt = &now
	req.ProcessingMs = now.Sub(start).Milliseconds()
	cp := *req
	q.mu.Unlock()

	if q.recorder != nil {
		q.recorder.RecordCompleted(latency)
	}
	if q.observer != nil {
		q.observer.Record(ctx, cp.Entities, cp.Amount, now, domain.OutcomeCompleted)
	}
	q.persist(ctx, &cp)
	q.publish(ctx, domain.TopicPayoutSettled, &cp)

	slog.Info("payout settled",
		"payout_id", cp.ID,
		"reference_id", cp.ReferenceID,
		"amount", cp.Amount,
		"attempts", cp.Attempts,
		"latency_ms", latency,
	)
}

func (q *Queue) fail(ctx context.Context, req *domain.PayoutRequest, err error, start time.Time) {
	now := q.now()

	q.mu.Lock()
	req.Status = domain.StatusFailed
	req.LastError = err.Error()
	req.CompletedAt = &now
	req.ProcessingMs = now.Sub(start).Milliseconds()
	cp := *req
	q.mu.Unlock()

	if q.recorder != nil {
		q.recorder.RecordFailed()
	}
	if q.observer != nil {
		q.observer.Record(ctx, cp.Entities, cp.Amount, now, domain.OutcomeFailed)
	}
	q.persist(ctx, &cp)
	q.publish(ctx, domain.TopicPayoutFailed, &cp)
	q.alertFailure(ctx, &cp, err)

	slog.Error("payout failed",
		"payout_id", cp.ID,
		"attempts", cp.Attempts,
		"code", domain.ErrorCode(err),
		"error", err,
	)
}

func (q *Queue) publish(ctx context.Context, topic string, req *domain.PayoutRequest) {
	if q.bus == nil {
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := q.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish payout event",
			"topic", topic,
			"payout_id", req.ID,
			"error", err,
		)
	}
}

func (q *Queue) alertFailure(ctx context.Context, req *domain.PayoutRequest, cause error) {
	if q.bus == nil {
		return
	}
	alert := domain.Alert{
		ID:        uuid.New().String(),
		Type:      domain.AlertPayoutFailed,
		Severity:  domain.SeverityWarning,
		PayoutID:  req.ID,
		Entities:  req.Entities,
		Reason:    cause.Error(),
		CreatedAt: q.now(),
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := q.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		slog.Error("failed to publish alert",
			"type", alert.Type,
			"payout_id", req.ID,
			"error", err,
		)
	}
}

func logPersistError(id string, err error) {
	slog.Error("failed to persist payout",
		"payout_id", id,
		"error", err,
	)
}
