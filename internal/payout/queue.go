// Package payout implements the priority payout queue and settlement worker.
package payout

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder receives queue lifecycle events for metrics aggregation.
type Recorder interface {
	RecordEnqueued(priority domain.Priority)
	RecordCompleted(latencyMs int64)
	RecordFailed()
	RecordCancelled()
	RecordDepth(depth int)
}

// ObservationRecorder feeds settled/failed payouts back into velocity
// history. Matches the velocity tracker's Record method.
type ObservationRecorder interface {
	Record(ctx context.Context, keys []domain.EntityKey, amount float64, ts time.Time, outcome domain.ObservationOutcome)
}

// item is one heap entry. seq preserves FIFO order within a priority; dueAt
// is zero for fresh requests and set for retry-pending ones.
type item struct {
	req   *domain.PayoutRequest
	seq   uint64
	dueAt time.Time
	index int
}

// requestHeap orders by (priority rank, arrival sequence). Retry timing is
// handled at pop time, not in the ordering, so a due low-priority item never
// starves behind a not-yet-due urgent one.
type requestHeap []*item

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	ri, rj := h[i].req.Priority.Rank(), h[j].req.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is the priority payout queue. A single worker goroutine drains it on
// a fixed tick, with an immediate wake for urgent/high arrivals. The queue
// owns a request from Enqueue until it reaches a terminal status; terminal
// records stay readable for the process lifetime and are mirrored to the
// repository.
type Queue struct {
	mu       sync.Mutex
	heap     requestHeap
	queued   map[string]*item                 // in-heap items by request ID
	requests map[string]*domain.PayoutRequest // every request ever accepted

	seq  uint64
	wake chan struct{}

	cfg      domain.QueueConfig
	settler  domain.Settler
	repo     domain.Repository
	bus      domain.EventBus
	recorder Recorder
	observer ObservationRecorder

	cancelRun context.CancelFunc
	done      chan struct{}

	now func() time.Time
}

// NewQueue creates a payout queue. repo, bus, recorder and observer may be
// nil.
func NewQueue(cfg domain.QueueConfig, settler domain.Settler, repo domain.Repository, bus domain.EventBus, recorder Recorder, observer ObservationRecorder) *Queue {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 10 * time.Second
	}

	return &Queue{
		queued:   make(map[string]*item),
		requests: make(map[string]*domain.PayoutRequest),
		wake:     make(chan struct{}, 1),
		cfg:      cfg,
		settler:  settler,
		repo:     repo,
		bus:      bus,
		recorder: recorder,
		observer: observer,
		now:      time.Now,
	}
}

// Enqueue validates and admits a request. The request ID doubles as the
// settlement idempotency key, so a duplicate ID is rejected outright.
func (q *Queue) Enqueue(ctx context.Context, req *domain.PayoutRequest) error {
	if req.MaxRetries == 0 {
		req.MaxRetries = q.cfg.MaxRetries
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	q.mu.Lock()
	if _, exists := q.requests[req.ID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, req.ID)
	}

	req.Status = domain.StatusQueued
	if req.CreatedAt.IsZero() {
		req.CreatedAt = q.now()
	}

	q.seq++
	it := &item{req: req, seq: q.seq}
	heap.Push(&q.heap, it)
	q.queued[req.ID] = it
	q.requests[req.ID] = req
	depth := q.heap.Len()
	q.mu.Unlock()

	if q.recorder != nil {
		q.recorder.RecordEnqueued(req.Priority)
		q.recorder.RecordDepth(depth)
	}
	q.persist(ctx, req)

	// Urgent and high work should not wait out the tick.
	if req.Priority == domain.PriorityUrgent || req.Priority == domain.PriorityHigh {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Get returns a copy of the request, queued or terminal.
func (q *Queue) Get(id string) (*domain.PayoutRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: payout %s", domain.ErrNotFound, id)
	}
	cp := *req
	return &cp, nil
}

// Cancel removes a request that has not started processing. A request being
// settled or already terminal is not cancellable.
func (q *Queue) Cancel(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	q.mu.Lock()

	req, ok := q.requests[id]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: payout %s", domain.ErrNotFound, id)
	}

	it, inHeap := q.queued[id]
	if !inHeap {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: payout %s is %s", domain.ErrNotCancellable, id, req.Status)
	}

	heap.Remove(&q.heap, it.index)
	delete(q.queued, id)

	now := q.now()
	req.Status = domain.StatusCancelled
	req.CompletedAt = &now
	cp := *req
	depth := q.heap.Len()
	q.mu.Unlock()

	if q.recorder != nil {
		q.recorder.RecordCancelled()
		q.recorder.RecordDepth(depth)
	}
	q.persist(ctx, &cp)
	return &cp, nil
}

// Depth returns the number of requests waiting in the queue.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// popDue removes and returns the highest-priority due request, or nil.
// Not-yet-due retry items are skipped and reinserted.
func (q *Queue) popDue(now time.Time) *domain.PayoutRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deferred []*item
	var picked *item
	for q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*item)
		if it.dueAt.After(now) {
			deferred = append(deferred, it)
			continue
		}
		picked = it
		break
	}
	for _, it := range deferred {
		heap.Push(&q.heap, it)
	}

	if picked == nil {
		return nil
	}
	delete(q.queued, picked.req.ID)
	picked.req.Status = domain.StatusProcessing
	return picked.req
}

// requeueForRetry puts a failed request back with a delay. Keeps its
// priority; FIFO position restarts at the back of that priority band.
func (q *Queue) requeueForRetry(req *domain.PayoutRequest, dueAt time.Time, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req.Status = domain.StatusRetryPending
	req.ScheduledAt = &dueAt
	req.LastError = cause.Error()

	q.seq++
	it := &item{req: req, seq: q.seq, dueAt: dueAt}
	heap.Push(&q.heap, it)
	q.queued[req.ID] = it
}

func (q *Queue) persist(ctx context.Context, req *domain.PayoutRequest) {
	if q.repo == nil {
		return
	}
	if err := q.repo.SavePayout(ctx, req); err != nil {
		logPersistError(req.ID, err)
	}
}
