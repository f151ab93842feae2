package domain

import (
	"fmt"
	"time"
)

// Priority orders payout requests in the queue.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the dequeue order of the priority; lower drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// PayoutStatus is the lifecycle state of a PayoutRequest.
type PayoutStatus string

const (
	// StatusHeld marks a payout admitted with a hold: it never enters the
	// queue and waits for out-of-band review.
	StatusHeld PayoutStatus = "held"

	StatusQueued       PayoutStatus = "queued"
	StatusProcessing   PayoutStatus = "processing"
	StatusRetryPending PayoutStatus = "retry_pending"
	StatusCompleted    PayoutStatus = "completed"
	StatusFailed       PayoutStatus = "failed"
	StatusCancelled    PayoutStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s PayoutStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PaymentDestination describes where settled funds go. The settlement rail
// itself is an external collaborator; Kestrel only validates shape.
type PaymentDestination struct {
	Method  string `json:"method"` // e.g. "bank", "wallet", "card"
	Account string `json:"account"`
	Name    string `json:"name,omitempty"`
}

// Validate checks the destination descriptor is well-formed.
func (d PaymentDestination) Validate() error {
	if d.Method == "" {
		return fmt.Errorf("destination method is required")
	}
	if d.Account == "" {
		return fmt.Errorf("destination account is required")
	}
	return nil
}

// PayoutCandidate is a reward decision awaiting risk assessment and
// admission. Supplied by the reward decision source.
type PayoutCandidate struct {
	ID          string             `json:"id"`
	Amount      float64            `json:"amount"`
	Currency    string             `json:"currency"`
	Entities    []EntityKey        `json:"entities"`
	Destination PaymentDestination `json:"destination"`
	Priority    Priority           `json:"priority"`
}

// Validate checks the candidate before assessment.
func (c *PayoutCandidate) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("at least one entity key is required")
	}
	for _, key := range c.Entities {
		if err := key.Validate(); err != nil {
			return err
		}
	}
	if err := c.Destination.Validate(); err != nil {
		return err
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("unknown priority: %q", c.Priority)
	}
	return nil
}

// PayoutRequest is an admitted payout moving through the queue. Owned by the
// Payout Queue while queued/processing; the terminal record transfers to the
// repository and metrics history.
type PayoutRequest struct {
	ID       string   `json:"id"`
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency"`
	Priority Priority `json:"priority"`

	Destination PaymentDestination `json:"destination"`
	Entities    []EntityKey        `json:"entities"`

	// Audit trail from admission.
	RiskScore       float64 `json:"riskScore"`
	OriginalAmount  float64 `json:"originalAmount"`
	ReductionReason string  `json:"reductionReason,omitempty"`

	Attempts   int          `json:"attempts"`
	MaxRetries int          `json:"maxRetries"`
	Status     PayoutStatus `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ReferenceID  string `json:"referenceId,omitempty"`
	LastError    string `json:"lastError,omitempty"`
	ProcessingMs int64  `json:"processingMs,omitempty"`
}

// Validate checks the request once at creation; a malformed request is
// rejected before entering the queue and never becomes a retry target.
func (p *PayoutRequest) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("payout id is required")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if len(p.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	if !p.Priority.Valid() {
		return fmt.Errorf("unknown priority: %q", p.Priority)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return p.Destination.Validate()
}
