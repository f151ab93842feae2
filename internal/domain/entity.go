// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// EntityKind is one identity facet used to bucket transaction history.
type EntityKind string

const (
	EntityCustomer   EntityKind = "customer"
	EntityBusiness   EntityKind = "business"
	EntityNetwork    EntityKind = "network"
	EntityDevice     EntityKind = "device"
	EntityInstrument EntityKind = "instrument"
)

// AllEntityKinds lists every supported entity kind.
var AllEntityKinds = []EntityKind{
	EntityCustomer,
	EntityBusiness,
	EntityNetwork,
	EntityDevice,
	EntityInstrument,
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	for _, kind := range AllEntityKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// EntityKey identifies a single tracked entity: (kind, identifier).
// A payout candidate touches up to five entity keys at once.
type EntityKey struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// String returns the canonical "kind:id" form used as a map/store key.
func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Validate checks that the key is well-formed.
func (k EntityKey) Validate() error {
	if !k.Kind.Valid() {
		return fmt.Errorf("unknown entity kind: %q", k.Kind)
	}
	if k.ID == "" {
		return fmt.Errorf("entity id is required for kind %s", k.Kind)
	}
	return nil
}

// ObservationOutcome records how the transaction behind an observation ended.
type ObservationOutcome string

const (
	OutcomeCompleted ObservationOutcome = "completed"
	OutcomeFailed    ObservationOutcome = "failed"
	OutcomeRejected  ObservationOutcome = "rejected"
)

// Observation is an immutable velocity history record. The same observation
// is appended to the history of every entity key the payout touched.
type Observation struct {
	Amount    float64            `json:"amount"`
	Timestamp time.Time          `json:"timestamp"`
	Outcome   ObservationOutcome `json:"outcome"`
}

// Aggregate is the answer to a velocity query: how many transactions and how
// much value an entity produced inside a window.
type Aggregate struct {
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}
