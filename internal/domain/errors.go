package domain

import "errors"

// Sentinel errors shared across components. Wrap with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateID    = errors.New("duplicate id")
	ErrNotCancellable = errors.New("payout is not cancellable")
)
