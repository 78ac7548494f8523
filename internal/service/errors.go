package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrValidation is wrapped by every input error. The caller must fix the
// request before retrying; no write has happened.
var ErrValidation = errors.New("validation failed")

// Errors returned by the order engine.
var (
	ErrEmptyCart              = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrNoOwner                = fmt.Errorf("%w: table_id or customer_id is required", ErrValidation)
	ErrAmbiguousOwner         = fmt.Errorf("%w: only one of table_id or customer_id may be set", ErrValidation)
	ErrInvalidQuantity        = fmt.Errorf("%w: quantity must be > 0", ErrValidation)
	ErrInvalidPaymentMethod   = fmt.Errorf("%w: invalid payment_method", ErrValidation)
	ErrReservationUnavailable = fmt.Errorf("%w: reservation is cancelled or linked to another order", ErrValidation)
	ErrInvalidPromotion       = fmt.Errorf("%w: invalid promotion definition", ErrValidation)
	ErrInsufficientAmount     = fmt.Errorf("%w: amount_received must be >= final total", ErrValidation)
	ErrInvalidPartySize       = fmt.Errorf("%w: party_size must be > 0", ErrValidation)
	ErrInvalidTableID         = fmt.Errorf("%w: table_id is required", ErrValidation)

	ErrOrderNotFound       = errors.New("order not found")
	ErrPromotionNotFound   = errors.New("promotion not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrForbidden           = errors.New("action not permitted for this user")
	ErrPaymentNotFound     = errors.New("no pending payment for order")

	// ErrUnknownPromotionKind means a stored promotion has a kind this
	// build does not understand. It is never treated as a zero discount.
	ErrUnknownPromotionKind = errors.New("unknown promotion kind")
)

// StockInsufficientError names the first cart line that exceeds stock.
type StockInsufficientError struct {
	ItemID    uuid.UUID
	Name      string
	Available int32
}

func (e *StockInsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: %d available", e.Name, e.Available)
}

// PromotionInvalidReason says why a code was rejected.
type PromotionInvalidReason string

const (
	PromotionNotFound  PromotionInvalidReason = "not_found"
	PromotionInactive  PromotionInvalidReason = "inactive"
	PromotionExpired   PromotionInvalidReason = "expired"
	PromotionExhausted PromotionInvalidReason = "exhausted"
)

// PromotionInvalidError is returned when a code cannot be applied.
type PromotionInvalidError struct {
	Code   string
	Reason PromotionInvalidReason
}

func (e *PromotionInvalidError) Error() string {
	return fmt.Sprintf("promotion %q is invalid: %s", e.Code, e.Reason)
}

// StateTransitionError is an illegal lifecycle edge. It is never retried.
type StateTransitionError struct {
	From string
	To   string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// LinkedEntityNotFoundError means a referenced reservation or menu item
// vanished between validation and commit.
type LinkedEntityNotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *LinkedEntityNotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func persistenceErr(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
