package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrSoldOut           = errors.New("tickets are sold out")
	ErrHoldExpired       = errors.New("reservation hold expired or does not exist")
	ErrDuplicatePurchase = errors.New("attendee has already purchased a ticket for this event")
	ErrAmountMismatch    = errors.New("payment amount is not correct")
	ErrInvalidState      = errors.New("invalid reservation state")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrUnavailable marks transient store failures. It is never a success.
	ErrUnavailable = errors.New("store unavailable")
)

var (
	ErrDuplicateReservation = fmt.Errorf("attendee already has a pending reservation for this event: %w", ErrConflict)
	// ErrInventoryDrift is returned when a compensating increment could not be applied.
	ErrInventoryDrift = fmt.Errorf("inventory compensation failed: %w", ErrUnavailable)
)
