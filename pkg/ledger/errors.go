package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrBalanceNotFound is returned when a user has no balance record
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInsufficientTokens is returned when a debit would push the balance
	// below zero. Use errors.As with *InsufficientTokensError to read the
	// exact shortfall.
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownFeature is returned for a feature with no configured cost
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrDuplicatePurchase is returned when a purchase with the same
	// external transaction id was already recorded
	ErrDuplicatePurchase = errors.New("purchase already recorded")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// InsufficientTokensError carries the exact shortfall of a rejected debit.
// It matches ErrInsufficientTokens under errors.Is.
type InsufficientTokensError struct {
	Required  int64
	Available int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}
