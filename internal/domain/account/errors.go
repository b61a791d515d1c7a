package account

import "errors"

var (
	// ErrNotFound is returned when the referenced account does not exist
	ErrNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned when a conditional debit loses to
	// the current balance (or to a concurrent debit)
	ErrInsufficientBalance = errors.New("insufficient balance")
)
