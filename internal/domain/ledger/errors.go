package ledger

import "errors"

var (
	// ErrInvalidAmount is returned for a reward with a non-positive amount
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrUnknownBonusType is returned for an unrecognized social bonus type
	ErrUnknownBonusType = errors.New("unknown social bonus type")

	// ErrBonusAlreadyClaimed is returned when a one-shot bonus was already
	// granted to the account
	ErrBonusAlreadyClaimed = errors.New("bonus already claimed")

	ErrInternal = errors.New("internal error")
)
