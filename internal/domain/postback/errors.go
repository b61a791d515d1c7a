package postback

import "errors"

var (
	// ErrUnauthorized covers a wrong or missing key/signature, and a
	// network whose credentials were never configured. Fails closed.
	ErrUnauthorized = errors.New("postback not authorized")

	// ErrMissingIdentifier means no user id could be extracted from any
	// of the network's known fields.
	ErrMissingIdentifier = errors.New("postback missing user identifier")

	// ErrInvalidAmount means a reward carried a non-positive or
	// unparseable amount.
	ErrInvalidAmount = errors.New("postback invalid amount")
)
