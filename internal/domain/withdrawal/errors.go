package withdrawal

import "errors"

var (
	ErrUnknownOption = errors.New("unknown withdrawal option")

	// ErrNotificationFailed means the debit was rolled back because the
	// operator channel did not confirm delivery. Safe to retry.
	ErrNotificationFailed = errors.New("withdrawal notification failed")
)
