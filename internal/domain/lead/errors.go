package lead

import "errors"

var (
	// ErrNotFound is returned when no lead matches the lookup
	ErrNotFound = errors.New("lead not found")
)
