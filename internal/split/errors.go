package split

import "errors"

var (
	// ErrInvalidRequest marks caller errors that should map to 400.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrExperimentNotFound is returned when an experiment id does not
	// resolve.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrInvalidTransition is returned for lifecycle moves the status
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
