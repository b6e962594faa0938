package crawler

import "errors"

var (
	// ErrFrontierMissing is returned when no frontier is available for the group.
	ErrFrontierMissing = errors.New("frontier not found")

	// ErrFrontierIncomplete is returned when the frontier is still being collected.
	ErrFrontierIncomplete = errors.New("frontier collection is not complete")

	// ErrInvalidRange is returned when the requested index range is empty after clamping.
	ErrInvalidRange = errors.New("invalid index range")

	// ErrBreakerTripped is returned when consecutive fetch failures stopped the run.
	ErrBreakerTripped = errors.New("too many consecutive fetch failures")
)
