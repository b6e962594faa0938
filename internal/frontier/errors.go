package frontier

import "errors"

var (
	// ErrInvalidRatios is returned when sampling ratios are out of range or sum to zero.
	ErrInvalidRatios = errors.New("invalid sampling ratios")

	// ErrNoSources is returned when no sampling source is configured.
	ErrNoSources = errors.New("no listing sources configured")

	// ErrInvalidTarget is returned when a target names neither a community nor a post.
	ErrInvalidTarget = errors.New("target is neither a community nor a post URL")

	// ErrNoState is returned by Store.Load when no frontier has been saved yet.
	ErrNoState = errors.New("no saved frontier")
)
