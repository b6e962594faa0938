package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and can be checked with
// errors.Is() by callers that want to react to a specific problem.
var (
	// ErrNoTarget is returned when a command that crawls has no community or post URL.
	ErrNoTarget = errors.New("no target specified: provide a community URL or a post URL")

	// ErrInvalidTarget is returned when a target is not a community or post URL.
	ErrInvalidTarget = errors.New("invalid target: expected a URL containing /r/<community>")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidTargetCount is returned when the number of posts to collect is not positive.
	ErrInvalidTargetCount = errors.New("invalid target count: must be positive")

	// ErrInvalidBatchSize is returned when the number of concurrent range runs is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidPartitions is returned when the number of range partitions is not positive.
	ErrInvalidPartitions = errors.New("invalid partitions: must be positive")

	// ErrInvalidDelayRange is returned when a delay is negative or min exceeds max.
	ErrInvalidDelayRange = errors.New("invalid delay range: delays must be non-negative and min <= max")

	// ErrInvalidBreakerThreshold is returned when the consecutive failure limit is not positive.
	ErrInvalidBreakerThreshold = errors.New("invalid breaker threshold: must be positive")

	// ErrInvalidFlushEvery is returned when the flush batch size is not positive.
	ErrInvalidFlushEvery = errors.New("invalid flush size: must be positive")

	// ErrInvalidRateLimit is returned when the rate limit pause settings are negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: requests and sleep must be non-negative")

	// ErrInvalidRatios is returned when sampling ratios are empty, out of [0,1], or sum to zero.
	ErrInvalidRatios = errors.New("invalid sampling ratios: weights must be in [0,1] and sum to more than 0")

	// ErrUnknownListing is returned for an unsupported listing backend.
	ErrUnknownListing = errors.New("unknown listing backend: must be oldreddit, reddit or pullpush")

	// ErrUnknownFetcher is returned for an unsupported fetcher backend.
	ErrUnknownFetcher = errors.New("unknown fetcher backend: must be reddit, pullpush or browser")

	// ErrInvalidUpsertMode is returned for an upsert mode other than replace or ignore.
	ErrInvalidUpsertMode = errors.New("invalid upsert mode: must be replace or ignore")

	// ErrInvalidLogFormat is returned for a log format other than text or json.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrInvalidRange is returned when the start index is after the end index.
	ErrInvalidRange = errors.New("invalid index range: start must not exceed end")
)
