package netclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidProxyAddress is returned when the proxy address format is invalid.
	// Expected format is "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrProxyUnreachable is returned by CheckProxy when the proxy cannot be reached
	// or does not speak SOCKS5.
	ErrProxyUnreachable = errors.New("SOCKS5 proxy is not reachable")

	// ErrStatus matches any non-success HTTP status returned by Get.
	ErrStatus = errors.New("unexpected HTTP status")

	// ErrRateLimited matches statuses the upstream uses for throttling (429 and 403).
	ErrRateLimited = errors.New("rate limited by upstream")
)

// StatusError reports a non-success HTTP status.
// It matches ErrStatus, and ErrRateLimited for throttling statuses, under errors.Is.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.Code, e.URL)
}

// Is implements errors.Is matching against the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrStatus:
		return true
	case ErrRateLimited:
		return e.RateLimited()
	}
	return false
}

// RateLimited reports whether the status signals throttling.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusForbidden
}
