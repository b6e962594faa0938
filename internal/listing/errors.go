package listing

import (
	"errors"

	"github.com/nao1215/threadkeep/internal/netclient"
)

var (
	// ErrUnknownSource is returned when a backend does not support the requested sort order.
	ErrUnknownSource = errors.New("unknown listing source")

	// ErrMalformedPayload is returned when a listing response cannot be decoded.
	ErrMalformedPayload = errors.New("malformed listing payload")

	// ErrStatus matches non-success HTTP statuses from any backend.
	ErrStatus = netclient.ErrStatus

	// ErrRateLimited matches throttling statuses from any backend.
	ErrRateLimited = netclient.ErrRateLimited
)
