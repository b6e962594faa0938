package fetcher

import (
	"errors"

	"github.com/nao1215/threadkeep/internal/netclient"
)

var (
	// ErrMalformedPayload is returned when a detail response does not have the expected shape.
	ErrMalformedPayload = errors.New("malformed detail payload")

	// ErrNoItemID is returned when the reference does not identify a post.
	ErrNoItemID = errors.New("reference has no item id")

	// ErrItemMissing is returned when the upstream has no record of the post.
	ErrItemMissing = errors.New("item not found upstream")

	// ErrCaptcha is returned when a challenge page could not be cleared.
	ErrCaptcha = errors.New("captcha or login challenge")

	// ErrStatus matches non-success HTTP statuses.
	ErrStatus = netclient.ErrStatus

	// ErrRateLimited matches throttling statuses.
	ErrRateLimited = netclient.ErrRateLimited
)
