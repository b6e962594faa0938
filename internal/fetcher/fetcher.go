package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
	"github.com/nao1215/threadkeep/internal/pacing"
	"golang.org/x/time/rate"
)

// Default rate-limit retry settings.
const (
	DefaultRateLimitWait    = 20 * time.Second
	DefaultRateLimitRetries = 100
)

// Fetcher retrieves the detail record of one post.
// A nil item with a nil error never happens; failures are reported as errors.
type Fetcher interface {
	Fetch(ctx context.Context, ref model.ItemReference, index int) (*model.ContentItem, error)
}

// options holds settings shared by the HTTP fetchers.
type options struct {
	baseURL          string
	limiter          *rate.Limiter
	rateLimitWait    time.Duration
	rateLimitRetries int
	sleep            pacing.Sleeper
	now              func() time.Time
	logger           *slog.Logger
}

// Option configures a fetcher.
type Option func(*options)

// WithBaseURL overrides the upstream base URL.
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithLimiter sets the rate limiter applied before each request. nil disables it.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithRateLimitRetry sets the fixed wait and the retry cap for throttled requests.
func WithRateLimitRetry(wait time.Duration, retries int) Option {
	return func(o *options) {
		o.rateLimitWait = wait
		o.rateLimitRetries = retries
	}
}

// WithSleeper replaces the wait used between throttled retries.
func WithSleeper(s pacing.Sleeper) Option {
	return func(o *options) {
		o.sleep = s
	}
}

// WithClock sets the clock used for CrawledAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(baseURL string, opts []Option) options {
	o := options{
		baseURL:          baseURL,
		rateLimitWait:    DefaultRateLimitWait,
		rateLimitRetries: DefaultRateLimitRetries,
		sleep:            pacing.Sleep,
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// getWithRetry fetches rawURL and retries throttled responses after a fixed wait.
func (o options) getWithRetry(ctx context.Context, client *netclient.Client, rawURL string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
			}
		}

		body, err := client.Get(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, ErrRateLimited) || attempt >= o.rateLimitRetries {
			return nil, err
		}

		o.logger.Warn("rate limited, waiting before retry",
			"url", rawURL, "attempt", attempt+1, "max_retries", o.rateLimitRetries, "wait", o.rateLimitWait)
		if err := o.sleep(ctx, o.rateLimitWait); err != nil {
			return nil, err
		}
	}
}

func itemID(ref model.ItemReference) (model.ItemID, error) {
	id, ok := ref.ID()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoItemID, ref.Reference)
	}
	return id, nil
}
