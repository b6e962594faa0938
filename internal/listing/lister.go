package listing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nao1215/threadkeep/internal/model"
	"golang.org/x/time/rate"
)

// Listing sources (sort orders) understood by the backends.
const (
	SourceNew          = "new"
	SourceHot          = "hot"
	SourceRising       = "rising"
	SourceBest         = "best"
	SourceTopDay       = "top_day"
	SourceTopWeek      = "top_week"
	SourceTopMonth     = "top_month"
	SourceTopYear      = "top_year"
	SourceTopAll       = "top_all"
	SourceControversal = "controversial"
)

// sourcePaths maps a source to the listing path suffix appended to /r/<group>.
var sourcePaths = map[string]string{
	SourceNew:          "/new/",
	SourceHot:          "/hot/",
	SourceRising:       "/rising/",
	SourceBest:         "/best/",
	SourceTopDay:       "/top/?t=day",
	SourceTopWeek:      "/top/?t=week",
	SourceTopMonth:     "/top/?t=month",
	SourceTopYear:      "/top/?t=year",
	SourceTopAll:       "/top/?t=all",
	SourceControversal: "/controversial/?t=all",
}

// SourcePath returns the listing path suffix for source.
func SourcePath(source string) (string, error) {
	p, ok := sourcePaths[source]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return p, nil
}

// Sources returns every known source name, sorted.
func Sources() []string {
	names := make([]string, 0, len(sourcePaths))
	for name := range sourcePaths {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Query asks for one page of a community listing.
type Query struct {
	Group  string
	Source string

	// Before is the continuation cursor returned by the previous page's Next.
	// Empty means the first page.
	Before string

	// Limit is the requested number of items.
	Limit int
}

// Summary is one listed post.
type Summary struct {
	ID         model.ItemID
	Permalink  string
	CreatedUTC float64
	Deleted    bool
}

// Complete reports whether the summary has every field needed to enter a frontier.
func (s Summary) Complete() bool {
	return s.ID != "" && s.Permalink != "" && s.CreatedUTC > 0
}

// Page is one listing page. An empty Next means the listing is exhausted.
type Page struct {
	Items []Summary
	Next  string
}

// Lister pages through a community listing.
type Lister interface {
	List(ctx context.Context, q Query) (Page, error)
}

// IsDeleted reports whether a listed post was deleted or removed.
func IsDeleted(author, selftext, removedByCategory string) bool {
	switch author {
	case model.DeletedAuthor, model.RemovedMarker:
		return true
	}
	if removedByCategory != "" {
		return true
	}
	switch strings.TrimSpace(selftext) {
	case model.DeletedAuthor, model.RemovedMarker:
		return true
	}
	return false
}

// absoluteURL turns a site-relative permalink into an absolute www.reddit.com URL.
func absoluteURL(permalink string) string {
	if strings.HasPrefix(permalink, "/") {
		return "https://www.reddit.com" + permalink
	}
	return permalink
}

// options holds settings shared by every backend.
type options struct {
	baseURL string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Lister backend.
type Option func(*options)

// WithBaseURL overrides the backend's base URL.
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithLimiter sets the rate limiter applied before each request.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(baseURL string, limiter *rate.Limiter, opts []Option) options {
	o := options{baseURL: baseURL, limiter: limiter, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return nil
}
