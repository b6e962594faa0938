package frontier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/listing"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/pacing"
)

// Checkpoint thresholds.
const (
	saveEveryNew   = 50
	saveEveryTotal = 250
)

// Page results reported to a PageObserver.
const (
	PageOK          = "ok"
	PageEmpty       = "empty"
	PageStatusError = "status_error"
	PageError       = "error"
)

// PageObserver is notified after every listing request.
type PageObserver func(source, result string)

// Collector builds frontiers from a listing backend.
type Collector struct {
	lister             listing.Lister
	store              *Store
	targetCount        int
	ratios             map[string]float64
	pageSize           int
	pageDelayMin       time.Duration
	pageDelayMax       time.Duration
	errorBackoff       time.Duration
	statusBackoff      time.Duration
	maxRequestFailures int
	maxStatusFailures  int
	stallPages         int
	sleep              pacing.Sleeper
	observe            PageObserver
	logger             *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithStore enables checkpointing and resume through s.
func WithStore(s *Store) Option {
	return func(c *Collector) {
		c.store = s
	}
}

// WithTargetCount sets the frontier size.
func WithTargetCount(n int) Option {
	return func(c *Collector) {
		c.targetCount = n
	}
}

// WithRatios sets the sampling ratios keyed by listing source.
func WithRatios(ratios map[string]float64) Option {
	return func(c *Collector) {
		c.ratios = ratios
	}
}

// WithPageSize sets the listing page size. Values above config.MaxPageSize are capped.
func WithPageSize(n int) Option {
	return func(c *Collector) {
		c.pageSize = n
	}
}

// WithPageDelay sets the bounds of the random pause between pages.
func WithPageDelay(lo, hi time.Duration) Option {
	return func(c *Collector) {
		c.pageDelayMin = lo
		c.pageDelayMax = hi
	}
}

// WithBackoff sets the waits after a failed request and after a non-success status.
func WithBackoff(errorBackoff, statusBackoff time.Duration) Option {
	return func(c *Collector) {
		c.errorBackoff = errorBackoff
		c.statusBackoff = statusBackoff
	}
}

// WithFailureLimits sets how many consecutive failures abandon a source.
func WithFailureLimits(requestFailures, statusFailures int) Option {
	return func(c *Collector) {
		c.maxRequestFailures = requestFailures
		c.maxStatusFailures = statusFailures
	}
}

// WithStallPages sets how many pages without progress stop a source.
func WithStallPages(n int) Option {
	return func(c *Collector) {
		c.stallPages = n
	}
}

// WithSleeper replaces the wait used for pacing and backoff.
func WithSleeper(s pacing.Sleeper) Option {
	return func(c *Collector) {
		c.sleep = s
	}
}

// WithPageObserver registers a callback for listing results.
func WithPageObserver(o PageObserver) Option {
	return func(c *Collector) {
		c.observe = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// NewCollector creates a Collector with the documented defaults.
func NewCollector(lister listing.Lister, opts ...Option) *Collector {
	c := &Collector{
		lister:             lister,
		targetCount:        config.DefaultTargetCount,
		ratios:             config.DefaultSamplingRatios(),
		pageSize:           config.DefaultPageSize,
		pageDelayMin:       config.DefaultPageDelayMin,
		pageDelayMax:       config.DefaultPageDelayMax,
		errorBackoff:       config.DefaultErrorBackoff,
		statusBackoff:      config.DefaultStatusBackoff,
		maxRequestFailures: config.DefaultMaxRequestFailures,
		maxStatusFailures:  config.DefaultMaxStatusFailures,
		stallPages:         config.DefaultStallPages,
		sleep:              pacing.Sleep,
		observe:            func(string, string) {},
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pageSize = min(max(c.pageSize, 1), config.MaxPageSize)
	return c
}

// Collect builds the frontier for target, a community URL or a single post URL.
//
// The partial frontier is returned even when collection is cut short; in that
// case the error is the context error. With a Store configured the state is
// saved on every exit path.
func (c *Collector) Collect(ctx context.Context, target string) (*model.Frontier, error) {
	group, ok := model.ExtractGroupID(target)
	if model.IsItemReference(target) {
		return c.collectSingle(group, target)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	ratios, err := NormalizeRatios(c.ratios)
	if err != nil {
		return nil, err
	}

	f, err := c.resume(group)
	if err != nil {
		return nil, err
	}
	if f.Full() {
		f.Complete = true
		c.logger.Info("frontier already complete", "group", group, "collected", f.Len(), "target", f.TargetCount)
		return f, c.save(f)
	}

	quotas := PartitionQuota(c.targetCount, ratios)
	existing := f.CountBySource()
	cp := &checkpointer{c: c}

	sources := make([]string, 0, len(quotas))
	for source := range quotas {
		sources = append(sources, source)
	}
	slices.Sort(sources)

	c.logger.Info("collecting frontier", "group", group, "target", c.targetCount, "resumed", f.Len(), "quotas", quotas)
	for _, source := range sources {
		if ctx.Err() != nil || f.Full() {
			break
		}
		want := quotas[source] - existing[source]
		if want <= 0 {
			c.logger.Debug("source quota already met", "source", source, "quota", quotas[source])
			continue
		}
		got := c.collectSource(ctx, f, source, want, cp)
		if got < want {
			c.logger.Warn("source fell short of its quota",
				"group", group, "source", source, "collected", got, "wanted", want, "shortfall", want-got)
		}
	}

	if ctx.Err() == nil {
		f.Complete = true
	}
	if err := c.save(f); err != nil {
		return f, err
	}
	c.logger.Info("frontier collection finished",
		"group", group, "collected", f.Len(), "target", f.TargetCount, "complete", f.Complete, "by_source", f.CountBySource())
	return f, ctx.Err()
}

// SingleItem returns the complete one-reference frontier of a post URL.
func SingleItem(group, target string) *model.Frontier {
	f := model.NewFrontier(group, 1)
	f.Add(model.ItemReference{Reference: target, SourceTag: model.SourceSingleItem})
	f.Complete = true
	return f
}

// collectSingle builds the frontier of a post URL. It is not saved: the store
// holds the community frontier, which a single post must not replace.
func (c *Collector) collectSingle(group, target string) (*model.Frontier, error) {
	c.logger.Info("single post target", "url", target)
	return SingleItem(group, target), nil
}

// resume loads a saved frontier for group, or starts an empty one.
func (c *Collector) resume(group string) (*model.Frontier, error) {
	if c.store == nil {
		return model.NewFrontier(group, c.targetCount), nil
	}
	f, err := c.store.Load()
	if errors.Is(err, ErrNoState) {
		return model.NewFrontier(group, c.targetCount), nil
	}
	if err != nil {
		return nil, err
	}
	if f.Group != "" && f.Group != group {
		c.logger.Warn("saved frontier belongs to another group, starting over", "saved", f.Group, "group", group)
		return model.NewFrontier(group, c.targetCount), nil
	}
	f.Group = group
	f.TargetCount = c.targetCount
	c.logger.Info("resuming frontier", "group", group, "collected", f.Len(), "cursors", f.Cursors)
	return f, nil
}

func (c *Collector) save(f *model.Frontier) error {
	if c.store == nil {
		return nil
	}
	return c.store.Save(f)
}

// collectSource pages through one listing until its quota is met or it stops,
// and returns how many references it added.
func (c *Collector) collectSource(ctx context.Context, f *model.Frontier, source string, want int, cp *checkpointer) int {
	logger := c.logger.With("group", f.Group, "source", source)
	cursor := f.Cursor(source)
	added, stalled, requestFailures, statusFailures := 0, 0, 0, 0

	for added < want && !f.Full() {
		if ctx.Err() != nil {
			return added
		}

		page, err := c.lister.List(ctx, listing.Query{
			Group:  f.Group,
			Source: source,
			Before: cursor,
			Limit:  min(c.pageSize, want-added+1),
		})
		if err != nil {
			if ctx.Err() != nil {
				return added
			}
			wait := c.errorBackoff
			if errors.Is(err, listing.ErrStatus) {
				c.observe(source, PageStatusError)
				statusFailures++
				wait = c.statusBackoff
				if statusFailures >= c.maxStatusFailures {
					logger.Error("abandoning source after repeated status failures", "failures", statusFailures, "error", err)
					return added
				}
			} else {
				c.observe(source, PageError)
				requestFailures++
				if requestFailures >= c.maxRequestFailures {
					logger.Error("abandoning source after repeated request failures", "failures", requestFailures, "error", err)
					return added
				}
			}
			logger.Warn("listing request failed, retrying", "error", err, "wait", wait)
			if c.sleep(ctx, wait) != nil {
				return added
			}
			continue
		}
		requestFailures, statusFailures = 0, 0

		if len(page.Items) == 0 {
			c.observe(source, PageEmpty)
			logger.Info("listing exhausted", "collected", added)
			return added
		}
		c.observe(source, PageOK)

		fresh, deleted := 0, 0
		for _, s := range page.Items {
			if added >= want || f.Full() {
				break
			}
			if !s.Complete() || f.Seen(s.ID) {
				continue
			}
			if s.Deleted {
				f.MarkSeen(s.ID)
				deleted++
				continue
			}
			created := s.CreatedUTC
			if f.Add(model.ItemReference{Reference: s.Permalink, SourceTag: source, SortKey: &created}) {
				added++
				fresh++
				cp.added(f)
			}
		}
		logger.Debug("listing page processed", "items", len(page.Items), "new", fresh, "deleted", deleted, "total", f.Len())

		if fresh == 0 {
			stalled++
			if stalled >= c.stallPages {
				logger.Warn("listing stalled", "pages", stalled)
				return added
			}
		} else {
			stalled = 0
		}

		if page.Next == "" || page.Next == cursor {
			logger.Info("listing has no further pages", "collected", added)
			return added
		}
		cursor = page.Next
		f.SetCursor(source, cursor)

		if added < want && c.sleep(ctx, pacing.Between(c.pageDelayMin, c.pageDelayMax)) != nil {
			return added
		}
	}
	return added
}

// checkpointer saves the frontier every saveEveryNew additions and whenever
// the total reaches a multiple of saveEveryTotal.
type checkpointer struct {
	c         *Collector
	sinceSave int
}

func (cp *checkpointer) added(f *model.Frontier) {
	cp.sinceSave++
	if cp.sinceSave < saveEveryNew && f.Len()%saveEveryTotal != 0 {
		return
	}
	if err := cp.c.save(f); err != nil {
		cp.c.logger.Warn("failed to checkpoint frontier", "group", f.Group, "error", err)
		return
	}
	cp.sinceSave = 0
}
