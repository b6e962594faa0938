package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/docstore"
	"github.com/nao1215/threadkeep/internal/fetcher"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/pacing"
)

// Scope selects the frontier indexes a run covers. Negative values mean
// "from the first" and "to the last"; both ends are clamped to the frontier.
type Scope struct {
	Start int
	End   int
}

// WholeFrontier is the Scope covering every index.
var WholeFrontier = Scope{Start: -1, End: -1}

// Observer receives fetch loop events, typically for metrics.
type Observer interface {
	ItemFetched(ok bool)
	BreakerTripped()
	Flushed(items int, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ItemFetched(bool) {}
func (nopObserver) BreakerTripped() {}
func (nopObserver) Flushed(int, time.Duration) {}

// Runner executes the fetch loop for one range of a frontier.
type Runner struct {
	fetcher           fetcher.Fetcher
	sink              Sink
	checkpointDir     string
	frontierPath      string
	breakerThreshold  int
	flushEvery        int
	delayMin          time.Duration
	delayMax          time.Duration
	rateLimitRequests int
	rateLimitSleep    time.Duration
	sleep             pacing.Sleeper
	observer          Observer
	logger            *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCheckpointDir sets the directory of the progress files.
func WithCheckpointDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.checkpointDir = dir
	}
}

// WithFrontierPath records the frontier document in the progress file.
func WithFrontierPath(path string) RunnerOption {
	return func(r *Runner) {
		r.frontierPath = path
	}
}

// WithBreakerThreshold sets the number of consecutive failures that stops a run.
func WithBreakerThreshold(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.breakerThreshold = n
		}
	}
}

// WithFlushEvery sets how many fetched items are buffered before a flush.
func WithFlushEvery(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.flushEvery = n
		}
	}
}

// WithDelay sets the bounds of the random pause after each fetch.
func WithDelay(lo, hi time.Duration) RunnerOption {
	return func(r *Runner) {
		r.delayMin = lo
		r.delayMax = hi
	}
}

// WithRateLimit adds a long pause every n requests. n <= 0 disables it.
func WithRateLimit(n int, pause time.Duration) RunnerOption {
	return func(r *Runner) {
		r.rateLimitRequests = n
		r.rateLimitSleep = pause
	}
}

// WithSleeper replaces the wait used for pacing.
func WithSleeper(s pacing.Sleeper) RunnerOption {
	return func(r *Runner) {
		r.sleep = s
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner with the documented defaults.
func NewRunner(f fetcher.Fetcher, sink Sink, opts ...RunnerOption) *Runner {
	r := &Runner{
		fetcher:           f,
		sink:              sink,
		checkpointDir:     ".",
		breakerThreshold:  config.DefaultBreakerThreshold,
		flushEvery:        config.DefaultFlushEvery,
		delayMin:          config.DefaultDelayMin,
		delayMax:          config.DefaultDelayMax,
		rateLimitRequests: config.DefaultRateLimitRequests,
		rateLimitSleep:    config.DefaultRateLimitSleep,
		sleep:             pacing.Sleep,
		observer:          nopObserver{},
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clamp resolves a Scope against a frontier of n references.
func (s Scope) Clamp(n int) (model.IndexRange, error) {
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end < 0 || end > n-1 {
		end = n - 1
	}
	if start > end {
		return model.IndexRange{}, fmt.Errorf("%w: start %d is past end %d (frontier has %d references)", ErrInvalidRange, start, end, n)
	}
	return model.IndexRange{Start: start, End: end}, nil
}

// Run fetches every index of scope the sink does not hold yet.
//
// Buffered items are flushed every flushEvery successes and once more on
// every exit path, cancellation included. The returned progress is never nil
// once the preconditions pass. A breaker trip returns ErrBreakerTripped and
// leaves the phase at fetching.
//
// Design decision: pending work is recomputed from the sink on every run,
// keyed by post_id, and the progress file only reports. A crash between a
// flush and its checkpoint leaves a stale counter; the store does not lie.
// Checkpoints are named by Frontier.ScopeKey, so a single-post run of a
// community never shares one with the community's own crawl.
func (r *Runner) Run(ctx context.Context, frontier *model.Frontier, scope Scope) (*model.CrawlProgress, error) {
	if frontier == nil {
		return nil, ErrFrontierMissing
	}
	if !frontier.Complete {
		return nil, fmt.Errorf("%w: %s has %d of %d references", ErrFrontierIncomplete, frontier.Group, frontier.Len(), frontier.TargetCount)
	}
	rng, err := scope.Clamp(frontier.Len())
	if err != nil {
		return nil, err
	}

	group := frontier.Group
	logger := r.logger.With("group", group, "range", rng.Suffix())
	progressPath := ProgressPath(r.checkpointDir, frontier.ScopeKey(), rng)

	progress := r.loadOrCreateProgress(progressPath, group, rng, logger)

	persisted, err := r.persistedIndexes(ctx, frontier, rng)
	if err != nil {
		return nil, err
	}
	if progress.TotalPersisted != len(persisted) {
		logger.Info("checkpoint differs from the store, trusting the store",
			"checkpoint", progress.TotalPersisted, "store", len(persisted))
	}
	progress.TotalPersisted = len(persisted)

	pending := make([]int, 0, rng.Len()-len(persisted))
	for i := rng.Start; i <= rng.End; i++ {
		if _, ok := persisted[i]; !ok {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		logger.Info("range already fetched", "persisted", len(persisted))
		progress.Phase = model.PhaseDone
		return progress, r.checkpoint(progressPath, progress)
	}

	logger.Info("starting fetch loop", "pending", len(pending), "persisted", len(persisted), "run_id", progress.RunID)
	progress.Phase = model.PhaseFetching
	if err := r.checkpoint(progressPath, progress); err != nil {
		return progress, err
	}

	var (
		buffer    = make([]*model.ContentItem, 0, r.flushEvery)
		failures  int
		requests  int
		tripped   bool
		attempted int
		loopErr   error
	)

	flush := func(ctx context.Context) error {
		if len(buffer) > 0 {
			began := time.Now()
			if err := r.sink.Save(ctx, buffer); err != nil {
				return err
			}
			r.observer.Flushed(len(buffer), time.Since(began))
			progress.TotalPersisted += len(buffer)
			logger.Info("flushed items", "items", len(buffer), "total", progress.TotalPersisted)
			buffer = buffer[:0]
		}
		return r.checkpoint(progressPath, progress)
	}

	for n, idx := range pending {
		if ctx.Err() != nil {
			break
		}

		progress.FetchCursor = idx
		item, err := r.fetcher.Fetch(ctx, frontier.Sequence[idx], idx)
		requests++
		if ctx.Err() != nil {
			// an attempt cut short by cancellation is neither a success nor a failure
			break
		}
		attempted++

		if err != nil || item == nil {
			failures++
			r.observer.ItemFetched(false)
			logger.Warn("failed to fetch post", "index", idx, "url", frontier.Sequence[idx].Reference,
				"consecutive_failures", failures, "error", err)
			if failures >= r.breakerThreshold {
				tripped = true
				r.observer.BreakerTripped()
				logger.Error("stopping after consecutive failures", "failures", failures, "index", idx)
				break
			}
		} else {
			failures = 0
			r.observer.ItemFetched(true)
			buffer = append(buffer, item)
			if len(buffer) >= r.flushEvery {
				if err := flush(ctx); err != nil {
					loopErr = fmt.Errorf("failed to flush items: %w", err)
					break
				}
			}
		}

		if n == len(pending)-1 {
			break
		}
		if err := r.pause(ctx, requests); err != nil {
			break
		}
	}

	if err := flush(context.WithoutCancel(ctx)); err != nil && loopErr == nil {
		loopErr = fmt.Errorf("failed to flush items: %w", err)
	}

	switch {
	case loopErr != nil:
		return progress, loopErr
	case tripped:
		return progress, ErrBreakerTripped
	case ctx.Err() != nil:
		logger.Warn("fetch loop interrupted", "attempted", attempted, "persisted", progress.TotalPersisted)
		return progress, ctx.Err()
	}

	progress.Phase = model.PhaseDone
	if err := r.checkpoint(progressPath, progress); err != nil {
		return progress, err
	}
	logger.Info("fetch loop finished", "attempted", attempted, "persisted", progress.TotalPersisted)
	return progress, nil
}

// persistedIndexes returns the indexes of rng whose posts the sink already holds.
func (r *Runner) persistedIndexes(ctx context.Context, frontier *model.Frontier, rng model.IndexRange) (map[int]struct{}, error) {
	byID := make(map[model.ItemID]int, rng.Len())
	ids := make([]model.ItemID, 0, rng.Len())
	for i := rng.Start; i <= rng.End; i++ {
		id, ok := frontier.Sequence[i].ID()
		if !ok {
			continue
		}
		byID[id] = i
		ids = append(ids, id)
	}

	stored, err := r.sink.PersistedIDs(ctx, frontier.Group, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted posts: %w", err)
	}
	indexes := make(map[int]struct{}, len(stored))
	for id := range stored {
		if idx, ok := byID[id]; ok {
			indexes[idx] = struct{}{}
		}
	}
	return indexes, nil
}

// pause waits the random per-request delay, plus the long pause every
// rateLimitRequests requests.
func (r *Runner) pause(ctx context.Context, requests int) error {
	if err := r.sleep(ctx, pacing.Between(r.delayMin, r.delayMax)); err != nil {
		return err
	}
	if r.rateLimitRequests > 0 && requests%r.rateLimitRequests == 0 {
		r.logger.Info("pausing to respect upstream rate limits", "requests", requests, "pause", r.rateLimitSleep)
		return r.sleep(ctx, r.rateLimitSleep)
	}
	return nil
}

func (r *Runner) loadOrCreateProgress(path, group string, rng model.IndexRange, logger *slog.Logger) *model.CrawlProgress {
	p, err := LoadProgress(path)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		p = model.NewCrawlProgress(group, rng)
	case err != nil:
		// the checkpoint is only a hint; a corrupt one is replaced
		logger.Warn("ignoring unreadable checkpoint", "path", path, "error", err)
		p = model.NewCrawlProgress(group, rng)
	default:
		logger.Debug("loaded checkpoint", "path", path, "phase", p.Phase, "cursor", p.FetchCursor)
	}
	if r.frontierPath != "" {
		p.FrontierPath = r.frontierPath
	}
	p.Range = &rng
	return p
}

func (r *Runner) checkpoint(path string, p *model.CrawlProgress) error {
	p.UpdatedAt = time.Now()
	return saveProgress(path, p)
}
