package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/threadkeep/internal/crawler"
	"github.com/nao1215/threadkeep/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of jobs or ranges run at once.
const DefaultConcurrency = 4

// BatchProcessor runs jobs or index ranges concurrently under a limit.
//
// Design decision: batching lives outside Pipeline. A Pipeline runs the steps
// of one target; BatchProcessor decides how many targets, or how many ranges
// of one frontier, run at once.
type BatchProcessor struct {
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the concurrency limit. Non-positive values are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a BatchProcessor.
func NewBatchProcessor(opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch runs a fresh pipeline for every target. A failed target does
// not stop the others; jobs come back in target order with Err set. The
// returned error is non-nil only on cancellation.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, targets []string, newPipeline func() *Pipeline) ([]*Job, error) {
	bp.logger.Info("starting batch", "targets", len(targets), "concurrency", bp.concurrency)
	started := time.Now()

	jobs := make([]*Job, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, target := range targets {
		jobs[i] = NewJob(target)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				jobs[i].Err = err
				return err
			}
			bp.logger.Info("processing target", "target", target, "index", i+1, "total", len(targets))
			if err := newPipeline().Execute(ctx, jobs[i]); err != nil {
				bp.logger.Warn("target failed", "target", target, "error", err)
				if errors.Is(err, context.Canceled) {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	bp.logger.Info("batch complete", "targets", len(targets), "elapsed", time.Since(started))
	return jobs, err
}

// SplitRange divides r into at most partitions contiguous, non-overlapping
// ranges of near-equal size that together cover r.
func SplitRange(r model.IndexRange, partitions int) []model.IndexRange {
	n := r.Len()
	if n == 0 {
		return nil
	}
	partitions = min(max(partitions, 1), n)

	out := make([]model.IndexRange, 0, partitions)
	size, extra := n/partitions, n%partitions
	start := r.Start
	for i := range partitions {
		length := size
		if i < extra {
			length++
		}
		out = append(out, model.IndexRange{Start: start, End: start + length - 1})
		start += length
	}
	return out
}

// ProcessRanges runs one crawler.Runner per range of f concurrently. Each
// range keeps its own checkpoint. Failures of one range do not stop the
// others; all of them are returned joined. Progress comes back in range order.
//
// Design decision: we use a plain errgroup.Group rather than
// errgroup.WithContext. Ranges share nothing but the sink, and a range that
// trips its breaker has already flushed and checkpointed, so cancelling its
// siblings would only throw away their in-flight batches. Cancellation comes
// from ctx alone.
func (bp *BatchProcessor) ProcessRanges(
	ctx context.Context,
	f *model.Frontier,
	ranges []model.IndexRange,
	newRunner func(model.IndexRange) *crawler.Runner,
) ([]*model.CrawlProgress, error) {
	bp.logger.Info("fetching ranges", "group", f.Group, "ranges", len(ranges), "concurrency", bp.concurrency)

	var (
		mu       sync.Mutex
		errs     []error
		progress = make([]*model.CrawlProgress, len(ranges))
	)

	g := new(errgroup.Group)
	g.SetLimit(bp.concurrency)

	for i, r := range ranges {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p, err := newRunner(r).Run(ctx, f, crawler.Scope{Start: r.Start, End: r.End})
			progress[i] = p
			if err != nil {
				bp.logger.Warn("range finished with error", "group", f.Group, "range", r.Suffix(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("range %s: %w", r.Suffix(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines report through errs

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return progress, errors.Join(errs...)
}
