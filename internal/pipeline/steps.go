package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/threadkeep/internal/crawler"
	"github.com/nao1215/threadkeep/internal/frontier"
	"github.com/nao1215/threadkeep/internal/model"
)

// CollectStep builds or resumes the frontier of the job's group.
type CollectStep struct {
	newCollector func(group string) *frontier.Collector
}

// NewCollectStep creates a CollectStep. newCollector is called once per job
// so every group gets its own frontier store.
func NewCollectStep(newCollector func(group string) *frontier.Collector) *CollectStep {
	return &CollectStep{newCollector: newCollector}
}

// Name returns the step name.
func (s *CollectStep) Name() string {
	return "collect"
}

// Do implements Step.
func (s *CollectStep) Do(ctx context.Context, job *Job) error {
	if job.Group == "" {
		return fmt.Errorf("%w: %s", frontier.ErrInvalidTarget, job.Target)
	}
	f, err := s.newCollector(job.Group).Collect(ctx, job.Target)
	job.Frontier = f
	if err != nil {
		return fmt.Errorf("failed to collect frontier: %w", err)
	}
	return nil
}

// FetchStep fetches the job's frontier, split into ranges.
type FetchStep struct {
	batch      *BatchProcessor
	newRunner  func(f *model.Frontier, r model.IndexRange) *crawler.Runner
	scope      crawler.Scope
	partitions int
	logger     *slog.Logger
}

// FetchStepOption configures a FetchStep.
type FetchStepOption func(*FetchStep)

// WithScope limits fetching to part of the frontier.
func WithScope(scope crawler.Scope) FetchStepOption {
	return func(s *FetchStep) {
		s.scope = scope
	}
}

// WithPartitions splits the scope into n ranges fetched concurrently.
func WithPartitions(n int) FetchStepOption {
	return func(s *FetchStep) {
		s.partitions = n
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(logger *slog.Logger) FetchStepOption {
	return func(s *FetchStep) {
		s.logger = logger
	}
}

// NewFetchStep creates a FetchStep. newRunner builds the runner of one range
// of the job's frontier.
func NewFetchStep(batch *BatchProcessor, newRunner func(f *model.Frontier, r model.IndexRange) *crawler.Runner, opts ...FetchStepOption) *FetchStep {
	s := &FetchStep{
		batch:      batch,
		newRunner:  newRunner,
		scope:      crawler.WholeFrontier,
		partitions: 1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *FetchStep) Name() string {
	return "fetch"
}

// Do implements Step.
func (s *FetchStep) Do(ctx context.Context, job *Job) error {
	if job.Frontier == nil {
		return fmt.Errorf("%w: %s", crawler.ErrFrontierMissing, job.Group)
	}
	if !job.Frontier.Complete {
		return fmt.Errorf("%w: %s", crawler.ErrFrontierIncomplete, job.Group)
	}
	rng, err := s.scope.Clamp(job.Frontier.Len())
	if err != nil {
		return err
	}

	ranges := SplitRange(rng, s.partitions)
	s.logger.Debug("fetch ranges planned", "group", job.Group, "ranges", len(ranges))
	progress, err := s.batch.ProcessRanges(ctx, job.Frontier, ranges, func(r model.IndexRange) *crawler.Runner {
		return s.newRunner(job.Frontier, r)
	})
	job.Progress = progress
	return err
}

// GroupAnalyzer analyzes the stored posts of a group that have no analysis yet.
type GroupAnalyzer interface {
	AnalyzeGroup(ctx context.Context, group string) (int, error)
}

// AnalyzeStep sends the job's new posts to a language model.
type AnalyzeStep struct {
	analyzer GroupAnalyzer
}

// NewAnalyzeStep creates an AnalyzeStep.
func NewAnalyzeStep(a GroupAnalyzer) *AnalyzeStep {
	return &AnalyzeStep{analyzer: a}
}

// Name returns the step name.
func (s *AnalyzeStep) Name() string {
	return "analyze"
}

// Do implements Step.
func (s *AnalyzeStep) Do(ctx context.Context, job *Job) error {
	n, err := s.analyzer.AnalyzeGroup(ctx, job.Group)
	job.Analyzed = n
	if err != nil {
		return fmt.Errorf("failed to analyze posts: %w", err)
	}
	return nil
}
