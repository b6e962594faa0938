package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/crawler"
	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/frontier"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/pipeline"
)

// errTargetsFailed is returned when at least one target of a batch failed.
var errTargetsFailed = errors.New("some targets failed")

// NewCollectCmd creates the collect command.
func NewCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect <community|url>...",
		Short: "Collect post references for one or more communities",
		Long: `Collect builds the frontier of each community: a deduplicated list of
post references drawn from several listings according to the sampling
ratios. The frontier is checkpointed while collecting, so running the
command again resumes an interrupted collection.

Examples:
  # Collect 1000 references from r/golang with the default mix
  threadkeep collect golang

  # Collect 500 references, mostly from the newest posts
  threadkeep collect -n 500 --ratio new=0.8,top_year=0.2 r/golang

  # Use the PullPush archive instead of old.reddit.com listings
  threadkeep collect --listing pullpush https://www.reddit.com/r/golang/`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCollectCmd,
	}
	addCollectFlags(cmd)
	return cmd
}

func runCollectCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	targets, groups, err := resolveTargets(args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	a.serveMetrics(ctx)

	kits, err := a.buildKits(ctx, groups, true, false)
	if err != nil {
		return err
	}

	newPipeline := func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(a.logger))
		p.AddSteps(pipeline.NewCollectStep(func(group string) *frontier.Collector {
			return kits[group].collector
		}))
		return p
	}
	return a.runBatch(ctx, targets, newPipeline)
}

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <community>",
		Short: "Fetch every post of a collected frontier",
		Long: `Fetch downloads each post of a community's frontier together with its
comment tree and stores it in the archive database and, unless disabled,
in per-range JSON documents.

The frontier can be split into several index ranges fetched concurrently.
Every range keeps its own checkpoint, and the set of posts still to fetch
is recomputed from the archive on each start, so an interrupted fetch
resumes without refetching. After five consecutive failures a range stops
and can be resumed later.

Examples:
  # Fetch the whole frontier of r/golang
  threadkeep fetch golang

  # Fetch indexes 0-499 in 4 concurrent ranges
  threadkeep fetch --start 0 --end 499 -p 4 golang

  # Fetch through a logged-in browser session
  threadkeep fetch --fetcher browser --headful golang`,
		Args: cobra.ExactArgs(1),
		RunE: runFetchCmd,
	}
	addFetchFlags(cmd)
	return cmd
}

func runFetchCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	target, group, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	f, err := a.loadFrontier(target, group)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	a.serveMetrics(ctx)

	db, err := a.openDB()
	if err != nil {
		return err
	}
	kits, err := a.buildKits(ctx, []string{group}, false, true)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.WithLogger(a.logger))
	p.AddSteps(a.fetchStep(db, kits))

	job := pipeline.NewJob(target)
	job.Group = group
	job.Frontier = f

	started := time.Now()
	err = p.Execute(ctx, job)
	printJobs(a.out, []*pipeline.Job{job}, time.Since(started))
	return err
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <community|url>...",
		Short: "Collect, fetch and optionally analyze communities in one go",
		Long: `Run chains collect and fetch for every target, and with --analyze also
sends the newly archived posts to the configured language model.

Targets are processed concurrently up to --batch. Every step resumes from
its checkpoints, so rerunning the command after an interruption only does
the remaining work.

Examples:
  threadkeep run golang rust
  threadkeep run --analyze -n 200 r/golang`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRunCmd,
	}
	addCollectFlags(cmd)
	addFetchFlags(cmd)
	cmd.Flags().Bool("analyze", false, "Analyze new posts with the language model after fetching")
	return cmd
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	analyze, err := cmd.Flags().GetBool("analyze")
	if err != nil {
		return err
	}
	targets, groups, err := resolveTargets(args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	a.serveMetrics(ctx)

	newPipeline, err := a.crawlPipeline(ctx, groups, analyze)
	if err != nil {
		return err
	}
	return a.runBatch(ctx, targets, newPipeline)
}

// crawlPipeline prepares everything the collect, fetch and analyze steps
// need and returns a factory of pipelines chaining them.
func (a *app) crawlPipeline(ctx context.Context, groups []string, analyze bool) (func() *pipeline.Pipeline, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	kits, err := a.buildKits(ctx, groups, true, true)
	if err != nil {
		return nil, err
	}

	var analyzeStep *pipeline.AnalyzeStep
	if analyze {
		an, err := a.newAnalyzer(db)
		if err != nil {
			return nil, fmt.Errorf("failed to set up the analyzer: %w", err)
		}
		analyzeStep = pipeline.NewAnalyzeStep(an)
	}

	return func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(a.logger))
		p.AddSteps(
			pipeline.NewCollectStep(func(group string) *frontier.Collector {
				return kits[group].collector
			}),
			a.fetchStep(db, kits),
		)
		if analyzeStep != nil {
			p.AddStep(analyzeStep)
		}
		return p
	}, nil
}

// fetchStep builds the fetch step shared by fetch and run.
func (a *app) fetchStep(db *database.ArchiveDB, kits map[string]*groupKit) *pipeline.FetchStep {
	batch := pipeline.NewBatchProcessor(
		pipeline.WithConcurrency(a.cfg.BatchSize),
		pipeline.WithBatchLogger(a.logger),
	)
	return pipeline.NewFetchStep(batch,
		func(f *model.Frontier, r model.IndexRange) *crawler.Runner {
			return a.newRunner(f, r, kits[f.Group].fetcher, a.newSink(db, f, r))
		},
		pipeline.WithScope(crawler.Scope{Start: a.cfg.RangeStart, End: a.cfg.RangeEnd}),
		pipeline.WithPartitions(a.cfg.Partitions),
		pipeline.WithFetchLogger(a.logger),
	)
}

// loadFrontier returns the saved frontier of a community, or the one-post
// frontier of a post URL.
func (a *app) loadFrontier(target, group string) (*model.Frontier, error) {
	if model.IsItemReference(target) {
		return frontier.SingleItem(group, target), nil
	}
	store := frontier.NewStore(frontier.FilePath(a.cfg.GroupDir(group), group))
	f, err := store.Load()
	if err != nil {
		if errors.Is(err, frontier.ErrNoState) {
			return nil, fmt.Errorf("%w for %s at %s (run \"threadkeep collect %s\" first)",
				crawler.ErrFrontierMissing, group, store.Path(), group)
		}
		return nil, err
	}
	return f, nil
}

// runBatch runs one pipeline per target and prints a summary.
func (a *app) runBatch(ctx context.Context, targets []string, newPipeline func() *pipeline.Pipeline) error {
	bp := pipeline.NewBatchProcessor(
		pipeline.WithConcurrency(a.cfg.BatchSize),
		pipeline.WithBatchLogger(a.logger),
	)

	started := time.Now()
	jobs, err := bp.ProcessBatch(ctx, targets, newPipeline)
	printJobs(a.out, jobs, time.Since(started))
	if err != nil {
		return err
	}
	return jobsError(jobs)
}

// jobsError summarizes failed jobs. A single failure is returned as is.
func jobsError(jobs []*pipeline.Job) error {
	var failed []*pipeline.Job
	for _, job := range jobs {
		if job.Err != nil {
			failed = append(failed, job)
		}
	}
	switch len(failed) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s: %w", failed[0].Group, failed[0].Err)
	default:
		return fmt.Errorf("%w: %d of %d", errTargetsFailed, len(failed), len(jobs))
	}
}

// printJobs writes a short per-target summary.
func printJobs(w io.Writer, jobs []*pipeline.Job, elapsed time.Duration) {
	for _, job := range jobs {
		fmt.Fprintf(w, "r/%s\n", job.Group)
		if job.Frontier != nil {
			fmt.Fprintf(w, "  frontier:  %d/%d references", job.Frontier.Len(), job.Frontier.TargetCount)
			if !job.Frontier.Complete {
				fmt.Fprint(w, " (incomplete)")
			}
			fmt.Fprintln(w)
		}
		if len(job.Progress) > 0 {
			done := 0
			for _, p := range job.Progress {
				if p != nil && p.Done() {
					done++
				}
			}
			fmt.Fprintf(w, "  fetched:   %d posts, %d/%d ranges done\n", job.Persisted(), done, len(job.Progress))
		}
		if job.Analyzed > 0 {
			fmt.Fprintf(w, "  analyzed:  %d posts\n", job.Analyzed)
		}
		if job.Err != nil {
			fmt.Fprintf(w, "  error:     %v\n", job.Err)
		}
	}
	fmt.Fprintf(w, "\nFinished in %s\n", durationOrZero(elapsed))
}

// signalContext cancels on SIGINT or SIGTERM so checkpoints are flushed
// before exit.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
