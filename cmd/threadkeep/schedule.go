package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/scheduler"
)

// defaultSchedule runs every six hours when neither --cron nor the
// configuration file sets a schedule.
const defaultSchedule = "0 */6 * * *"

// NewScheduleCmd creates the schedule command.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <community|url>...",
		Short: "Re-run collect and fetch on a cron schedule",
		Long: `Schedule keeps running in the foreground and runs the same work as
"threadkeep run" for the given targets on every tick of a cron schedule.
Because every step resumes from its checkpoints, each tick finishes what
the previous one left undone. A tick that is still running when the next
one arrives skips that tick.

The schedule is a standard five-field cron expression or a descriptor such
as @hourly or "@every 30m". It defaults to the schedule key of the
configuration file, then to "0 */6 * * *".

Examples:
  threadkeep schedule --cron "@every 2h" golang rust
  threadkeep schedule --run-now --analyze golang`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScheduleCmd,
	}
	addCollectFlags(cmd)
	addFetchFlags(cmd)
	cmd.Flags().String("cron", defaultSchedule, "Cron expression")
	cmd.Flags().Bool("run-now", false, "Run once immediately before waiting for the first tick")
	cmd.Flags().Bool("analyze", false, "Analyze new posts with the language model after fetching")
	cmd.Flags().Duration("job-timeout", 0, "Cancel a tick that runs longer than this (0 disables)")
	return cmd
}

func runScheduleCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	spec := a.cfg.Schedule
	if spec == "" {
		spec = defaultSchedule
	}
	if err := scheduler.ValidateSpec(spec); err != nil {
		return err
	}
	flags := cmd.Flags()
	analyze, err := flags.GetBool("analyze")
	if err != nil {
		return err
	}
	runNow, err := flags.GetBool("run-now")
	if err != nil {
		return err
	}
	timeout, err := flags.GetDuration("job-timeout")
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
	job := func(ctx context.Context) error {
		return a.runBatch(ctx, targets, newPipeline)
	}

	s := scheduler.New(scheduler.WithLogger(a.logger), scheduler.WithJobTimeout(timeout))
	name := strings.Join(groups, ",")
	if err := s.AddJob(name, spec, job); err != nil {
		return err
	}

	if runNow {
		if err := job(ctx); err != nil {
			a.logger.Error("initial run failed", "job", name, "error", err)
		}
	}
	for _, info := range s.Jobs() {
		fmt.Fprintf(a.out, "Scheduled %s (%s)\n", info.Name, info.Schedule)
	}
	return s.Run(ctx)
}
