package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/frontier"
	"github.com/nao1215/threadkeep/internal/report"
)

// errConflictingFormats is returned when --json and --markdown are both set.
var errConflictingFormats = errors.New("--json and --markdown are mutually exclusive")

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <community>",
		Short: "Show collection and fetch progress of a community",
		Long: `Status reports the frontier of a community (size, completeness and
listing mix), the number of archived, valid and analyzed posts, and the
checkpoint of every fetch range.

Examples:
  threadkeep status golang
  threadkeep status --markdown -o golang-status.md golang
  threadkeep status --json golang`,
		Args: cobra.ExactArgs(1),
		RunE: runStatusCmd,
	}

	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Also write the report to this file")

	return cmd
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	_, group, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	asMarkdown, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if asJSON && asMarkdown {
		return errConflictingFormats
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	dir := a.cfg.GroupDir(group)
	src := report.Sources{
		Frontier:      frontier.NewStore(frontier.FilePath(dir, group)),
		CheckpointDir: dir,
	}
	db, err := a.openExistingDB()
	switch {
	case errors.Is(err, database.ErrDatabaseNotFound):
		a.logger.Debug("no archive database yet", "dir", a.cfg.DatabaseDir())
	case err != nil:
		return err
	default:
		src.Archive = db
	}

	st, err := report.Gather(cmd.Context(), group, src)
	if err != nil {
		return fmt.Errorf("failed to gather status: %w", err)
	}

	writers := []report.Writer{newStatusWriter(a.out, asJSON, asMarkdown, a.cfg.Verbose)}
	if output != "" {
		if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		f, err := os.Create(output) //nolint:gosec // user-chosen report path
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		writers = append(writers, newStatusWriter(f, asJSON, asMarkdown, a.cfg.Verbose))
	}

	if _, err := report.NewMultiWriter(writers...).Write(st); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

func newStatusWriter(w io.Writer, asJSON, asMarkdown, verbose bool) report.Writer {
	switch {
	case asJSON:
		return report.NewJSONWriter(w, report.WithPrettyPrint())
	case asMarkdown:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(verbose))
	}
}
