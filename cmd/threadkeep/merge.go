package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/docstore"
)

// NewMergeCmd creates the merge command.
func NewMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <community>",
		Short: "Merge per-range JSON documents into one",
		Long: `Merge combines the JSON documents written by each fetch range of a
community into <community>_data_merged.json, ordered by frontier index.
Posts present in more than one document are kept once. Index gaps and
overlaps between ranges are reported.`,
		Args: cobra.ExactArgs(1),
		RunE: runMergeCmd,
	}
}

func runMergeCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	_, group, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	res, err := docstore.MergeRanges(a.cfg.GroupDir(group), group)
	if err != nil {
		return fmt.Errorf("failed to merge %s: %w", group, err)
	}

	fmt.Fprintf(a.out, "Merged %d documents into %s\n", len(res.Documents), res.OutputPath)
	for _, d := range res.Documents {
		fmt.Fprintf(a.out, "  %d-%d: %d posts\n", d.Range.Start, d.Range.End, d.Items)
	}
	fmt.Fprintf(a.out, "Posts: %d (duplicates dropped: %d)\n", len(res.Items), res.Duplicates)
	for _, g := range res.Gaps {
		fmt.Fprintf(a.out, "Gap: indexes %d-%d are not covered\n", g.Start, g.End)
	}
	for _, o := range res.Overlaps {
		fmt.Fprintf(a.out, "Overlap: indexes %d-%d are covered twice\n", o.Start, o.End)
	}
	if !res.Covered() {
		a.logger.Warn("merged documents leave gaps", "group", group, "gaps", len(res.Gaps))
	}
	return nil
}
