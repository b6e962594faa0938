package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/config"
)

// envFile is loaded from the working directory before any command runs.
const envFile = ".env"

// NewRootCmd creates the root command for threadkeep.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threadkeep",
		Short: "Resumable Reddit community archiver",
		Long: `threadkeep archives Reddit communities.

It collects post references from several listings (new, top, best, ...)
according to sampling ratios, fetches every post with its comment tree,
and stores the results in SQLite and JSON documents. Collection and
fetching checkpoint to disk, so an interrupted crawl resumes where it
stopped.

Secrets such as THREADKEEP_LLM_API_KEY and REDDIT_CLIENT_SECRET are read
from the environment and from a .env file in the working directory.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.StringP("config", "c", "",
		"Configuration file path (default: .threadkeep.yaml in current, config or home directory)")
	flags.String("log-format", config.LogFormatText, "Log format: text or json")
	flags.String("log-file", "", "Also append logs to this file")
	flags.String("data-dir", "", "Directory for frontiers, checkpoints and documents (default: XDG data dir)")
	flags.String("db-dir", "", "Directory holding the SQLite database (default: --data-dir)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	cmd.AddCommand(NewCollectCmd())
	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewAnalyzeCmd())
	cmd.AddCommand(NewMergeCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewScheduleCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
