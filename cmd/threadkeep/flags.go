package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nao1215/threadkeep/internal/config"
)

// addCollectFlags registers the flags that shape frontier collection.
func addCollectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("target-count", "n", config.DefaultTargetCount, "Number of posts to collect per community")
	f.StringToString("ratio", nil,
		"Sampling ratio per listing source, e.g. new=0.65,top_year=0.25,best=0.1")
	f.String("listing", config.ListingOldReddit, "Listing backend: oldreddit, reddit or pullpush")
	f.Int("page-size", config.DefaultPageSize, "Listing page size (at most 100)")
	f.Duration("page-delay-min", config.DefaultPageDelayMin, "Minimum pause between listing pages")
	f.Duration("page-delay-max", config.DefaultPageDelayMax, "Maximum pause between listing pages")
	addTransportFlags(cmd)
}

// addFetchFlags registers the flags that shape the fetch loop.
func addFetchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("fetcher", config.FetcherReddit, "Fetcher backend: reddit, pullpush or browser")
	f.Int("start", -1, "First frontier index to fetch (default: first)")
	f.Int("end", -1, "Last frontier index to fetch, inclusive (default: last)")
	f.IntP("partitions", "p", config.DefaultPartitions, "Split the index range into this many parts")
	f.IntP("batch", "b", config.DefaultBatchSize, "Number of parts fetched concurrently")
	f.Int("breaker", config.DefaultBreakerThreshold, "Stop after this many consecutive fetch failures")
	f.Int("flush-every", config.DefaultFlushEvery, "Posts buffered before writing to the archive")
	f.Duration("delay-min", config.DefaultDelayMin, "Minimum pause between post fetches")
	f.Duration("delay-max", config.DefaultDelayMax, "Maximum pause between post fetches")
	f.Int("rate-limit-requests", config.DefaultRateLimitRequests, "Take a long pause every N requests (0 disables)")
	f.Duration("rate-limit-sleep", config.DefaultRateLimitSleep, "Length of the long pause")
	f.String("upsert", config.UpsertReplace, "Conflict handling for stored posts: replace or ignore")
	f.Bool("no-documents", false, "Do not write per-range JSON documents")
	f.Bool("headful", false, "Show the browser window (browser fetcher)")
	f.String("profile-dir", "", "Browser profile directory (browser fetcher)")
	if cmd.Flags().Lookup("timeout") == nil {
		addTransportFlags(cmd)
	}
}

// addTransportFlags registers HTTP client flags.
func addTransportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.DurationP("timeout", "t", config.DefaultTimeout, "Timeout for each request")
	f.String("proxy", "", "SOCKS5 proxy address (host:port)")
	f.String("user-agent", config.DefaultUserAgent, "User-Agent header")
}

// setFlag copies a flag into dst when the user set it explicitly, so that
// values from the configuration file survive flag defaults.
func setFlag[T any](fs *pflag.FlagSet, name string, dst *T, get func(string) (T, error)) error {
	fl := fs.Lookup(name)
	if fl == nil || !fl.Changed {
		return nil
	}
	v, err := get(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// buildConfig resolves the configuration in increasing precedence:
// defaults, configuration file, environment, then explicit flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	fs := cmd.Flags()

	explicit, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	path := config.FindConfigFile(explicit)
	switch {
	case path != "":
		file, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.ApplyFile(file)
		cfg.ConfigFilePath = path
	case explicit != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicit)
	}

	cfg.ApplyEnv(os.Getenv)

	if err := applyFlags(cfg, fs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, fs *pflag.FlagSet) error {
	var headful bool
	var noDocs bool
	var ratios map[string]string

	setters := []error{
		setFlag(fs, "verbose", &cfg.Verbose, fs.GetBool),
		setFlag(fs, "log-format", &cfg.LogFormat, fs.GetString),
		setFlag(fs, "log-file", &cfg.LogFile, fs.GetString),
		setFlag(fs, "data-dir", &cfg.DataDir, fs.GetString),
		setFlag(fs, "db-dir", &cfg.DBDir, fs.GetString),
		setFlag(fs, "metrics-addr", &cfg.MetricsAddr, fs.GetString),

		setFlag(fs, "target-count", &cfg.TargetCount, fs.GetInt),
		setFlag(fs, "ratio", &ratios, fs.GetStringToString),
		setFlag(fs, "listing", &cfg.Listing, fs.GetString),
		setFlag(fs, "page-size", &cfg.PageSize, fs.GetInt),
		setFlag(fs, "page-delay-min", &cfg.PageDelayMin, fs.GetDuration),
		setFlag(fs, "page-delay-max", &cfg.PageDelayMax, fs.GetDuration),

		setFlag(fs, "timeout", &cfg.Timeout, fs.GetDuration),
		setFlag(fs, "proxy", &cfg.ProxyAddress, fs.GetString),
		setFlag(fs, "user-agent", &cfg.UserAgent, fs.GetString),

		setFlag(fs, "fetcher", &cfg.Fetcher, fs.GetString),
		setFlag(fs, "start", &cfg.RangeStart, fs.GetInt),
		setFlag(fs, "end", &cfg.RangeEnd, fs.GetInt),
		setFlag(fs, "partitions", &cfg.Partitions, fs.GetInt),
		setFlag(fs, "batch", &cfg.BatchSize, fs.GetInt),
		setFlag(fs, "breaker", &cfg.BreakerThreshold, fs.GetInt),
		setFlag(fs, "flush-every", &cfg.FlushEvery, fs.GetInt),
		setFlag(fs, "delay-min", &cfg.DelayMin, fs.GetDuration),
		setFlag(fs, "delay-max", &cfg.DelayMax, fs.GetDuration),
		setFlag(fs, "rate-limit-requests", &cfg.RateLimitRequests, fs.GetInt),
		setFlag(fs, "rate-limit-sleep", &cfg.RateLimitSleep, fs.GetDuration),
		setFlag(fs, "upsert", &cfg.UpsertMode, fs.GetString),
		setFlag(fs, "no-documents", &noDocs, fs.GetBool),
		setFlag(fs, "headful", &headful, fs.GetBool),
		setFlag(fs, "profile-dir", &cfg.BrowserProfileDir, fs.GetString),

		setFlag(fs, "model", &cfg.LLM.Model, fs.GetString),
		setFlag(fs, "base-url", &cfg.LLM.BaseURL, fs.GetString),
		setFlag(fs, "prompt-file", &cfg.LLM.PromptFile, fs.GetString),
		setFlag(fs, "llm-delay", &cfg.LLM.Delay, fs.GetDuration),

		setFlag(fs, "cron", &cfg.Schedule, fs.GetString),
	}
	for _, err := range setters {
		if err != nil {
			return err
		}
	}

	if changed(fs, "no-documents") {
		cfg.WriteDocuments = !noDocs
	}
	if changed(fs, "headful") {
		cfg.Headless = !headful
	}
	if len(ratios) > 0 {
		parsed, err := parseRatios(ratios)
		if err != nil {
			return err
		}
		cfg.SamplingRatios = parsed
	}
	return nil
}

func changed(fs *pflag.FlagSet, name string) bool {
	fl := fs.Lookup(name)
	return fl != nil && fl.Changed
}

// parseRatios converts --ratio values to weights.
func parseRatios(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for source, v := range raw {
		w, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%s", config.ErrInvalidRatios, source, v)
		}
		out[strings.TrimSpace(source)] = w
	}
	return out, nil
}

// durationOrZero formats d for summaries.
func durationOrZero(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Millisecond).String()
}
