package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/analyzer"
	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/crawler"
	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/docstore"
	"github.com/nao1215/threadkeep/internal/fetcher"
	"github.com/nao1215/threadkeep/internal/frontier"
	"github.com/nao1215/threadkeep/internal/listing"
	tklog "github.com/nao1215/threadkeep/internal/log"
	"github.com/nao1215/threadkeep/internal/metrics"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
)

// communityURLFormat turns a bare community name into a listing URL.
const communityURLFormat = "https://www.reddit.com/r/%s/"

// app carries what every command needs: the resolved configuration, the
// logger, metrics and the resources to release on exit.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	out     io.Writer
	closers []func() error
}

// newApp resolves and validates the configuration and sets up logging.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	a := &app{cfg: cfg, metrics: metrics.New(), out: cmd.OutOrStdout()}

	var w io.Writer = cmd.ErrOrStderr()
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // user-chosen log path
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		w = io.MultiWriter(w, f)
	}
	a.logger = tklog.NewLogger(w, tklog.Options{
		Level: tklog.LevelFor(cfg.Verbose),
		JSON:  cfg.LogFormat == config.LogFormatJSON,
	})
	slog.SetDefault(a.logger)

	if cfg.ConfigFilePath != "" {
		a.logger.Debug("configuration file loaded", "path", cfg.ConfigFilePath)
	}
	return a, nil
}

// Close releases every resource opened through the app, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// serveMetrics exposes the metrics endpoint in the background when an
// address is configured. The server stops with ctx.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr, "path", metrics.Path)
		if err := a.metrics.ListenAndServe(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// openDB opens the archive database.
func (a *app) openDB() (*database.ArchiveDB, error) {
	mode, err := database.ParseUpsertMode(a.cfg.UpsertMode)
	if err != nil {
		return nil, err
	}
	opts := database.DefaultOptions()
	opts.UpsertMode = mode
	opts.Logger = a.logger

	db, err := database.Open(a.cfg.DatabaseDir(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.logger.Debug("database opened", "path", db.Path(), "upsert", mode)
	return db, nil
}

// openExistingDB opens the archive database for read-mostly commands. It
// returns database.ErrDatabaseNotFound when nothing has been archived yet.
func (a *app) openExistingDB() (*database.ArchiveDB, error) {
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	opts.Logger = a.logger

	db, err := database.Open(a.cfg.DatabaseDir(), opts)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// newClient builds the HTTP client of one community.
func (a *app) newClient(ts config.TargetConfig) (*netclient.Client, error) {
	client, err := netclient.NewClient(
		netclient.WithProxy(a.cfg.ProxyAddress),
		netclient.WithTimeout(a.cfg.Timeout),
		netclient.WithUserAgent(a.cfg.UserAgent),
		netclient.WithCookie(ts.Cookie),
		netclient.WithHeaders(ts.Headers),
		netclient.WithMaxBodySize(a.cfg.MaxBodySize),
		netclient.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// checkProxy verifies the configured proxy before any crawling starts.
func (a *app) checkProxy(ctx context.Context, client *netclient.Client) error {
	if a.cfg.ProxyAddress == "" {
		return nil
	}
	if err := client.CheckProxy(ctx); err != nil {
		return fmt.Errorf("proxy check failed (make sure a SOCKS5 proxy is listening at %s): %w", a.cfg.ProxyAddress, err)
	}
	a.logger.Info("proxy connection verified", "address", a.cfg.ProxyAddress)
	return nil
}

// newLister builds the configured listing backend.
func (a *app) newLister(client *netclient.Client) (listing.Lister, error) {
	opts := []listing.Option{listing.WithLogger(a.logger)}
	switch a.cfg.Listing {
	case config.ListingReddit:
		l, err := listing.NewRedditAPILister(a.cfg.Reddit, a.cfg.UserAgent, client.HTTPClient(), opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.ListingPullPush:
		return listing.NewPullPushLister(client, opts...), nil
	case config.ListingOldReddit:
		return listing.NewOldRedditLister(client, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownListing, a.cfg.Listing)
	}
}

// newCollector builds the frontier collector of one community.
func (a *app) newCollector(group string, lister listing.Lister) *frontier.Collector {
	ts := a.cfg.TargetSettings(group)
	store := frontier.NewStore(frontier.FilePath(a.cfg.GroupDir(group), group))
	return frontier.NewCollector(lister,
		frontier.WithStore(store),
		frontier.WithTargetCount(ts.TargetCount),
		frontier.WithRatios(ts.SamplingRatios),
		frontier.WithPageSize(a.cfg.PageSize),
		frontier.WithPageDelay(a.cfg.PageDelayMin, a.cfg.PageDelayMax),
		frontier.WithBackoff(a.cfg.ErrorBackoff, a.cfg.StatusBackoff),
		frontier.WithFailureLimits(a.cfg.MaxRequestFailures, a.cfg.MaxStatusFailures),
		frontier.WithStallPages(a.cfg.StallPages),
		frontier.WithPageObserver(a.metrics.PageListed),
		frontier.WithLogger(a.logger.With("group", group)),
	)
}

// newFetcher builds the configured detail fetcher. The browser fetcher is
// started once and closed with the app.
func (a *app) newFetcher(ctx context.Context, client *netclient.Client, cookie string) (fetcher.Fetcher, error) {
	opts := []fetcher.Option{
		fetcher.WithRateLimitRetry(a.cfg.RateLimitWait, a.cfg.RateLimitRetries),
		fetcher.WithLogger(a.logger),
	}
	switch a.cfg.Fetcher {
	case config.FetcherPullPush:
		return fetcher.NewPullPushFetcher(client, opts...), nil
	case config.FetcherBrowser:
		bf, err := fetcher.NewBrowserFetcher(ctx, fetcher.BrowserOptions{
			Headless:   a.cfg.Headless,
			ProfileDir: a.cfg.BrowserProfileDir,
			UserAgent:  a.cfg.UserAgent,
			Cookie:     cookie,
			Timeout:    a.cfg.Timeout,
			Pauser:     fetcher.NewPromptPauser(os.Stdin, os.Stderr),
			Logger:     a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			bf.Close()
			return nil
		})
		return bf, nil
	case config.FetcherReddit:
		return fetcher.NewRedditJSONFetcher(client, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownFetcher, a.cfg.Fetcher)
	}
}

// newSink builds the archive sink. Per-range JSON documents are written
// next to the checkpoints unless disabled. A single-post frontier writes its
// own document, which merge does not pick up as a community range.
func (a *app) newSink(db *database.ArchiveDB, fr *model.Frontier, r model.IndexRange) crawler.Sink {
	var docs *docstore.Store
	if a.cfg.WriteDocuments {
		docs = docstore.NewStore(docstore.RangeDocumentPath(a.cfg.GroupDir(fr.Group), fr.ScopeKey(), r))
	}
	return crawler.NewArchiveSink(db, docs)
}

// newRunner builds the fetch loop of one range.
func (a *app) newRunner(fr *model.Frontier, r model.IndexRange, f fetcher.Fetcher, sink crawler.Sink) *crawler.Runner {
	dir := a.cfg.GroupDir(fr.Group)
	frontierPath := ""
	if _, single := fr.SingleItem(); !single {
		frontierPath = frontier.FilePath(dir, fr.Group)
	}
	return crawler.NewRunner(f, sink,
		crawler.WithCheckpointDir(dir),
		crawler.WithFrontierPath(frontierPath),
		crawler.WithBreakerThreshold(a.cfg.BreakerThreshold),
		crawler.WithFlushEvery(a.cfg.FlushEvery),
		crawler.WithDelay(a.cfg.DelayMin, a.cfg.DelayMax),
		crawler.WithRateLimit(a.cfg.RateLimitRequests, a.cfg.RateLimitSleep),
		crawler.WithObserver(a.metrics),
		crawler.WithLogger(a.logger),
	)
}

// newAnalyzer builds the language model analyzer on top of the archive.
func (a *app) newAnalyzer(db *database.ArchiveDB) (*analyzer.Analyzer, error) {
	return analyzer.New(a.cfg.LLM, db,
		analyzer.WithLogger(a.logger),
		analyzer.WithResultHook(a.metrics.Analyzed),
	)
}

// groupKit holds the per-community crawl components, built up front so
// configuration problems surface before any work starts.
type groupKit struct {
	collector *frontier.Collector
	fetcher   fetcher.Fetcher
}

// buildKits prepares the collector and fetcher of every group. withFetcher
// is false for commands that only collect. One browser is shared by every
// group because it keeps a single profile.
func (a *app) buildKits(ctx context.Context, groups []string, withCollector, withFetcher bool) (map[string]*groupKit, error) {
	kits := make(map[string]*groupKit, len(groups))
	var browser fetcher.Fetcher
	proxyChecked := false

	for _, group := range groups {
		if _, ok := kits[group]; ok {
			continue
		}
		ts := a.cfg.TargetSettings(group)
		client, err := a.newClient(ts)
		if err != nil {
			return nil, err
		}
		if !proxyChecked {
			if err := a.checkProxy(ctx, client); err != nil {
				return nil, err
			}
			proxyChecked = true
		}

		kit := &groupKit{}
		if withCollector {
			lister, err := a.newLister(client)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s lister: %w", a.cfg.Listing, err)
			}
			kit.collector = a.newCollector(group, lister)
		}
		if withFetcher {
			if a.cfg.Fetcher == config.FetcherBrowser && browser != nil {
				kit.fetcher = browser
			} else {
				f, err := a.newFetcher(ctx, client, ts.Cookie)
				if err != nil {
					return nil, fmt.Errorf("failed to create %s fetcher: %w", a.cfg.Fetcher, err)
				}
				if a.cfg.Fetcher == config.FetcherBrowser {
					browser = f
				}
				kit.fetcher = f
			}
		}
		kits[group] = kit
	}
	return kits, nil
}

// resolveTarget accepts a community or post URL, "r/<name>" or a bare
// community name, and returns the target URL and its community.
func resolveTarget(arg string) (string, string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", "", config.ErrNoTarget
	}
	if strings.Contains(arg, "://") {
		u, err := url.Parse(arg)
		if err != nil || u.Host == "" {
			return "", "", fmt.Errorf("%w: %s", config.ErrInvalidTarget, arg)
		}
		group, ok := model.ExtractGroupID(u.Path)
		if !ok {
			return "", "", fmt.Errorf("%w: %s", config.ErrInvalidTarget, arg)
		}
		return arg, group, nil
	}

	name := strings.Trim(arg, "/")
	name = strings.TrimPrefix(name, "r/")
	if name == "" || strings.ContainsAny(name, "/?# ") {
		return "", "", fmt.Errorf("%w: %s", config.ErrInvalidTarget, arg)
	}
	return fmt.Sprintf(communityURLFormat, name), name, nil
}

// resolveTargets resolves every argument and returns the target URLs with
// their communities in argument order.
func resolveTargets(args []string) ([]string, []string, error) {
	if len(args) == 0 {
		return nil, nil, config.ErrNoTarget
	}
	targets := make([]string, 0, len(args))
	groups := make([]string, 0, len(args))
	for _, arg := range args {
		target, group, err := resolveTarget(arg)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, target)
		groups = append(groups, group)
	}
	return targets, groups, nil
}
