package config

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "threadkeep"

	// DefaultTimeout bounds a single HTTP request or browser navigation.
	DefaultTimeout = 30 * time.Second

	// DefaultTargetCount is the number of posts collected per community.
	DefaultTargetCount = 1000

	// DefaultPageSize is the listing page size. Upstream listings cap it at 100.
	DefaultPageSize = 100

	// MaxPageSize is the largest page size any listing backend accepts.
	MaxPageSize = 100

	// DefaultPageDelayMin and DefaultPageDelayMax bound the random pause between listing pages.
	DefaultPageDelayMin = 2 * time.Second
	DefaultPageDelayMax = 5 * time.Second

	// DefaultErrorBackoff is the wait after a transport or decode failure while listing.
	DefaultErrorBackoff = 3 * time.Second

	// DefaultStatusBackoff is the wait after a non-success HTTP status while listing.
	DefaultStatusBackoff = 5 * time.Second

	// DefaultMaxRequestFailures abandons a source after this many consecutive request failures.
	DefaultMaxRequestFailures = 5

	// DefaultMaxStatusFailures abandons a source after this many consecutive status failures.
	DefaultMaxStatusFailures = 3

	// DefaultStallPages stops a source after this many pages without new posts.
	DefaultStallPages = 3

	// DefaultBreakerThreshold stops the fetch loop after this many consecutive failures.
	DefaultBreakerThreshold = 5

	// DefaultFlushEvery is the number of fetched items buffered before a flush.
	DefaultFlushEvery = 10

	// DefaultDelayMin and DefaultDelayMax bound the random pause after each detail fetch.
	DefaultDelayMin = 1 * time.Second
	DefaultDelayMax = 3 * time.Second

	// DefaultRateLimitRequests is the number of detail requests between long pauses.
	DefaultRateLimitRequests = 100

	// DefaultRateLimitSleep is the long pause taken every DefaultRateLimitRequests requests.
	DefaultRateLimitSleep = 100 * time.Second

	// DefaultRateLimitWait is the wait before retrying a rate-limited detail request.
	DefaultRateLimitWait = 20 * time.Second

	// DefaultRateLimitRetries caps retries of a rate-limited detail request.
	DefaultRateLimitRetries = 100

	// DefaultBatchSize is the number of index ranges fetched concurrently.
	DefaultBatchSize = 4

	// DefaultPartitions is the number of index ranges a fetch is split into.
	DefaultPartitions = 1

	// DefaultUserAgent identifies threadkeep in HTTP requests.
	DefaultUserAgent = "threadkeep/1.0 (+https://github.com/nao1215/threadkeep)"

	// DefaultMaxBodySize limits the response body read from upstream APIs.
	DefaultMaxBodySize = 20 * 1024 * 1024 // 20MB
)

// Listing backends.
const (
	ListingOldReddit = "oldreddit"
	ListingReddit    = "reddit"
	ListingPullPush  = "pullpush"
)

// Fetcher backends.
const (
	FetcherReddit   = "reddit"
	FetcherPullPush = "pullpush"
	FetcherBrowser  = "browser"
)

// Upsert modes for the relational sink.
const (
	UpsertReplace = "replace"
	UpsertIgnore  = "ignore"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Environment variables read by ApplyEnv.
const (
	EnvLLMAPIKey          = "THREADKEEP_LLM_API_KEY"
	EnvRedditClientID     = "REDDIT_CLIENT_ID"
	EnvRedditClientSecret = "REDDIT_CLIENT_SECRET"
	EnvRedditUsername     = "REDDIT_USERNAME"
	EnvRedditPassword     = "REDDIT_PASSWORD"
)

// DefaultSamplingRatios returns the default mix of listing sources.
func DefaultSamplingRatios() map[string]float64 {
	return map[string]float64{
		"new":      0.65,
		"top_year": 0.25,
		"best":     0.10,
	}
}

// RedditCredentials holds OAuth credentials for the Reddit API listing backend.
// When ClientID is empty the backend falls back to the read-only client.
type RedditCredentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Config holds all configuration options for threadkeep.
// It is populated from defaults, the YAML file, the environment and CLI flags,
// validated once, and then passed down read-only.
type Config struct {
	// Targets are community URLs (https://www.reddit.com/r/<name>/) or single post URLs.
	Targets []string

	// DataDir is the root directory for frontier files, checkpoints and JSON documents.
	// Each community gets its own subdirectory.
	DataDir string

	// DBDir is the directory holding the SQLite database. Defaults to DataDir.
	DBDir string

	// ConfigFilePath is the path to the configuration file.
	// If empty, .threadkeep.yaml is searched in the current and home directory.
	ConfigFilePath string

	// File is the parsed configuration file, if any.
	File *File

	// Verbose enables debug logging.
	Verbose bool

	// LogFormat is "text" or "json".
	LogFormat string

	// LogFile, when set, receives a copy of every log line.
	LogFile string

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string

	// TargetCount is the number of posts to collect per community.
	TargetCount int

	// SamplingRatios maps a listing source to its share of TargetCount.
	SamplingRatios map[string]float64

	// Listing selects the listing backend.
	Listing string

	// Fetcher selects the detail fetcher backend.
	Fetcher string

	// PageSize is the requested listing page size, capped at MaxPageSize.
	PageSize int

	PageDelayMin time.Duration
	PageDelayMax time.Duration

	ErrorBackoff       time.Duration
	StatusBackoff      time.Duration
	MaxRequestFailures int
	MaxStatusFailures  int
	StallPages         int

	// BreakerThreshold is the consecutive failure count that stops the fetch loop.
	BreakerThreshold int

	// FlushEvery is the number of fetched items buffered before a flush.
	FlushEvery int

	DelayMin time.Duration
	DelayMax time.Duration

	// RateLimitRequests is the number of requests between RateLimitSleep pauses. Zero disables it.
	RateLimitRequests int
	RateLimitSleep    time.Duration

	RateLimitWait    time.Duration
	RateLimitRetries int

	// RangeStart and RangeEnd restrict the fetch loop to a slice of the frontier.
	// Negative values mean "from the first" and "to the last" item.
	RangeStart int
	RangeEnd   int

	// Partitions splits the range into this many disjoint sub-ranges.
	Partitions int

	// BatchSize is the number of partitions fetched concurrently.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// UserAgent is sent with every HTTP request.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes.
	MaxBodySize int64

	// ProxyAddress is an optional SOCKS5 proxy in "host:port" format.
	ProxyAddress string

	// UpsertMode is "replace" or "ignore".
	UpsertMode string

	// WriteDocuments also appends fetched items to the per-range JSON document.
	WriteDocuments bool

	// Headless runs the browser fetcher without a window.
	Headless bool

	// BrowserProfileDir keeps the browser profile (and login) between runs.
	BrowserProfileDir string

	// Reddit holds API credentials for the reddit listing backend.
	Reddit RedditCredentials

	// LLM holds settings for the analyze command.
	LLM LLMConfig

	// Schedule is a cron expression used by the schedule command.
	Schedule string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		DataDir:            XDGDataDir(),
		LogFormat:          LogFormatText,
		TargetCount:        DefaultTargetCount,
		SamplingRatios:     DefaultSamplingRatios(),
		Listing:            ListingOldReddit,
		Fetcher:            FetcherReddit,
		PageSize:           DefaultPageSize,
		PageDelayMin:       DefaultPageDelayMin,
		PageDelayMax:       DefaultPageDelayMax,
		ErrorBackoff:       DefaultErrorBackoff,
		StatusBackoff:      DefaultStatusBackoff,
		MaxRequestFailures: DefaultMaxRequestFailures,
		MaxStatusFailures:  DefaultMaxStatusFailures,
		StallPages:         DefaultStallPages,
		BreakerThreshold:   DefaultBreakerThreshold,
		FlushEvery:         DefaultFlushEvery,
		DelayMin:           DefaultDelayMin,
		DelayMax:           DefaultDelayMax,
		RateLimitRequests:  DefaultRateLimitRequests,
		RateLimitSleep:     DefaultRateLimitSleep,
		RateLimitWait:      DefaultRateLimitWait,
		RateLimitRetries:   DefaultRateLimitRetries,
		RangeStart:         -1,
		RangeEnd:           -1,
		Partitions:         DefaultPartitions,
		BatchSize:          DefaultBatchSize,
		Timeout:            DefaultTimeout,
		UserAgent:          DefaultUserAgent,
		MaxBodySize:        DefaultMaxBodySize,
		UpsertMode:         UpsertReplace,
		WriteDocuments:     true,
		Headless:           true,
		BrowserProfileDir:  filepath.Join(XDGCacheDir(), "browser"),
		LLM:                DefaultLLMConfig(),
	}
}

// XDGDataDir returns the XDG data directory for threadkeep.
// On Linux: ~/.local/share/threadkeep
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for threadkeep.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for threadkeep.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// DatabaseDir returns the directory holding the SQLite database.
func (c *Config) DatabaseDir() string {
	if c.DBDir != "" {
		return c.DBDir
	}
	return c.DataDir
}

// GroupDir returns the per-community output directory.
func (c *Config) GroupDir(group string) string {
	return filepath.Join(c.DataDir, group)
}

// ApplyFile overlays values from the configuration file onto c.
// Only fields set in the file are applied; per-community values are resolved
// later through TargetSettings.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	c.File = f
	if f.Listing != "" {
		c.Listing = f.Listing
	}
	if f.Fetcher != "" {
		c.Fetcher = f.Fetcher
	}
	if f.UpsertMode != "" {
		c.UpsertMode = f.UpsertMode
	}
	if f.ProxyAddress != "" {
		c.ProxyAddress = f.ProxyAddress
	}
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}
	if f.Schedule != "" {
		c.Schedule = f.Schedule
	}
	if f.Defaults.TargetCount > 0 {
		c.TargetCount = f.Defaults.TargetCount
	}
	if len(f.Defaults.SamplingRatios) > 0 {
		c.SamplingRatios = copyRatios(f.Defaults.SamplingRatios)
	}
	c.LLM = c.LLM.merge(f.LLM)
}

// ApplyEnv overlays secrets from the environment onto c.
// getenv is usually os.Getenv; tests pass a map lookup.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvLLMAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv(EnvRedditClientID); v != "" {
		c.Reddit.ClientID = v
	}
	if v := getenv(EnvRedditClientSecret); v != "" {
		c.Reddit.ClientSecret = v
	}
	if v := getenv(EnvRedditUsername); v != "" {
		c.Reddit.Username = v
	}
	if v := getenv(EnvRedditPassword); v != "" {
		c.Reddit.Password = v
	}
}

// TargetSettings resolves the per-community settings for group.
// Values come from the global config and are overridden by the file's
// defaults and targets sections when present.
func (c *Config) TargetSettings(group string) TargetConfig {
	result := TargetConfig{
		TargetCount:    c.TargetCount,
		SamplingRatios: copyRatios(c.SamplingRatios),
	}
	if c.File == nil {
		return result
	}
	fileCfg := c.File.GetTargetConfig(group)
	if fileCfg.Cookie != "" {
		result.Cookie = fileCfg.Cookie
	}
	if len(fileCfg.Headers) > 0 {
		result.Headers = fileCfg.Headers
	}
	if fileCfg.TargetCount > 0 {
		result.TargetCount = fileCfg.TargetCount
	}
	if len(fileCfg.SamplingRatios) > 0 {
		result.SamplingRatios = copyRatios(fileCfg.SamplingRatios)
	}
	return result
}

// Validate checks if the configuration is valid and returns the first problem found.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.TargetCount <= 0 {
		return ErrInvalidTargetCount
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.Partitions <= 0 {
		return ErrInvalidPartitions
	}
	if !validDelayRange(c.PageDelayMin, c.PageDelayMax) || !validDelayRange(c.DelayMin, c.DelayMax) {
		return ErrInvalidDelayRange
	}
	if c.ErrorBackoff < 0 || c.StatusBackoff < 0 || c.RateLimitWait < 0 {
		return ErrInvalidDelayRange
	}
	if c.BreakerThreshold <= 0 {
		return ErrInvalidBreakerThreshold
	}
	if c.FlushEvery <= 0 {
		return ErrInvalidFlushEvery
	}
	if c.RateLimitRequests < 0 || c.RateLimitSleep < 0 || c.RateLimitRetries < 0 {
		return ErrInvalidRateLimit
	}
	if err := ValidateRatios(c.SamplingRatios); err != nil {
		return err
	}
	switch c.Listing {
	case ListingOldReddit, ListingReddit, ListingPullPush:
	default:
		return ErrUnknownListing
	}
	switch c.Fetcher {
	case FetcherReddit, FetcherPullPush, FetcherBrowser:
	default:
		return ErrUnknownFetcher
	}
	switch strings.ToLower(c.UpsertMode) {
	case UpsertReplace, UpsertIgnore:
	default:
		return ErrInvalidUpsertMode
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return ErrInvalidLogFormat
	}
	if c.RangeStart >= 0 && c.RangeEnd >= 0 && c.RangeStart > c.RangeEnd {
		return ErrInvalidRange
	}
	return nil
}

// ValidateRatios reports ErrInvalidRatios unless every weight is in [0,1]
// and the weights sum to more than zero.
func ValidateRatios(ratios map[string]float64) error {
	if len(ratios) == 0 {
		return ErrInvalidRatios
	}
	var sum float64
	for _, w := range ratios {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return ErrInvalidRatios
		}
		sum += w
	}
	if sum <= 0 {
		return ErrInvalidRatios
	}
	return nil
}

func validDelayRange(lo, hi time.Duration) bool {
	return lo >= 0 && hi >= 0 && lo <= hi
}

func copyRatios(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
