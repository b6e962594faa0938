package analyzer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/pacing"
)

// Pauses between attempts for the same post.
const (
	callRetryDelay  = 2 * time.Second
	parseRetryDelay = 1 * time.Second
)

// strictJSONReminder is appended to the user message after an unparsable reply.
const strictJSONReminder = "\n\nIMPORTANT: Please ensure you return ONLY the raw JSON object without any markdown formatting or additional text."

// Store is the subset of the archive the analyzer reads and writes.
type Store interface {
	ListItems(ctx context.Context, f database.Filter) ([]*model.ContentItem, error)
	SaveAnalysis(ctx context.Context, id model.ItemID, result string) error
}

// Selection chooses which archived posts to analyze.
type Selection struct {
	Group string
	IDs   []model.ItemID

	// Force re-analyzes posts that already carry a result.
	Force bool
}

// Result summarizes one Analyze call.
type Result struct {
	Selected int
	Analyzed int
	Failed   []model.ItemID
}

// Analyzer runs posts through a chat completion endpoint.
type Analyzer struct {
	client   *openai.Client
	store    Store
	prompt   Prompt
	cfg      config.LLMConfig
	sleep    pacing.Sleeper
	logger   *slog.Logger
	onResult func(id model.ItemID, ok bool)
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSleeper replaces the pause function used between attempts and posts.
func WithSleeper(s pacing.Sleeper) Option {
	return func(a *Analyzer) {
		a.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithResultHook registers a function called after each post with whether
// its analysis was stored.
func WithResultHook(fn func(id model.ItemID, ok bool)) Option {
	return func(a *Analyzer) {
		a.onResult = fn
	}
}

// New creates an Analyzer from cfg. Zero numeric settings fall back to the
// defaults in config.DefaultLLMConfig.
func New(cfg config.LLMConfig, store Store, opts ...Option) (*Analyzer, error) {
	cfg = withDefaults(cfg)

	prompt, key, err := resolvePrompt(cfg)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	a := &Analyzer{
		client: openai.NewClientWithConfig(clientCfg),
		store:  store,
		prompt: prompt,
		cfg:    cfg,
		sleep:  pacing.Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func withDefaults(cfg config.LLMConfig) config.LLMConfig {
	def := config.DefaultLLMConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return cfg
}

// AnalyzeGroup analyzes every valid, not yet analyzed post of group and
// returns how many results were stored.
func (a *Analyzer) AnalyzeGroup(ctx context.Context, group string) (int, error) {
	res, err := a.Analyze(ctx, Selection{Group: group})
	return res.Analyzed, err
}

// Analyze runs the selected posts one at a time, newest first.
// A post whose attempts all fail is recorded in Result.Failed and does not
// stop the run; cancellation does.
func (a *Analyzer) Analyze(ctx context.Context, sel Selection) (Result, error) {
	items, err := a.store.ListItems(ctx, database.Filter{
		Group:      sel.Group,
		IDs:        sel.IDs,
		ValidOnly:  true,
		Unanalyzed: !sel.Force,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to select posts: %w", err)
	}
	slices.SortStableFunc(items, func(x, y *model.ContentItem) int {
		return cmp.Compare(y.CreatedUTC, x.CreatedUTC)
	})

	res := Result{Selected: len(items)}
	if len(items) == 0 {
		a.logger.Warn("no posts to analyze", "group", sel.Group, "ids", len(sel.IDs))
		return res, nil
	}
	a.logger.Info("analyzing posts", "group", sel.Group, "count", len(items), "model", a.cfg.Model)

	for i, item := range items {
		a.logger.Info("analyzing post", "post_id", item.ItemID, "progress", fmt.Sprintf("%d/%d", i+1, len(items)))

		ok := false
		result, err := a.AnalyzeItem(ctx, item)
		switch {
		case ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil:
			a.logger.Error("post analysis failed", "post_id", item.ItemID, "error", err)
			res.Failed = append(res.Failed, item.ItemID)
		default:
			if err := a.store.SaveAnalysis(ctx, item.ItemID, result); err != nil {
				return res, fmt.Errorf("failed to store analysis of %s: %w", item.ItemID, err)
			}
			res.Analyzed++
			ok = true
		}
		if a.onResult != nil {
			a.onResult(item.ItemID, ok)
		}

		if i < len(items)-1 && a.cfg.Delay > 0 {
			if err := a.sleep(ctx, a.cfg.Delay); err != nil {
				return res, err
			}
		}
	}

	a.logger.Info("analysis finished", "analyzed", res.Analyzed, "failed", len(res.Failed), "selected", res.Selected)
	return res, nil
}

// AnalyzeItem sends one post to the model and returns the JSON object it
// answered with. Call failures and unparsable replies are retried up to
// MaxRetries attempts in total.
func (a *Analyzer) AnalyzeItem(ctx context.Context, item *model.ContentItem) (string, error) {
	msg, err := a.prompt.UserMessage(item)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		last := attempt == a.cfg.MaxRetries

		content, err := a.complete(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			a.logger.Warn("completion failed", "post_id", item.ItemID, "attempt", attempt, "error", err)
			if !last {
				if err := a.sleep(ctx, callRetryDelay); err != nil {
					return "", err
				}
			}
			continue
		}

		obj, err := ExtractJSON(content)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		a.logger.Warn("unparsable completion", "post_id", item.ItemID, "attempt", attempt)
		if !last {
			if !strings.HasSuffix(msg, strictJSONReminder) {
				msg += strictJSONReminder
			}
			if err := a.sleep(ctx, parseRetryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrAnalysisFailed, item.ItemID, a.cfg.MaxRetries, lastErr)
}

func (a *Analyzer) complete(ctx context.Context, userMessage string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if a.prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.prompt.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("language model returned status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("failed to call language model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
