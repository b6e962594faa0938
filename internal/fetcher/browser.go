package fetcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/nao1215/threadkeep/internal/comment"
	"github.com/nao1215/threadkeep/internal/model"
)

// challengeKeywords in a page body indicate a captcha or login wall.
var challengeKeywords = []string{
	"captcha", "verification", "prove you are human", "robot check", "login", "sign in",
}

// probeJS collects what challenge detection needs in one round trip.
const probeJS = `(() => {
  const selectors = [
    '[data-testid="captcha"]', '.g-recaptcha', '#recaptcha', '[class*="captcha"]',
    '[id*="captcha"]', 'iframe[src*="recaptcha"]', 'iframe[src*="captcha"]',
    '[aria-label*="captcha"]', '[aria-label*="verification"]'
  ];
  const visible = (el) => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
  const hit = selectors.some((s) => Array.from(document.querySelectorAll(s)).some(visible));
  const pre = document.querySelector('pre');
  return {
    selectorHit: hit,
    pre: pre ? pre.textContent : '',
    body: document.body ? document.body.innerText : ''
  };
})()`

// pageProbe is the result of probeJS.
type pageProbe struct {
	SelectorHit bool   `json:"selectorHit"`
	Pre         string `json:"pre"`
	Body        string `json:"body"`
}

// isChallenge reports whether the probed page is a captcha or login wall.
// A page whose <pre> already holds post JSON is never a challenge, even if
// the post text mentions one of the keywords.
func isChallenge(p pageProbe) bool {
	if p.SelectorHit {
		return true
	}
	if looksLikePostJSON(p.Pre) {
		return false
	}
	body := strings.ToLower(p.Body)
	for _, keyword := range challengeKeywords {
		if strings.Contains(body, keyword) {
			return true
		}
	}
	return false
}

func looksLikePostJSON(s string) bool {
	return strings.Contains(s, `"title"`) && strings.Contains(s, `"author"`) && strings.Contains(s, `"selftext"`)
}

// Pauser blocks until a person has cleared a challenge in the browser window.
type Pauser interface {
	Pause(ctx context.Context, pageURL string) error
}

// PromptPauser asks on out and waits for a line reading "c" on in.
// One reader goroutine serves every Pause so no input line is lost between prompts.
type PromptPauser struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
	err   error
}

// NewPromptPauser creates a PromptPauser.
func NewPromptPauser(in io.Reader, out io.Writer) *PromptPauser {
	return &PromptPauser{in: in, out: out, lines: make(chan string)}
}

func (p *PromptPauser) start() {
	go func() {
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		p.err = scanner.Err()
		if p.err == nil {
			p.err = io.EOF
		}
		close(p.lines)
	}()
}

// Pause implements Pauser.
func (p *PromptPauser) Pause(ctx context.Context, pageURL string) error {
	p.once.Do(p.start)
	fmt.Fprintf(p.out, "Challenge detected at %s\nSolve it in the browser window, then type 'c' and press Enter to continue: ", pageURL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				return fmt.Errorf("%w: input closed: %w", ErrCaptcha, p.err)
			}
			if strings.EqualFold(strings.TrimSpace(line), "c") {
				return nil
			}
			fmt.Fprint(p.out, "Type 'c' to continue: ")
		}
	}
}

// BrowserOptions configures NewBrowserFetcher.
type BrowserOptions struct {
	Headless   bool
	ProfileDir string
	UserAgent  string
	Cookie     string
	Timeout    time.Duration
	Pauser     Pauser
	Logger     *slog.Logger
}

// BrowserFetcher loads detail JSON in a Chrome instance driven by chromedp.
// A persistent profile keeps any login between runs. Fetches share one tab
// and are serialized.
type BrowserFetcher struct {
	mu         sync.Mutex
	browserCtx context.Context
	cancel     context.CancelFunc
	opts       BrowserOptions
	now        func() time.Time
}

// NewBrowserFetcher starts the browser and injects the configured cookies.
// Call Close to shut it down.
func NewBrowserFetcher(ctx context.Context, opts BrowserOptions) (*BrowserFetcher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("disable-gpu", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	if err := chromedp.Run(browserCtx, injectCookies(opts.Cookie)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &BrowserFetcher{browserCtx: browserCtx, cancel: cancel, opts: opts, now: time.Now}, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	b.cancel()
}

// Fetch implements Fetcher.
func (b *BrowserFetcher) Fetch(ctx context.Context, ref model.ItemReference, index int) (*model.ContentItem, error) {
	id, err := itemID(ref)
	if err != nil {
		return nil, err
	}
	detailURL := model.DetailURL(ref.Reference)

	b.mu.Lock()
	defer b.mu.Unlock()

	probe, err := b.load(ctx, detailURL)
	if err != nil {
		return nil, err
	}
	if isChallenge(probe) {
		b.opts.Logger.Warn("challenge page detected, waiting for manual action", "url", detailURL)
		if b.opts.Pauser == nil {
			return nil, fmt.Errorf("%w: %s", ErrCaptcha, detailURL)
		}
		if err := b.opts.Pauser.Pause(ctx, detailURL); err != nil {
			return nil, err
		}
		b.opts.Logger.Info("reloading page after manual action", "url", detailURL)
		if probe, err = b.load(ctx, detailURL); err != nil {
			return nil, err
		}
	}
	if probe.Pre == "" {
		return nil, fmt.Errorf("%w: no JSON on %s", ErrMalformedPayload, detailURL)
	}

	post, rawComments, err := parseDetail([]byte(probe.Pre))
	if err != nil {
		return nil, err
	}
	item := buildItem(post, ref, index, id, comment.ParseNestedList(rawComments), b.now())
	b.opts.Logger.Debug("fetched post in browser", "post_id", id, "index", index, "comments", item.NumCommentsFiltered)
	return item, nil
}

func (b *BrowserFetcher) load(ctx context.Context, pageURL string) (pageProbe, error) {
	// the tab lives in browserCtx; ctx only bounds this call
	tabCtx, cancel := context.WithTimeout(b.browserCtx, b.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var probe pageProbe
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(probeJS, &probe),
	)
	if err != nil {
		if ctx.Err() != nil {
			return pageProbe{}, ctx.Err()
		}
		return pageProbe{}, fmt.Errorf("failed to load %s: %w", pageURL, err)
	}
	return probe, nil
}

// parseCookieString splits "a=1; b=2" into name/value pairs.
func parseCookieString(raw string) [][2]string {
	var pairs [][2]string
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(name), strings.TrimSpace(value)})
	}
	return pairs
}

func injectCookies(raw string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range parseCookieString(raw) {
			err := network.SetCookie(c[0], c[1]).
				WithDomain(".reddit.com").
				WithPath("/").
				WithSecure(true).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c[0], err)
			}
		}
		return nil
	})
}
