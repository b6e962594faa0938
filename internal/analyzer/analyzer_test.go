package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/pacing"
)

// reply is one scripted answer of the fake completion endpoint.
type reply struct {
	status  int
	content string
}

// fakeLLM is an OpenAI-compatible /chat/completions endpoint that answers
// from a script and records every request.
type fakeLLM struct {
	mu       sync.Mutex
	script   func(call int, req openai.ChatCompletionRequest) reply
	requests []openai.ChatCompletionRequest
	auth     []string
}

func newFakeLLM(t *testing.T, script func(call int, req openai.ChatCompletionRequest) reply) (*fakeLLM, *httptest.Server) {
	t.Helper()

	f := &fakeLLM{script: script}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		call := len(f.requests)
		f.mu.Unlock()

		rep := f.script(call, req)
		w.Header().Set("Content-Type", "application/json")
		if rep.status != 0 && rep.status != http.StatusOK {
			w.WriteHeader(rep.status)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream failure","type":"server_error"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "cmpl-1",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: rep.content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeLLM) request(i int) (openai.ChatCompletionRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i], f.auth[i]
}

func (f *fakeLLM) userMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, req := range f.requests {
		for _, m := range req.Messages {
			if m.Role == openai.ChatMessageRoleUser {
				out = append(out, m.Content)
			}
		}
	}
	return out
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	items   []*model.ContentItem
	filters []database.Filter
	saved   map[model.ItemID]string
}

func (s *memStore) ListItems(_ context.Context, f database.Filter) ([]*model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)

	out := make([]*model.ContentItem, 0, len(s.items))
	for _, it := range s.items {
		if f.Group != "" && !strings.EqualFold(it.Group, f.Group) {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, it.ItemID) {
			continue
		}
		if f.ValidOnly && !it.IsValid {
			continue
		}
		if f.Unanalyzed && it.Analysis != "" {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *memStore) SaveAnalysis(_ context.Context, id model.ItemID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[model.ItemID]string)
	}
	s.saved[id] = result
	return nil
}

func post(id, title string, created float64) *model.ContentItem {
	return &model.ContentItem{
		ItemID:     model.ItemID(id),
		Group:      "dogs",
		Title:      title,
		CreatedUTC: created,
		IsValid:    true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAnalyzer(t *testing.T, srv *httptest.Server, store Store, cfg config.LLMConfig, rec *pacing.Recorder) *Analyzer {
	t.Helper()

	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	cfg.BaseURL = srv.URL
	a, err := New(cfg, store, WithSleeper(rec.Sleep), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("requires an API key", func(t *testing.T) {
		t.Parallel()

		_, err := New(config.LLMConfig{}, &memStore{})
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()

		a, err := New(config.LLMConfig{APIKey: "k"}, &memStore{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.cfg.Model != config.DefaultLLMModel || a.cfg.MaxRetries != config.DefaultLLMMaxRetries || a.cfg.MaxTokens != config.DefaultLLMMaxTokens {
			t.Errorf("defaults not applied: %+v", a.cfg)
		}
	})
}

func TestAnalyzer_Analyze(t *testing.T) {
	t.Parallel()

	llm, srv := newFakeLLM(t, func(_ int, _ openai.ChatCompletionRequest) reply {
		return reply{content: "```json\n{\"sentiment\": \"positive\"}\n```"}
	})

	analyzed := post("done", "Already analyzed", 400)
	analyzed.Analysis = `{"old":true}`
	invalid := post("gone", "[removed by moderator]", 500)
	invalid.IsValid = false
	store := &memStore{items: []*model.ContentItem{
		post("old", "Oldest", 100),
		post("new", "Newest", 300),
		post("mid", "Middle", 200),
		analyzed,
		invalid,
	}}

	rec := &pacing.Recorder{}
	a := newTestAnalyzer(t, srv, store, config.LLMConfig{
		Model:        "test-model",
		SystemPrompt: "Return JSON.",
		Delay:        time.Second,
	}, rec)

	res, err := a.Analyze(context.Background(), Selection{Group: "dogs"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Selected != 3 || res.Analyzed != 3 || len(res.Failed) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	for _, id := range []model.ItemID{"old", "mid", "new"} {
		if store.saved[id] != `{"sentiment":"positive"}` {
			t.Errorf("post %s: stored %q", id, store.saved[id])
		}
	}
	if _, ok := store.saved["done"]; ok {
		t.Error("expected analyzed post to be skipped without force")
	}

	msgs := llm.userMessages()
	wantOrder := []string{"Newest", "Middle", "Oldest"}
	for i, title := range wantOrder {
		if !strings.Contains(msgs[i], title) {
			t.Errorf("request %d: expected %q first-newest order, got %s", i, title, msgs[i])
		}
	}

	req, auth := llm.request(0)
	if req.Model != "test-model" || req.MaxTokens != config.DefaultLLMMaxTokens {
		t.Errorf("unexpected request settings: model=%s max_tokens=%d", req.Model, req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != openai.ChatMessageRoleSystem || req.Messages[0].Content != "Return JSON." {
		t.Errorf("expected system prompt first, got %+v", req.Messages)
	}
	if auth != "Bearer test-key" {
		t.Errorf("unexpected authorization header %q", auth)
	}

	if want := []time.Duration{time.Second, time.Second}; !slices.Equal(rec.Calls, want) {
		t.Errorf("expected delays only between posts %v, got %v", want, rec.Calls)
	}
}

func TestAnalyzer_AnalyzeForce(t *testing.T) {
	t.Parallel()

	_, srv := newFakeLLM(t, func(_ int, _ openai.ChatCompletionRequest) reply {
		return reply{content: `{"v": 2}`}
	})
	analyzed := post("done", "Already analyzed", 400)
	analyzed.Analysis = `{"v":1}`
	store := &memStore{items: []*model.ContentItem{analyzed, post("other", "Other", 1)}}

	a := newTestAnalyzer(t, srv, store, config.LLMConfig{}, &pacing.Recorder{})
	res, err := a.Analyze(context.Background(), Selection{IDs: []model.ItemID{"done"}, Force: true})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Analyzed != 1 || store.saved["done"] != `{"v":2}` {
		t.Errorf("expected forced re-analysis, got %+v saved=%v", res, store.saved)
	}
	if store.filters[0].Unanalyzed {
		t.Error("expected force to lift the unanalyzed filter")
	}
}

func TestAnalyzer_AnalyzeItemRetries(t *testing.T) {
	t.Parallel()

	t.Run("unparsable reply adds reminder", func(t *testing.T) {
		t.Parallel()

		llm, srv := newFakeLLM(t, func(call int, _ openai.ChatCompletionRequest) reply {
			if call == 1 {
				return reply{content: "Sure! The post is about dogs."}
			}
			return reply{content: `{"topic": "dogs"}`}
		})
		rec := &pacing.Recorder{}
		a := newTestAnalyzer(t, srv, &memStore{}, config.LLMConfig{}, rec)

		got, err := a.AnalyzeItem(context.Background(), post("p1", "Title", 1))
		if err != nil {
			t.Fatalf("AnalyzeItem() error = %v", err)
		}
		if got != `{"topic":"dogs"}` {
			t.Errorf("unexpected result %s", got)
		}

		msgs := llm.userMessages()
		if len(msgs) != 2 {
			t.Fatalf("expected 2 requests, got %d", len(msgs))
		}
		if strings.Contains(msgs[0], "IMPORTANT") || !strings.HasSuffix(msgs[1], strictJSONReminder) {
			t.Errorf("expected reminder only on the retry")
		}
		if !slices.Equal(rec.Calls, []time.Duration{parseRetryDelay}) {
			t.Errorf("unexpected pauses %v", rec.Calls)
		}
	})

	t.Run("call failure is retried", func(t *testing.T) {
		t.Parallel()

		llm, srv := newFakeLLM(t, func(call int, _ openai.ChatCompletionRequest) reply {
			if call < 3 {
				return reply{status: http.StatusInternalServerError}
			}
			return reply{content: `{"ok": true}`}
		})
		rec := &pacing.Recorder{}
		a := newTestAnalyzer(t, srv, &memStore{}, config.LLMConfig{}, rec)

		got, err := a.AnalyzeItem(context.Background(), post("p1", "Title", 1))
		if err != nil {
			t.Fatalf("AnalyzeItem() error = %v", err)
		}
		if got != `{"ok":true}` {
			t.Errorf("unexpected result %s", got)
		}
		if msgs := llm.userMessages(); strings.Contains(msgs[2], "IMPORTANT") {
			t.Error("expected no reminder after call failures")
		}
		if !slices.Equal(rec.Calls, []time.Duration{callRetryDelay, callRetryDelay}) {
			t.Errorf("unexpected pauses %v", rec.Calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()

		llm, srv := newFakeLLM(t, func(_ int, _ openai.ChatCompletionRequest) reply {
			return reply{content: "no json here"}
		})
		rec := &pacing.Recorder{}
		a := newTestAnalyzer(t, srv, &memStore{}, config.LLMConfig{MaxRetries: 3}, rec)

		_, err := a.AnalyzeItem(context.Background(), post("p1", "Title", 1))
		if !errors.Is(err, ErrAnalysisFailed) || !errors.Is(err, ErrNoJSON) {
			t.Fatalf("expected ErrAnalysisFailed wrapping ErrNoJSON, got %v", err)
		}
		msgs := llm.userMessages()
		if len(msgs) != 3 {
			t.Fatalf("expected 3 attempts, got %d", len(msgs))
		}
		if strings.Count(msgs[2], "IMPORTANT") != 1 {
			t.Error("expected the reminder to be appended once")
		}
		if len(rec.Calls) != 2 {
			t.Errorf("expected no pause after the final attempt, got %v", rec.Calls)
		}
	})
}

func TestAnalyzer_FailedPostDoesNotStopRun(t *testing.T) {
	t.Parallel()

	_, srv := newFakeLLM(t, func(_ int, req openai.ChatCompletionRequest) reply {
		if strings.Contains(req.Messages[len(req.Messages)-1].Content, "Broken") {
			return reply{content: "nope"}
		}
		return reply{content: `{"ok": 1}`}
	})
	store := &memStore{items: []*model.ContentItem{post("a", "Broken", 2), post("b", "Fine", 1)}}

	var hooked []model.ItemID
	a, err := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 1}, store,
		WithSleeper((&pacing.Recorder{}).Sleep),
		WithLogger(discardLogger()),
		WithResultHook(func(id model.ItemID, ok bool) {
			if ok {
				hooked = append(hooked, id)
			}
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	n, err := a.AnalyzeGroup(context.Background(), "dogs")
	if err != nil {
		t.Fatalf("AnalyzeGroup() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 analyzed post, got %d", n)
	}
	if !slices.Equal(hooked, []model.ItemID{"b"}) {
		t.Errorf("expected hook for b only, got %v", hooked)
	}
}

func TestAnalyzer_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	_, srv := newFakeLLM(t, func(_ int, _ openai.ChatCompletionRequest) reply {
		cancel()
		return reply{content: `{"ok": 1}`}
	})
	store := &memStore{items: []*model.ContentItem{post("a", "A", 2), post("b", "B", 1)}}
	a := newTestAnalyzer(t, srv, store, config.LLMConfig{Delay: time.Second}, &pacing.Recorder{})

	_, err := a.Analyze(ctx, Selection{Group: "dogs"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, ok := store.saved["b"]; ok {
		t.Error("expected no work after cancellation")
	}
}

func TestAnalyzer_WithArchiveDB(t *testing.T) {
	t.Parallel()

	opts := database.DefaultOptions()
	opts.Logger = discardLogger()
	db, err := database.Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	items := []*model.ContentItem{post("x1", "First", 1), post("x2", "Second", 2)}
	items[0].Index, items[1].Index = 0, 1
	if _, err := db.SaveItems(ctx, items); err != nil {
		t.Fatalf("SaveItems() error = %v", err)
	}

	_, srv := newFakeLLM(t, func(_ int, _ openai.ChatCompletionRequest) reply {
		return reply{content: `{"label": "ok"}`}
	})
	a := newTestAnalyzer(t, srv, db, config.LLMConfig{}, &pacing.Recorder{})

	n, err := a.AnalyzeGroup(ctx, "Dogs")
	if err != nil || n != 2 {
		t.Fatalf("AnalyzeGroup() = %d, %v", n, err)
	}
	got, err := db.GetItem(ctx, "x1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Analysis != `{"label":"ok"}` {
		t.Errorf("stored analysis = %q", got.Analysis)
	}

	n, err = a.AnalyzeGroup(ctx, "dogs")
	if err != nil || n != 0 {
		t.Errorf("expected nothing left to analyze, got %d, %v", n, err)
	}
}
