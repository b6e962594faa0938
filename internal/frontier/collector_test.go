package frontier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/threadkeep/internal/listing"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/pacing"
)

const testCommunity = "https://www.reddit.com/r/golang/"

// fakeLister serves pre-built listings. Cursors are offsets into the listing.
type fakeLister struct {
	mu      sync.Mutex
	posts   map[string][]listing.Summary
	errs    map[string][]error
	queries []listing.Query
	stuck   map[string]bool
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		posts: make(map[string][]listing.Summary),
		errs:  make(map[string][]error),
		stuck: make(map[string]bool),
	}
}

func (l *fakeLister) List(_ context.Context, q listing.Query) (listing.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.queries = append(l.queries, q)
	if errs := l.errs[q.Source]; len(errs) > 0 {
		l.errs[q.Source] = errs[1:]
		return listing.Page{}, errs[0]
	}

	posts := l.posts[q.Source]
	start := 0
	if q.Before != "" {
		start, _ = strconv.Atoi(q.Before)
	}
	if start >= len(posts) {
		return listing.Page{}, nil
	}
	end := min(start+q.Limit, len(posts))
	page := listing.Page{Items: posts[start:end]}
	switch {
	case l.stuck[q.Source]:
		page.Next = "0"
	case end < len(posts):
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (l *fakeLister) queriesFor(source string) []listing.Query {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []listing.Query
	for _, q := range l.queries {
		if q.Source == source {
			out = append(out, q)
		}
	}
	return out
}

func summary(id string) listing.Summary {
	return listing.Summary{
		ID:         model.ItemID(id),
		Permalink:  "https://www.reddit.com/r/golang/comments/" + id + "/title/",
		CreatedUTC: 1700000000,
	}
}

func summaries(prefix string, n int) []listing.Summary {
	out := make([]listing.Summary, 0, n)
	for i := range n {
		out = append(out, summary(fmt.Sprintf("%s%d", prefix, i)))
	}
	return out
}

func newTestCollector(l listing.Lister, rec *pacing.Recorder, opts ...Option) *Collector {
	base := []Option{
		WithSleeper(rec.Sleep),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewCollector(l, append(base, opts...)...)
}

func assertNoDuplicates(t *testing.T, f *model.Frontier) {
	t.Helper()

	seen := make(map[model.ItemID]bool)
	for _, ref := range f.Sequence {
		id, ok := ref.ID()
		if !ok {
			t.Fatalf("reference without id: %s", ref.Reference)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s in frontier", id)
		}
		seen[id] = true
	}
}

func TestCollector_SingleItem(t *testing.T) {
	t.Parallel()

	l := newFakeLister()
	c := newTestCollector(l, &pacing.Recorder{})

	f, err := c.Collect(context.Background(), "https://www.reddit.com/r/golang/comments/abc123/title/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Len() != 1 || !f.Complete || f.Group != "golang" {
		t.Fatalf("unexpected frontier %+v", f)
	}
	if f.Sequence[0].SourceTag != model.SourceSingleItem {
		t.Errorf("expected single_item tag, got %q", f.Sequence[0].SourceTag)
	}
	if len(l.queries) != 0 {
		t.Errorf("expected no listing requests, got %d", len(l.queries))
	}
}

func TestCollector_SingleItemKeepsCommunityFrontier(t *testing.T) {
	t.Parallel()

	store := NewStore(FilePath(t.TempDir(), "golang"))
	l := newFakeLister()
	l.posts["new"] = summaries("n", 100)

	c := newTestCollector(l, &pacing.Recorder{}, WithStore(store), WithTargetCount(40),
		WithRatios(map[string]float64{"new": 1}), WithPageSize(20))
	if _, err := c.Collect(context.Background(), testCommunity); err != nil {
		t.Fatalf("community collect: %v", err)
	}

	single, err := c.Collect(context.Background(), "https://www.reddit.com/r/golang/comments/zzz999/one_post/")
	if err != nil {
		t.Fatalf("single post collect: %v", err)
	}
	if single.Len() != 1 {
		t.Fatalf("expected a one-reference frontier, got %d", single.Len())
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatalf("failed to load saved frontier: %v", err)
	}
	if saved.Len() != 40 || !saved.Complete {
		t.Errorf("expected the saved community frontier of 40 references, got %d (complete=%v)", saved.Len(), saved.Complete)
	}
	if saved.Seen("zzz999") {
		t.Error("expected the single post to stay out of the community frontier")
	}
}

func TestCollector_InvalidTarget(t *testing.T) {
	t.Parallel()

	c := newTestCollector(newFakeLister(), &pacing.Recorder{})
	if _, err := c.Collect(context.Background(), "https://example.com/forum"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestCollector_SamplesSources(t *testing.T) {
	t.Parallel()

	l := newFakeLister()
	l.posts["new"] = summaries("n", 200)
	// the top listing starts with posts the new listing already produced
	l.posts["top_year"] = append(summaries("n", 30), summaries("t", 200)...)
	l.posts["best"] = summaries("b", 50)

	rec := &pacing.Recorder{}
	c := newTestCollector(l, rec, WithTargetCount(100))

	f, err := c.Collect(context.Background(), testCommunity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.Len() != 100 || !f.Complete {
		t.Fatalf("expected a complete frontier of 100, got %d (complete=%v)", f.Len(), f.Complete)
	}
	assertNoDuplicates(t, f)

	counts := f.CountBySource()
	if counts["new"] != 65 || counts["top_year"] != 25 || counts["best"] != 10 {
		t.Errorf("unexpected per-source counts %v", counts)
	}
	if got := l.queriesFor("best")[0].Limit; got != 11 {
		t.Errorf("expected first best page limit 11, got %d", got)
	}
	for _, ref := range f.Sequence {
		if ref.SortKey == nil || *ref.SortKey != 1700000000 {
			t.Fatalf("expected sort key on %s", ref.Reference)
		}
	}
}

func TestCollector_DeletedPostsAreSeenNotCollected(t *testing.T) {
	t.Parallel()

	posts := summaries("n", 10)
	posts[2].Deleted = true
	posts[5].Deleted = true

	l := newFakeLister()
	l.posts["new"] = posts
	c := newTestCollector(l, &pacing.Recorder{}, WithTargetCount(10), WithRatios(map[string]float64{"new": 1}))

	f, err := c.Collect(context.Background(), testCommunity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Len() != 8 {
		t.Errorf("expected 8 live posts, got %d", f.Len())
	}
	if !f.Seen("n2") || !f.Seen("n5") {
		t.Error("expected deleted posts in the seen set")
	}
	for _, ref := range f.Sequence {
		if id, _ := ref.ID(); id == "n2" || id == "n5" {
			t.Errorf("deleted post %s was collected", id)
		}
	}
}

func TestCollector_SkipsIncompleteSummaries(t *testing.T) {
	t.Parallel()

	posts := summaries("n", 4)
	posts[0].Permalink = ""
	posts[1].CreatedUTC = 0
	posts[2].ID = ""

	l := newFakeLister()
	l.posts["new"] = posts
	c := newTestCollector(l, &pacing.Recorder{}, WithTargetCount(4), WithRatios(map[string]float64{"new": 1}))

	f, err := c.Collect(context.Background(), testCommunity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Len() != 1 || f.Sequence[0].Reference != posts[3].Permalink {
		t.Errorf("expected only the complete summary, got %+v", f.Sequence)
	}
}

func TestCollector_StopConditions(t *testing.T) {
	t.Parallel()

	t.Run("stalls after pages without progress", func(t *testing.T) {
		t.Parallel()

		l := newFakeLister()
		l.posts["new"] = summaries("n", 10)
		dups := append(append(summaries("n", 10), summaries("n", 10)...), summaries("n", 10)...)
		l.posts["top_year"] = append(dups, summaries("t", 10)...)

		c := newTestCollector(l, &pacing.Recorder{},
			WithTargetCount(20), WithRatios(map[string]float64{"new": 0.5, "top_year": 0.5}), WithPageSize(3))

		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(l.queriesFor("top_year")); got != 3 {
			t.Errorf("expected 3 top_year pages before stalling, got %d", got)
		}
		if f.CountBySource()["top_year"] != 0 {
			t.Errorf("expected nothing from the stalled source, got %v", f.CountBySource())
		}
		if !f.Complete {
			t.Error("expected frontier to be complete once every source stopped")
		}
	})

	t.Run("pages of deleted posts count as stalled", func(t *testing.T) {
		t.Parallel()

		posts := summaries("d", 200)
		for i := range posts {
			posts[i].Deleted = true
		}
		l := newFakeLister()
		l.posts["new"] = posts
		c := newTestCollector(l, &pacing.Recorder{},
			WithTargetCount(10), WithRatios(map[string]float64{"new": 1}), WithPageSize(10), WithStallPages(3))

		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(l.queriesFor("new")); got != 3 {
			t.Errorf("expected 3 pages before stalling, got %d", got)
		}
		if f.Len() != 0 || !f.Seen("d0") {
			t.Errorf("expected no references and deleted posts marked seen, got %d", f.Len())
		}
	})

	t.Run("exhausted listing leaves a shortfall", func(t *testing.T) {
		t.Parallel()

		l := newFakeLister()
		l.posts["new"] = summaries("n", 7)
		c := newTestCollector(l, &pacing.Recorder{},
			WithTargetCount(20), WithRatios(map[string]float64{"new": 1}), WithPageSize(5))

		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Len() != 7 || !f.Complete {
			t.Errorf("expected 7 references and completion, got %d (complete=%v)", f.Len(), f.Complete)
		}
	})

	t.Run("unchanged cursor stops the source", func(t *testing.T) {
		t.Parallel()

		l := newFakeLister()
		l.posts["new"] = summaries("n", 50)
		l.stuck["new"] = true
		c := newTestCollector(l, &pacing.Recorder{},
			WithTargetCount(20), WithRatios(map[string]float64{"new": 1}), WithPageSize(5))

		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(l.queriesFor("new")); got != 2 {
			t.Errorf("expected the repeated cursor to stop after 2 requests, got %d", got)
		}
		if f.Len() != 5 {
			t.Errorf("expected the first page only, got %d", f.Len())
		}
	})
}

func TestCollector_Failures(t *testing.T) {
	t.Parallel()

	statusErr := fmt.Errorf("%w: 503", listing.ErrStatus)

	t.Run("abandons a source after repeated status failures", func(t *testing.T) {
		t.Parallel()

		l := newFakeLister()
		l.posts["new"] = summaries("n", 10)
		l.errs["new"] = []error{statusErr, statusErr, statusErr}
		l.posts["top_year"] = summaries("t", 10)

		rec := &pacing.Recorder{}
		c := newTestCollector(l, rec,
			WithTargetCount(10), WithRatios(map[string]float64{"new": 0.5, "top_year": 0.5}),
			WithBackoff(3*time.Second, 5*time.Second))

		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(l.queriesFor("new")); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
		counts := f.CountBySource()
		if counts["new"] != 0 || counts["top_year"] != 5 {
			t.Errorf("expected other sources to proceed, got %v", counts)
		}
		if len(rec.Calls) < 2 || rec.Calls[0] != 5*time.Second || rec.Calls[1] != 5*time.Second {
			t.Errorf("expected two status backoffs, got %v", rec.Calls)
		}
	})

	t.Run("recovers from transient failures", func(t *testing.T) {
		t.Parallel()

		l := newFakeLister()
		l.posts["new"] = summaries("n", 10)
		l.errs["new"] = []error{errors.New("connection reset"), errors.New("timeout")}

		rec := &pacing.Recorder{}
		c := newTestCollector(l, rec,
			WithTargetCount(10), WithRatios(map[string]float64{"new": 1}),
			WithBackoff(3*time.Second, 5*time.Second))

		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Len() != 10 {
			t.Errorf("expected 10 references, got %d", f.Len())
		}
		if len(rec.Calls) < 2 || rec.Calls[0] != 3*time.Second || rec.Calls[1] != 3*time.Second {
			t.Errorf("expected two error backoffs, got %v", rec.Calls)
		}
	})

	t.Run("abandons after repeated request failures", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		l := newFakeLister()
		l.posts["new"] = summaries("n", 10)
		l.errs["new"] = []error{boom, boom, boom, boom, boom}

		c := newTestCollector(l, &pacing.Recorder{}, WithTargetCount(10), WithRatios(map[string]float64{"new": 1}))
		f, err := c.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(l.queriesFor("new")); got != 5 {
			t.Errorf("expected 5 attempts, got %d", got)
		}
		if f.Len() != 0 {
			t.Errorf("expected empty frontier, got %d", f.Len())
		}
	})
}

func TestCollector_PageObserver(t *testing.T) {
	t.Parallel()

	l := newFakeLister()
	l.posts["new"] = summaries("n", 3)
	l.errs["new"] = []error{errors.New("reset")}

	var results []string
	c := newTestCollector(l, &pacing.Recorder{},
		WithTargetCount(10), WithRatios(map[string]float64{"new": 1}),
		WithPageObserver(func(source, result string) { results = append(results, source+":"+result) }))

	if _, err := c.Collect(context.Background(), testCommunity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"new:" + PageError, "new:" + PageOK}
	if len(results) != len(want) || results[0] != want[0] || results[1] != want[1] {
		t.Errorf("observed %v, want %v", results, want)
	}
}

func TestCollector_Resume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(FilePath(dir, "golang"))

	l := newFakeLister()
	l.posts["new"] = summaries("n", 300)
	ratios := map[string]float64{"new": 1}

	first := newTestCollector(l, &pacing.Recorder{}, WithStore(store), WithTargetCount(40), WithRatios(ratios), WithPageSize(20))
	f1, err := first.Collect(context.Background(), testCommunity)
	if err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if f1.Len() != 40 {
		t.Fatalf("expected 40 references, got %d", f1.Len())
	}

	t.Run("already complete frontier does no requests", func(t *testing.T) {
		before := len(l.queriesFor("new"))
		again := newTestCollector(l, &pacing.Recorder{}, WithStore(store), WithTargetCount(40), WithRatios(ratios))
		f, err := again.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Len() != 40 || !f.Complete {
			t.Errorf("expected the saved frontier, got %d", f.Len())
		}
		if after := len(l.queriesFor("new")); after != before {
			t.Errorf("expected no requests, got %d", after-before)
		}
	})

	t.Run("raising the target continues from the cursor", func(t *testing.T) {
		more := newTestCollector(l, &pacing.Recorder{}, WithStore(store), WithTargetCount(60), WithRatios(ratios), WithPageSize(20))
		before := len(l.queriesFor("new"))

		f, err := more.Collect(context.Background(), testCommunity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Len() != 60 {
			t.Fatalf("expected 60 references, got %d", f.Len())
		}
		assertNoDuplicates(t, f)
		for i := range f1.Sequence {
			if f.Sequence[i].Reference != f1.Sequence[i].Reference {
				t.Fatalf("position %d changed after resume", i)
			}
		}
		resumed := l.queriesFor("new")[before]
		if resumed.Before == "" {
			t.Error("expected the resumed request to carry the saved cursor")
		}
	})
}

func TestCollector_CancellationSavesPartialFrontier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "golang_urls.json"))

	l := newFakeLister()
	l.posts["new"] = summaries("n", 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// cancel during the first pause between pages
	sleeper := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	c := NewCollector(l,
		WithStore(store), WithTargetCount(100), WithRatios(map[string]float64{"new": 1}), WithPageSize(10),
		WithSleeper(sleeper), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	f, err := c.Collect(ctx, testCommunity)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f == nil || f.Len() != 10 || f.Complete {
		t.Fatalf("expected an incomplete frontier of 10, got %+v", f)
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatalf("failed to load checkpoint: %v", err)
	}
	if saved.Len() != 10 || saved.Complete {
		t.Errorf("expected the partial frontier on disk, got %d (complete=%v)", saved.Len(), saved.Complete)
	}
	if saved.Cursor("new") != "10" {
		t.Errorf("expected cursor 10, got %q", saved.Cursor("new"))
	}
}

func TestCollector_PeriodicCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(FilePath(dir, "golang"))

	l := newFakeLister()
	l.posts["new"] = summaries("n", 120)

	var savedSizes []int
	sleeper := func(ctx context.Context, _ time.Duration) error {
		if f, err := store.Load(); err == nil {
			savedSizes = append(savedSizes, f.Len())
		}
		return ctx.Err()
	}

	c := NewCollector(l,
		WithStore(store), WithTargetCount(120), WithRatios(map[string]float64{"new": 1}), WithPageSize(30),
		WithSleeper(sleeper), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if _, err := c.Collect(context.Background(), testCommunity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// pauses follow the pages ending at 30, 60 and 90; the first save happens at 50
	if len(savedSizes) != 2 || savedSizes[0] != 50 || savedSizes[1] != 50 {
		t.Errorf("unexpected checkpoint sizes %v", savedSizes)
	}
	final, err := store.Load()
	if err != nil {
		t.Fatalf("failed to load final state: %v", err)
	}
	if final.Len() != 120 || !final.Complete {
		t.Errorf("expected the complete frontier on disk, got %d", final.Len())
	}
}
