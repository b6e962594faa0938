package listing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
)

// fakePostService records which listing endpoint was called.
type fakePostService struct {
	called  string
	period  string
	after   string
	posts   []*reddit.Post
	nextCur string
	err     error
}

func (f *fakePostService) respond(name string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error) {
	f.called = name
	f.after = opts.After
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.posts, &reddit.Response{After: f.nextCur}, nil
}

func (f *fakePostService) NewPosts(_ context.Context, _ string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error) {
	return f.respond("new", opts)
}

func (f *fakePostService) HotPosts(_ context.Context, _ string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error) {
	return f.respond("hot", opts)
}

func (f *fakePostService) RisingPosts(_ context.Context, _ string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error) {
	return f.respond("rising", opts)
}

func (f *fakePostService) TopPosts(_ context.Context, _ string, opts *reddit.ListPostOptions) ([]*reddit.Post, *reddit.Response, error) {
	f.period = opts.Time
	return f.respond("top", &opts.ListOptions)
}

func (f *fakePostService) ControversialPosts(_ context.Context, _ string, opts *reddit.ListPostOptions) ([]*reddit.Post, *reddit.Response, error) {
	f.period = opts.Time
	return f.respond("controversial", &opts.ListOptions)
}

func TestRedditAPILister_List(t *testing.T) {
	t.Parallel()

	created := time.Unix(1700000000, 0)
	posts := []*reddit.Post{
		{ID: "abc123", Permalink: "/r/golang/comments/abc123/generics/", Author: "gopher", Created: &reddit.Timestamp{Time: created}},
		{ID: "def456", Permalink: "/r/golang/comments/def456/gone/", Author: "gopher", Body: "[removed]", Created: &reddit.Timestamp{Time: created}},
		nil,
	}

	t.Run("routes sources to endpoints", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			source     string
			wantCalled string
			wantPeriod string
		}{
			{SourceNew, "new", ""},
			{SourceHot, "hot", ""},
			{SourceRising, "rising", ""},
			{SourceTopYear, "top", "year"},
			{SourceTopAll, "top", "all"},
			{SourceControversal, "controversial", "all"},
		}
		for _, tt := range tests {
			fake := &fakePostService{posts: posts, nextCur: "t3_def456"}
			l := newRedditAPILister(fake, nil, nil)

			page, err := l.List(context.Background(), Query{Group: "golang", Source: tt.source, Before: "t3_prev", Limit: 100})
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.source, err)
			}
			if fake.called != tt.wantCalled || fake.period != tt.wantPeriod {
				t.Errorf("%s: called %s/%s, want %s/%s", tt.source, fake.called, fake.period, tt.wantCalled, tt.wantPeriod)
			}
			if fake.after != "t3_prev" {
				t.Errorf("%s: expected cursor to be passed as after, got %q", tt.source, fake.after)
			}
			if page.Next != "t3_def456" {
				t.Errorf("%s: unexpected next %q", tt.source, page.Next)
			}
		}
	})

	t.Run("maps posts to summaries", func(t *testing.T) {
		t.Parallel()

		l := newRedditAPILister(&fakePostService{posts: posts}, nil, nil)
		page, err := l.List(context.Background(), Query{Group: "golang", Source: SourceNew, Limit: 100})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Items) != 2 {
			t.Fatalf("expected nil posts to be skipped, got %d items", len(page.Items))
		}
		got := page.Items[0]
		if got.ID != "abc123" || got.CreatedUTC != 1700000000 || got.Permalink != "https://www.reddit.com/r/golang/comments/abc123/generics/" {
			t.Errorf("unexpected summary %+v", got)
		}
		if got.Deleted || !page.Items[1].Deleted {
			t.Errorf("unexpected deleted flags %+v", page.Items)
		}
	})

	t.Run("best is not available", func(t *testing.T) {
		t.Parallel()

		l := newRedditAPILister(&fakePostService{}, nil, nil)
		if _, err := l.List(context.Background(), Query{Group: "golang", Source: SourceBest}); !errors.Is(err, ErrUnknownSource) {
			t.Errorf("expected ErrUnknownSource, got %v", err)
		}
		if _, err := l.List(context.Background(), Query{Group: "golang", Source: "top_decade"}); !errors.Is(err, ErrUnknownSource) {
			t.Errorf("expected ErrUnknownSource for unknown period, got %v", err)
		}
	})

	t.Run("HTTP errors match ErrStatus", func(t *testing.T) {
		t.Parallel()

		req, err := http.NewRequest(http.MethodGet, "https://oauth.reddit.com/r/golang/new", nil)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		apiErr := &reddit.ErrorResponse{Response: &http.Response{StatusCode: http.StatusServiceUnavailable, Request: req}}

		l := newRedditAPILister(&fakePostService{err: apiErr}, nil, nil)
		_, err = l.List(context.Background(), Query{Group: "golang", Source: SourceNew})
		if !errors.Is(err, ErrStatus) {
			t.Errorf("expected ErrStatus, got %v", err)
		}
		if errors.Is(err, ErrRateLimited) {
			t.Errorf("did not expect a rate limit error for 503")
		}
	})

	t.Run("transport errors do not match ErrStatus", func(t *testing.T) {
		t.Parallel()

		l := newRedditAPILister(&fakePostService{err: errors.New("connection reset")}, nil, nil)
		_, err := l.List(context.Background(), Query{Group: "golang", Source: SourceNew})
		if err == nil || errors.Is(err, ErrStatus) {
			t.Errorf("expected a plain error, got %v", err)
		}
	})
}
