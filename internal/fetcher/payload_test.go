package fetcher

import (
	"errors"
	"testing"
	"time"

	"github.com/nao1215/threadkeep/internal/comment"
	"github.com/nao1215/threadkeep/internal/model"
)

const detailFixture = `[
  {"kind":"Listing","data":{"children":[{"kind":"t3","data":{
    "id":"abc123","subreddit":"golang","title":"Generics &amp; you",
    "selftext":"body &lt;b&gt;","author":"gopher","created_utc":1700000000,
    "score":42,"upvote_ratio":0.97,"num_comments":3,"link_flair_text":"Help &amp; Support",
    "pwls":6,"wls":6,"author_patreon_flair":false
  }}]}},
  {"kind":"Listing","data":{"children":[
    {"kind":"t1","data":{"id":"c1","author":"alice","body":"great post","score":5,"created_utc":1700000100,
      "replies":{"kind":"Listing","data":{"children":[
        {"kind":"t1","data":{"id":"c2","author":"bob","body":"agreed","score":2,"created_utc":1700000200,"replies":""}},
        {"kind":"t1","data":{"id":"c3","author":"AutoModerator","body":"rules","score":1,"created_utc":1700000300,"replies":""}}
      ]}}}},
    {"kind":"more","data":{"id":"m1"}}
  ]}}
]`

func TestParseDetail(t *testing.T) {
	t.Parallel()

	t.Run("valid payload", func(t *testing.T) {
		t.Parallel()

		post, raw, err := parseDetail([]byte(detailFixture))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if post.ID != "abc123" || post.Score != 42 {
			t.Errorf("unexpected post %+v", post)
		}
		if len(raw) != 2 {
			t.Errorf("expected 2 raw comment nodes, got %d", len(raw))
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>blocked</html>"},
		{name: "object instead of array", body: `{"kind":"Listing"}`},
		{name: "single listing", body: `[{"kind":"Listing","data":{"children":[]}}]`},
		{name: "empty post listing", body: `[{"data":{"children":[]}},{"data":{"children":[]}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, _, err := parseDetail([]byte(tt.body)); !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestBuildItem(t *testing.T) {
	t.Parallel()

	crawledAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ref := model.ItemReference{Reference: "https://www.reddit.com/r/golang/comments/abc123/generics/", SourceTag: "top_year"}

	t.Run("maps fields and unescapes text", func(t *testing.T) {
		t.Parallel()

		post, raw, err := parseDetail([]byte(detailFixture))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		item := buildItem(post, ref, 7, "abc123", comment.ParseNestedList(raw), crawledAt)

		if item.Index != 7 || item.ItemID != "abc123" || item.Reference != ref.Reference {
			t.Errorf("unexpected identity fields %+v", item)
		}
		if item.Title != "Generics & you" {
			t.Errorf("expected unescaped title, got %q", item.Title)
		}
		if item.Body != "body <b>" {
			t.Errorf("expected unescaped body, got %q", item.Body)
		}
		if item.FlairText != "Help & Support" {
			t.Errorf("expected unescaped flair, got %q", item.FlairText)
		}
		if item.SourceTag != "top_year" || item.Group != "golang" {
			t.Errorf("unexpected source or group: %q %q", item.SourceTag, item.Group)
		}
		if item.PWLS != 6 || item.WLS != 6 {
			t.Errorf("expected pwls/wls 6, got %d/%d", item.PWLS, item.WLS)
		}
		// c3 is filtered and the "more" node is skipped
		if item.NumCommentsFiltered != 2 {
			t.Errorf("expected 2 kept comments, got %d", item.NumCommentsFiltered)
		}
		if len(item.Comments) != 1 || item.Comments[0].ReplyCount != 1 {
			t.Errorf("unexpected comment tree %+v", item.Comments)
		}
		if !item.IsValid {
			t.Error("expected item to be valid")
		}
		if !item.CrawledAt.Equal(crawledAt) {
			t.Errorf("expected crawled_at %v, got %v", crawledAt, item.CrawledAt)
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		t.Parallel()

		item := buildItem(rawPost{}, model.ItemReference{Reference: "https://www.reddit.com/r/rust/comments/x1/t/"}, 0, "x1", nil, crawledAt)

		if item.Title != model.NotAvailable {
			t.Errorf("expected title %q, got %q", model.NotAvailable, item.Title)
		}
		if item.Author != model.DeletedAuthor {
			t.Errorf("expected author %q, got %q", model.DeletedAuthor, item.Author)
		}
		if item.PWLS != -1 || item.WLS != -1 {
			t.Errorf("expected pwls/wls -1, got %d/%d", item.PWLS, item.WLS)
		}
		if item.Group != "rust" {
			t.Errorf("expected group from reference, got %q", item.Group)
		}
		if item.SourceTag != model.SourceUnknown {
			t.Errorf("expected unknown source, got %q", item.SourceTag)
		}
		if item.CreatedTime != model.NotAvailable {
			t.Errorf("expected N/A created time, got %q", item.CreatedTime)
		}
		if item.Comments == nil || len(item.Comments) != 0 {
			t.Errorf("expected empty non-nil comments, got %v", item.Comments)
		}
	})

	t.Run("removed title is invalid", func(t *testing.T) {
		t.Parallel()

		title := "[ Removed by moderator ]"
		item := buildItem(rawPost{Title: &title}, ref, 0, "abc123", nil, crawledAt)
		if item.IsValid {
			t.Error("expected removed post to be invalid")
		}
	})
}
