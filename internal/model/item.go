package model

import (
	"strings"
	"time"
)

// Source tags recorded on every ItemReference.
const (
	// SourceSingleItem tags a reference supplied directly as a post URL.
	SourceSingleItem = "single_item"
	// SourceUnknown tags references loaded from frontier files that predate source tagging.
	SourceUnknown = "unknown"
)

// Placeholders upstream puts in author and body fields of deleted content.
const (
	DeletedAuthor = "[deleted]"
	RemovedMarker = "[removed]"
)

// ItemReference is a discovered post that has not been fetched yet.
// SourceTag records which listing produced it and takes no part in identity.
type ItemReference struct {
	// Reference is the permalink of the post.
	Reference string `json:"url"`

	// SourceTag names the listing (e.g. "new", "top_year") that produced it.
	SourceTag string `json:"source"`

	// SortKey is the upstream creation time in epoch seconds, when known.
	SortKey *float64 `json:"created_utc,omitempty"`
}

// ID derives the ItemID of the reference.
func (r ItemReference) ID() (ItemID, bool) {
	return ExtractItemID(r.Reference)
}

// ContentItem is the fetched detail record of one post.
// It is created once per successful fetch. Only Analysis is attached later.
type ContentItem struct {
	Index     int    `json:"index"`
	ItemID    ItemID `json:"post_id"`
	Reference string `json:"url"`
	Group     string `json:"subreddit"`
	SourceTag string `json:"collect_source"`

	Title  string `json:"title"`
	Body   string `json:"body"`
	Author string `json:"author"`

	CreatedTime string  `json:"created_time"`
	CreatedUTC  float64 `json:"created_utc,omitempty"`

	Score               int     `json:"score"`
	UpvoteRatio         float64 `json:"upvote_ratio"`
	NumComments         int     `json:"num_comments"`
	NumCommentsFiltered int     `json:"num_comments_filtered"`
	NumCrossposts       int     `json:"num_crossposts"`
	TotalAwards         int     `json:"total_awards_received"`

	Pinned             bool     `json:"pinned"`
	Distinguished      string   `json:"distinguished,omitempty"`
	FlairText          string   `json:"flair_text"`
	ContentCategories  []string `json:"content_categories"`
	Category           string   `json:"category"`
	PWLS               int      `json:"pwls"`
	WLS                int      `json:"wls"`
	UserReports        []any    `json:"user_reports"`
	ModReports         []any    `json:"mod_reports"`
	AuthorPatreonFlair bool     `json:"author_patreon_flair"`

	Comments []*CommentNode `json:"comments"`

	CrawledAt time.Time `json:"crawled_at"`
	IsValid   bool      `json:"is_valid"`

	// Analysis holds the language-model result attached after archiving.
	Analysis string `json:"llm_analyze_result,omitempty"`
}

// invalidTitleMarkers mark titles of posts that were deleted or removed
// after being listed.
var invalidTitleMarkers = []string{"deleted by", "removed by"}

// IsValidTitle reports whether a post title describes live content.
// Empty titles and titles carrying a deletion or removal notice are invalid.
func IsValidTitle(title string) bool {
	if strings.TrimSpace(title) == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, marker := range invalidTitleMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// CommentNode is one comment in a post's comment forest.
// ReplyCount always equals len(Replies); use SetReplies to keep them in sync.
type CommentNode struct {
	Author      string         `json:"author"`
	Text        string         `json:"text"`
	Score       int            `json:"score"`
	CreatedTime string         `json:"created_time"`
	Replies     []*CommentNode `json:"replies"`
	ReplyCount  int            `json:"reply_count"`
}

// SetReplies replaces the replies of the node and updates ReplyCount.
func (n *CommentNode) SetReplies(replies []*CommentNode) {
	if replies == nil {
		replies = []*CommentNode{}
	}
	n.Replies = replies
	n.ReplyCount = len(replies)
}

// AddReply appends a reply and updates ReplyCount.
func (n *CommentNode) AddReply(reply *CommentNode) {
	n.Replies = append(n.Replies, reply)
	n.ReplyCount = len(n.Replies)
}
