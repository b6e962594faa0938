package fetcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/threadkeep/internal/comment"
	"github.com/nao1215/threadkeep/internal/model"
	"golang.org/x/net/html"
)

// rawPost is the upstream post record. The Reddit detail endpoint and
// the PullPush archive share these field names. Pointer fields distinguish
// "missing" from a zero value so the documented defaults can be applied.
type rawPost struct {
	ID                  string   `json:"id"`
	Subreddit           string   `json:"subreddit"`
	Title               *string  `json:"title"`
	Selftext            string   `json:"selftext"`
	Author              *string  `json:"author"`
	CreatedUTC          float64  `json:"created_utc"`
	Score               int      `json:"score"`
	UpvoteRatio         float64  `json:"upvote_ratio"`
	NumComments         int      `json:"num_comments"`
	NumCrossposts       int      `json:"num_crossposts"`
	TotalAwardsReceived int      `json:"total_awards_received"`
	Pinned              bool     `json:"pinned"`
	Distinguished       *string  `json:"distinguished"`
	LinkFlairText       *string  `json:"link_flair_text"`
	ContentCategories   []string `json:"content_categories"`
	Category            *string  `json:"category"`
	PWLS                *int     `json:"pwls"`
	WLS                 *int     `json:"wls"`
	UserReports         []any    `json:"user_reports"`
	ModReports          []any    `json:"mod_reports"`
	AuthorPatreonFlair  *bool    `json:"author_patreon_flair"`
}

// rawListing is a listing wrapper whose children carry T.
type rawListing[T any] struct {
	Data struct {
		Children []T `json:"children"`
	} `json:"data"`
}

type rawPostThing struct {
	Kind string  `json:"kind"`
	Data rawPost `json:"data"`
}

// parseDetail decodes the two-element detail response: the post listing
// followed by the nested comment listing.
func parseDetail(body []byte) (rawPost, []comment.RawNode, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return rawPost{}, nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(parts) < 2 {
		return rawPost{}, nil, fmt.Errorf("%w: expected 2 listings, got %d", ErrMalformedPayload, len(parts))
	}

	var posts rawListing[rawPostThing]
	if err := json.Unmarshal(parts[0], &posts); err != nil {
		return rawPost{}, nil, fmt.Errorf("%w: post listing: %w", ErrMalformedPayload, err)
	}
	if len(posts.Data.Children) == 0 {
		return rawPost{}, nil, fmt.Errorf("%w: post listing is empty", ErrMalformedPayload)
	}

	var comments rawListing[comment.RawNode]
	if err := json.Unmarshal(parts[1], &comments); err != nil {
		return rawPost{}, nil, fmt.Errorf("%w: comment listing: %w", ErrMalformedPayload, err)
	}
	return posts.Data.Children[0].Data, comments.Data.Children, nil
}

// buildItem maps a raw post and its comment forest onto a ContentItem,
// applying the defaults for missing fields.
func buildItem(p rawPost, ref model.ItemReference, index int, id model.ItemID, comments []*model.CommentNode, crawledAt time.Time) *model.ContentItem {
	if comments == nil {
		comments = []*model.CommentNode{}
	}

	title := stringOr(p.Title, model.NotAvailable)
	group := p.Subreddit
	if group == "" {
		group, _ = model.ExtractGroupID(ref.Reference)
	}
	sourceTag := ref.SourceTag
	if sourceTag == "" {
		sourceTag = model.SourceUnknown
	}

	item := &model.ContentItem{
		Index:               index,
		ItemID:              id,
		Reference:           ref.Reference,
		Group:               group,
		SourceTag:           sourceTag,
		Title:               html.UnescapeString(title),
		Body:                html.UnescapeString(p.Selftext),
		Author:              stringOr(p.Author, model.DeletedAuthor),
		CreatedTime:         model.FormatTimestamp(p.CreatedUTC),
		CreatedUTC:          p.CreatedUTC,
		Score:               p.Score,
		UpvoteRatio:         p.UpvoteRatio,
		NumComments:         p.NumComments,
		NumCommentsFiltered: comment.CountNodes(comments),
		NumCrossposts:       p.NumCrossposts,
		TotalAwards:         p.TotalAwardsReceived,
		Pinned:              p.Pinned,
		Distinguished:       stringOr(p.Distinguished, ""),
		FlairText:           html.UnescapeString(stringOr(p.LinkFlairText, "")),
		ContentCategories:   p.ContentCategories,
		Category:            stringOr(p.Category, ""),
		PWLS:                intOr(p.PWLS, -1),
		WLS:                 intOr(p.WLS, -1),
		UserReports:         p.UserReports,
		ModReports:          p.ModReports,
		AuthorPatreonFlair:  p.AuthorPatreonFlair != nil && *p.AuthorPatreonFlair,
		Comments:            comments,
		CrawledAt:           crawledAt.UTC(),
	}
	item.IsValid = model.IsValidTitle(item.Title)
	return item
}

func stringOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func intOr(n *int, def int) int {
	if n == nil {
		return def
	}
	return *n
}
