package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
	"golang.org/x/time/rate"
)

// DefaultPullPushURL is the PullPush archive API.
const DefaultPullPushURL = "https://api.pullpush.io"

// PullPushLister lists submissions from the PullPush archive.
// The archive only offers creation-time order, so only SourceNew is supported;
// the cursor is the created_utc of the oldest post on the previous page.
type PullPushLister struct {
	client *netclient.Client
	opts   options
}

// NewPullPushLister creates a PullPushLister.
func NewPullPushLister(client *netclient.Client, opts ...Option) *PullPushLister {
	return &PullPushLister{
		client: client,
		opts:   newOptions(DefaultPullPushURL, rate.NewLimiter(rate.Every(time.Second), 1), opts),
	}
}

type pullPushResponse struct {
	Data []pullPushSubmission `json:"data"`
}

type pullPushSubmission struct {
	ID                string  `json:"id"`
	Permalink         string  `json:"permalink"`
	CreatedUTC        float64 `json:"created_utc"`
	Author            string  `json:"author"`
	Selftext          string  `json:"selftext"`
	RemovedByCategory *string `json:"removed_by_category"`
}

// List implements Lister.
func (l *PullPushLister) List(ctx context.Context, q Query) (Page, error) {
	if q.Source != SourceNew {
		return Page{}, fmt.Errorf("%w: pullpush only supports %q, got %q", ErrUnknownSource, SourceNew, q.Source)
	}
	if err := l.opts.wait(ctx); err != nil {
		return Page{}, err
	}

	params := url.Values{}
	params.Set("subreddit", q.Group)
	params.Set("size", strconv.Itoa(q.Limit))
	params.Set("sort", "desc")
	params.Set("sort_type", "created_utc")
	if q.Before != "" {
		params.Set("before", q.Before)
	}
	endpoint := l.opts.baseURL + "/reddit/search/submission/?" + params.Encode()

	body, err := l.client.Get(ctx, endpoint)
	if err != nil {
		return Page{}, err
	}

	var resp pullPushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	page := Page{Items: make([]Summary, 0, len(resp.Data))}
	for _, s := range resp.Data {
		removedBy := ""
		if s.RemovedByCategory != nil {
			removedBy = *s.RemovedByCategory
		}
		page.Items = append(page.Items, Summary{
			ID:         model.ItemID(s.ID),
			Permalink:  absoluteURL(s.Permalink),
			CreatedUTC: s.CreatedUTC,
			Deleted:    IsDeleted(s.Author, s.Selftext, removedBy),
		})
	}
	if n := len(resp.Data); n > 0 && resp.Data[n-1].CreatedUTC > 0 {
		page.Next = strconv.FormatInt(int64(resp.Data[n-1].CreatedUTC), 10)
	}

	l.opts.logger.Debug("pullpush page listed", "group", q.Group, "items", len(page.Items), "next", page.Next)
	return page, nil
}
