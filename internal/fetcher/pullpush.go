package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/threadkeep/internal/comment"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
	"golang.org/x/time/rate"
)

// DefaultPullPushURL is the PullPush archive API.
const DefaultPullPushURL = "https://api.pullpush.io"

// commentPageSize is the largest comment page the archive returns.
const commentPageSize = 500

// PullPushFetcher reads a submission and its comments from the PullPush archive.
// Comments come back flat and highest-score first; the forest is rebuilt
// with comment.BuildTreeFromFlat.
type PullPushFetcher struct {
	client *netclient.Client
	opts   options
}

// NewPullPushFetcher creates a PullPushFetcher.
func NewPullPushFetcher(client *netclient.Client, opts ...Option) *PullPushFetcher {
	o := newOptions(DefaultPullPushURL, append([]Option{WithLimiter(rate.NewLimiter(rate.Every(time.Second), 1))}, opts...))
	return &PullPushFetcher{client: client, opts: o}
}

type pullPushSubmissions struct {
	Data []rawPost `json:"data"`
}

type pullPushComments struct {
	Data []comment.FlatComment `json:"data"`
}

// Fetch implements Fetcher.
func (f *PullPushFetcher) Fetch(ctx context.Context, ref model.ItemReference, index int) (*model.ContentItem, error) {
	id, err := itemID(ref)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("ids", id.String())
	body, err := f.opts.getWithRetry(ctx, f.client, f.opts.baseURL+"/reddit/search/submission/?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var subs pullPushSubmissions
	if err := json.Unmarshal(body, &subs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(subs.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemMissing, id)
	}

	comments, err := f.fetchComments(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// the post is still worth keeping without its comments
		f.opts.logger.Warn("failed to fetch comments", "post_id", id, "error", err)
		comments = nil
	}

	item := buildItem(subs.Data[0], ref, index, id, comments, f.opts.now())
	f.opts.logger.Debug("fetched post from archive", "post_id", id, "index", index, "comments", item.NumCommentsFiltered)
	return item, nil
}

func (f *PullPushFetcher) fetchComments(ctx context.Context, id model.ItemID) ([]*model.CommentNode, error) {
	params := url.Values{}
	params.Set("link_id", id.String())
	params.Set("size", fmt.Sprint(commentPageSize))
	params.Set("sort", "desc")
	params.Set("sort_type", "score")

	body, err := f.opts.getWithRetry(ctx, f.client, f.opts.baseURL+"/reddit/search/comment/?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp pullPushComments
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return comment.BuildTreeFromFlat(resp.Data, id.String()), nil
}
