package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/threadkeep/internal/comment"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
	"golang.org/x/time/rate"
)

// RedditJSONFetcher reads the public <permalink>.json detail endpoint.
type RedditJSONFetcher struct {
	client *netclient.Client
	opts   options
}

// NewRedditJSONFetcher creates a RedditJSONFetcher.
// WithBaseURL replaces the scheme and host of every detail URL.
func NewRedditJSONFetcher(client *netclient.Client, opts ...Option) *RedditJSONFetcher {
	o := newOptions("", append([]Option{WithLimiter(rate.NewLimiter(rate.Every(time.Second), 1))}, opts...))
	return &RedditJSONFetcher{client: client, opts: o}
}

// Fetch implements Fetcher.
func (f *RedditJSONFetcher) Fetch(ctx context.Context, ref model.ItemReference, index int) (*model.ContentItem, error) {
	id, err := itemID(ref)
	if err != nil {
		return nil, err
	}
	detailURL, err := f.detailURL(ref.Reference)
	if err != nil {
		return nil, err
	}

	body, err := f.opts.getWithRetry(ctx, f.client, detailURL)
	if err != nil {
		return nil, err
	}

	post, rawComments, err := parseDetail(body)
	if err != nil {
		return nil, err
	}
	comments := comment.ParseNestedList(rawComments)

	item := buildItem(post, ref, index, id, comments, f.opts.now())
	f.opts.logger.Debug("fetched post", "post_id", id, "index", index, "comments", item.NumCommentsFiltered)
	return item, nil
}

func (f *RedditJSONFetcher) detailURL(reference string) (string, error) {
	detail := model.DetailURL(reference)
	if f.opts.baseURL == "" {
		return detail, nil
	}
	u, err := url.Parse(detail)
	if err != nil {
		return "", fmt.Errorf("failed to parse reference %q: %w", reference, err)
	}
	base, err := url.Parse(f.opts.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String(), nil
}
