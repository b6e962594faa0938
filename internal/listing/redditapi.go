package listing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
	"golang.org/x/time/rate"
)

// postService is the part of reddit.SubredditService the lister calls.
type postService interface {
	NewPosts(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error)
	HotPosts(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error)
	RisingPosts(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error)
	TopPosts(ctx context.Context, subreddit string, opts *reddit.ListPostOptions) ([]*reddit.Post, *reddit.Response, error)
	ControversialPosts(ctx context.Context, subreddit string, opts *reddit.ListPostOptions) ([]*reddit.Post, *reddit.Response, error)
}

// RedditAPILister lists posts through the Reddit API.
// SourceBest has no API equivalent for a single community and is rejected.
type RedditAPILister struct {
	posts postService
	opts  options
}

// NewRedditAPILister creates a lister backed by go-reddit. With empty
// credentials it uses the read-only client. httpClient may be nil.
func NewRedditAPILister(creds config.RedditCredentials, userAgent string, httpClient *http.Client, opts ...Option) (*RedditAPILister, error) {
	clientOpts := []reddit.Opt{reddit.WithUserAgent(userAgent)}
	if httpClient != nil {
		clientOpts = append(clientOpts, reddit.WithHTTPClient(httpClient))
	}

	var (
		client *reddit.Client
		err    error
	)
	if creds.ClientID == "" {
		client, err = reddit.NewReadonlyClient(clientOpts...)
	} else {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       creds.ClientID,
			Secret:   creds.ClientSecret,
			Username: creds.Username,
			Password: creds.Password,
		}, clientOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reddit client: %w", err)
	}

	// 100 requests per 10 minutes on the OAuth API
	return newRedditAPILister(client.Subreddit, rate.NewLimiter(rate.Every(600*time.Millisecond), 1), opts), nil
}

func newRedditAPILister(posts postService, limiter *rate.Limiter, opts []Option) *RedditAPILister {
	return &RedditAPILister{posts: posts, opts: newOptions("", limiter, opts)}
}

// List implements Lister.
func (l *RedditAPILister) List(ctx context.Context, q Query) (Page, error) {
	if err := l.opts.wait(ctx); err != nil {
		return Page{}, err
	}

	listOpts := reddit.ListOptions{Limit: q.Limit, After: q.Before}

	var (
		posts []*reddit.Post
		resp  *reddit.Response
		err   error
	)
	switch q.Source {
	case SourceNew:
		posts, resp, err = l.posts.NewPosts(ctx, q.Group, &listOpts)
	case SourceHot:
		posts, resp, err = l.posts.HotPosts(ctx, q.Group, &listOpts)
	case SourceRising:
		posts, resp, err = l.posts.RisingPosts(ctx, q.Group, &listOpts)
	case SourceControversal:
		posts, resp, err = l.posts.ControversialPosts(ctx, q.Group, &reddit.ListPostOptions{ListOptions: listOpts, Time: "all"})
	default:
		period, ok := strings.CutPrefix(q.Source, "top_")
		if !ok {
			return Page{}, fmt.Errorf("%w: reddit API does not support %q", ErrUnknownSource, q.Source)
		}
		if _, known := sourcePaths[q.Source]; !known {
			return Page{}, fmt.Errorf("%w: %q", ErrUnknownSource, q.Source)
		}
		posts, resp, err = l.posts.TopPosts(ctx, q.Group, &reddit.ListPostOptions{ListOptions: listOpts, Time: period})
	}
	if err != nil {
		return Page{}, translateRedditError(err)
	}

	page := Page{Items: make([]Summary, 0, len(posts))}
	for _, p := range posts {
		if p == nil {
			continue
		}
		var created float64
		if p.Created != nil {
			created = float64(p.Created.Unix())
		}
		page.Items = append(page.Items, Summary{
			ID:         model.ItemID(p.ID),
			Permalink:  absoluteURL(p.Permalink),
			CreatedUTC: created,
			Deleted:    IsDeleted(p.Author, p.Body, ""),
		})
	}
	if resp != nil {
		page.Next = resp.After
	}

	l.opts.logger.Debug("reddit API page listed", "group", q.Group, "source", q.Source, "items", len(page.Items))
	return page, nil
}

// translateRedditError maps go-reddit's HTTP errors onto netclient.StatusError
// so they match ErrStatus and ErrRateLimited.
func translateRedditError(err error) error {
	var rle *reddit.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("reddit API: %w", &netclient.StatusError{Code: http.StatusTooManyRequests, URL: requestURL(rle.Response)})
	}
	var er *reddit.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return fmt.Errorf("reddit API: %w", &netclient.StatusError{Code: er.Response.StatusCode, URL: requestURL(er.Response)})
	}
	return fmt.Errorf("failed to list posts: %w", err)
}

func requestURL(resp *http.Response) string {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.String()
}
