package listing

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/threadkeep/internal/model"
	"github.com/nao1215/threadkeep/internal/netclient"
	"golang.org/x/time/rate"
)

// DefaultOldRedditURL is the server-rendered Reddit front end.
const DefaultOldRedditURL = "https://old.reddit.com"

// OldRedditLister scrapes old.reddit.com listing pages.
// The cursor is the fullname passed as the after= parameter of the next page link.
type OldRedditLister struct {
	client *netclient.Client
	opts   options
}

// NewOldRedditLister creates an OldRedditLister.
func NewOldRedditLister(client *netclient.Client, opts ...Option) *OldRedditLister {
	return &OldRedditLister{
		client: client,
		opts:   newOptions(DefaultOldRedditURL, rate.NewLimiter(rate.Every(2*time.Second), 1), opts),
	}
}

// List implements Lister.
func (l *OldRedditLister) List(ctx context.Context, q Query) (Page, error) {
	pageURL, err := l.pageURL(q)
	if err != nil {
		return Page{}, err
	}
	if err := l.opts.wait(ctx); err != nil {
		return Page{}, err
	}

	body, err := l.client.Get(ctx, pageURL)
	if err != nil {
		return Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	page := parseOldRedditPage(doc)
	l.opts.logger.Debug("old reddit page listed", "group", q.Group, "source", q.Source, "items", len(page.Items), "next", page.Next)
	return page, nil
}

func (l *OldRedditLister) pageURL(q Query) (string, error) {
	suffix, err := SourcePath(q.Source)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(suffix)
	if err != nil {
		return "", fmt.Errorf("failed to parse source path: %w", err)
	}
	u, err := url.Parse(l.opts.baseURL + "/r/" + url.PathEscape(q.Group) + rel.Path)
	if err != nil {
		return "", fmt.Errorf("failed to build listing URL: %w", err)
	}

	params := rel.Query()
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		params.Set("after", q.Before)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// parseOldRedditPage extracts post summaries and the next cursor.
// Promoted posts are skipped.
func parseOldRedditPage(doc *goquery.Document) Page {
	var page Page

	doc.Find(`#siteTable div.thing[data-fullname^="t3_"]`).Each(func(_ int, s *goquery.Selection) {
		if promoted, _ := s.Attr("data-promoted"); promoted == "true" {
			return
		}

		fullname, _ := s.Attr("data-fullname")
		permalink, _ := s.Attr("data-permalink")
		author, _ := s.Attr("data-author")

		var created float64
		if ts, ok := s.Attr("data-timestamp"); ok {
			if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
				created = float64(ms) / 1000
			}
		}

		deleted := IsDeleted(author, "", "")
		if !deleted && s.HasClass("deleted") {
			deleted = true
		}
		if !deleted {
			text := strings.TrimSpace(s.Find("div.expando div.md").First().Text())
			deleted = IsDeleted("", text, "")
		}

		page.Items = append(page.Items, Summary{
			ID:         model.ItemID(strings.TrimPrefix(fullname, "t3_")),
			Permalink:  absoluteURL(permalink),
			CreatedUTC: created,
			Deleted:    deleted,
		})
	})

	if href, ok := doc.Find("span.next-button a").First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			page.Next = u.Query().Get("after")
		}
	}
	return page
}
