package importer

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// FetchRequest selects what to download: one record, changes since a time, or everything.
type FetchRequest struct {
	Feed  Feed
	ID    string
	Since time.Time
}

// Fetcher downloads the raw payload of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]byte, error)
}

// Getter performs one GET.
type Getter interface {
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// HTTPFetcher resolves feed urls and downloads them through a Getter.
type HTTPFetcher struct {
	client Getter
}

func NewHTTPFetcher(client Getter) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) ([]byte, error) {
	target, err := FeedURL(req)
	if err != nil {
		return nil, err
	}
	return f.client.Get(ctx, target, req.Feed.Headers)
}

// FeedURL builds the upstream url of a request.
func FeedURL(req FetchRequest) (string, error) {
	feed := req.Feed
	if req.ID != "" {
		escaped := url.PathEscape(req.ID)
		if feed.ItemURL != "" {
			return strings.ReplaceAll(feed.ItemURL, "{id}", escaped), nil
		}
		return strings.TrimRight(feed.URL, "/") + "/" + escaped, nil
	}
	if req.Since.IsZero() || feed.SinceParam == "" {
		return feed.URL, nil
	}
	u, err := url.Parse(feed.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(feed.SinceParam, req.Since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
