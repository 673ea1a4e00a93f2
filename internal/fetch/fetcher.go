// Package fetch retrieves feed documents over HTTP and fans the work
// out to a bounded worker pool. Every outcome, success or failure,
// lands in a single results channel consumed by the gateway event
// loop; the channel is the only thing shared between the pool's
// workers and the rest of the process.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbot/internal/feed"
)

// userAgent mimics a plain curl fetch. Some feed hosts serve bot user
// agents a challenge page instead of the document.
const userAgent = "curl/7.21.0"

// Fetcher retrieves and parses one feed document per call.
type Fetcher struct {
	parser *gofeed.Parser
}

// NewFetcher returns a fetcher whose requests are bounded by timeout.
// Non-2xx responses and parse failures are errors; there is no retry,
// the next poll cycle is the retry.
func NewFetcher(timeout time.Duration) *Fetcher {
	p := gofeed.NewParser()
	p.UserAgent = userAgent
	p.Client = &http.Client{Timeout: timeout}
	return &Fetcher{parser: p}
}

// Fetch returns the entries of the feed at url in document order.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]feed.Item, error) {
	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}
	items := make([]feed.Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		items = append(items, feed.Item{Title: it.Title, Link: it.Link, Summary: it.Description})
	}
	return items, nil
}
