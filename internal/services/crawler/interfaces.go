package crawler

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedParser abstracts gofeed.Parser so tests can substitute canned feeds
type FeedParser interface {
	ParseURLWithContext(feedURL string, ctx context.Context) (*gofeed.Feed, error)
}

// Service defines the interface for the crawl stage
type Service interface {
	// CrawlForDigest refreshes every active subscription of the user and
	// returns the episode IDs feeding the rest of the pipeline. When the
	// feeds yield nothing new it falls back to the catalog of episodes
	// published since weekStart.
	CrawlForDigest(ctx context.Context, userID string, weekStart time.Time) ([]uint, error)
}
