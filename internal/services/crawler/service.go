package crawler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/services/podcasts"
	"github.com/poddigest/poddigest/pkg/timeutil"
)

// Config holds the tunables of the crawl stage
type Config struct {
	// FallbackDays is the discovery window for feeds that were never
	// crawled before
	FallbackDays int
	// FallbackEpisodeLimit caps the catalog fallback when the feeds yield
	// nothing new
	FallbackEpisodeLimit int
}

// service implements the Service interface
type service struct {
	podcasts podcasts.Service
	episodes episodes.Service
	parser   FeedParser
	cfg      Config
}

var _ Service = (*service)(nil)

// NewService creates a new crawl stage service. A nil parser gets the
// default gofeed parser.
func NewService(podcastService podcasts.Service, episodeService episodes.Service, parser FeedParser, cfg Config) Service {
	if cfg.FallbackDays <= 0 {
		cfg.FallbackDays = 7
	}
	if cfg.FallbackEpisodeLimit <= 0 {
		cfg.FallbackEpisodeLimit = 50
	}
	if parser == nil {
		parser = gofeed.NewParser()
	}
	return &service{
		podcasts: podcastService,
		episodes: episodeService,
		parser:   parser,
		cfg:      cfg,
	}
}

// CrawlForDigest refreshes every active subscription of the user and returns
// the episode IDs for the digest window
func (s *service) CrawlForDigest(ctx context.Context, userID string, weekStart time.Time) ([]uint, error) {
	subscriptions, err := s.podcasts.ListActiveSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions for user %s: %w", userID, err)
	}

	// Feeds are crawled one at a time per user for feed politeness
	now := time.Now().UTC()
	var episodeIDs []uint
	podcastIDs := make([]uint, 0, len(subscriptions))
	crawled := 0
	for i := range subscriptions {
		subscription := &subscriptions[i]
		podcastIDs = append(podcastIDs, subscription.PodcastID)

		ids, err := s.crawlFeed(ctx, &subscription.Podcast, now)
		if err != nil {
			log.Printf("[WARN] Skipping feed %s for user %s: %v", subscription.Podcast.FeedURL, userID, err)
			continue
		}
		crawled++
		episodeIDs = append(episodeIDs, ids...)
	}

	// The catalog fallback covers feeds that parsed cleanly but yielded
	// nothing new; an all-feeds outage surfaces as no-episodes instead
	if len(episodeIDs) == 0 && crawled > 0 {
		log.Printf("[INFO] No new episodes in %d feeds for user %s, falling back to the week's catalog", len(subscriptions), userID)
		recent, err := s.episodes.ListRecentSince(ctx, podcastIDs, weekStart, s.cfg.FallbackEpisodeLimit)
		if err != nil {
			return nil, fmt.Errorf("listing recent episodes for user %s: %w", userID, err)
		}
		for i := range recent {
			episodeIDs = append(episodeIDs, recent[i].ID)
		}
	}

	if len(episodeIDs) == 0 {
		return nil, models.NewStageError("no-episodes",
			"no episodes found for the digest window",
			fmt.Sprintf("user %s, %d active subscriptions, %d feeds crawled", userID, len(subscriptions), crawled),
			nil)
	}

	log.Printf("[INFO] Crawl for user %s found %d episodes across %d feeds", userID, len(episodeIDs), crawled)
	return episodeIDs, nil
}

// crawlFeed parses one feed, refreshes podcast metadata and upserts the
// items inside the discovery window
func (s *service) crawlFeed(ctx context.Context, podcast *models.Podcast, now time.Time) ([]uint, error) {
	feed, err := s.parser.ParseURLWithContext(podcast.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	applyFeedMetadata(podcast, feed)
	if err := s.podcasts.UpdateFeedMetadata(ctx, podcast); err != nil {
		return nil, fmt.Errorf("updating podcast metadata: %w", err)
	}

	cutoff := now.AddDate(0, 0, -s.cfg.FallbackDays)
	if podcast.LastCrawledAt != nil {
		cutoff = *podcast.LastCrawledAt
	}

	var ids []uint
	for _, item := range feed.Items {
		episode, ok := episodeFromItem(podcast.ID, item, cutoff)
		if !ok {
			continue
		}

		created, err := s.episodes.UpsertEpisode(ctx, episode)
		if err != nil {
			log.Printf("[WARN] Skipping item %q in feed %s: %v", item.Title, podcast.FeedURL, err)
			continue
		}
		if created {
			log.Printf("[DEBUG] Discovered episode %q in %s", episode.Title, podcast.Title)
		}
		ids = append(ids, episode.ID)
	}

	// The watermark moves only after the whole feed processed cleanly
	if err := s.podcasts.MarkCrawled(ctx, podcast.ID, now); err != nil {
		return nil, fmt.Errorf("marking podcast crawled: %w", err)
	}
	return ids, nil
}

// episodeFromItem maps one feed item to an episode row. Items without a
// stable guid, a parseable publish date or an audio enclosure are dropped,
// as are items at or before the cutoff watermark.
func episodeFromItem(podcastID uint, item *gofeed.Item, cutoff time.Time) (*models.Episode, bool) {
	if item.GUID == "" || item.PublishedParsed == nil {
		return nil, false
	}
	if !item.PublishedParsed.After(cutoff) {
		return nil, false
	}

	audioURL, audioType := audioEnclosure(item)
	if audioURL == "" {
		return nil, false
	}

	duration := 0
	if item.ITunesExt != nil {
		duration = timeutil.ParseDurationSeconds(item.ITunesExt.Duration)
	}

	return &models.Episode{
		PodcastID:     podcastID,
		GUID:          item.GUID,
		Title:         item.Title,
		Description:   item.Description,
		AudioURL:      audioURL,
		EnclosureType: audioType,
		Duration:      duration,
		PublishedAt:   item.PublishedParsed.UTC(),
	}, true
}

// audioEnclosure returns the first audio enclosure of the item
func audioEnclosure(item *gofeed.Item) (url, contentType string) {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil {
			continue
		}
		if strings.HasPrefix(enclosure.Type, "audio/") && enclosure.URL != "" {
			return enclosure.URL, enclosure.Type
		}
	}
	return "", ""
}

// applyFeedMetadata refreshes the podcast row from the parsed feed, keeping
// existing values where the feed is silent
func applyFeedMetadata(podcast *models.Podcast, feed *gofeed.Feed) {
	if feed.Title != "" {
		podcast.Title = feed.Title
	}
	if feed.Description != "" {
		podcast.Description = feed.Description
	}
	if feed.Language != "" {
		podcast.Language = feed.Language
	}
	if author := feedAuthor(feed); author != "" {
		podcast.Author = author
	}
	if feed.Image != nil && feed.Image.URL != "" {
		podcast.ArtworkURL = feed.Image.URL
	} else if feed.ITunesExt != nil && feed.ITunesExt.Image != "" {
		podcast.ArtworkURL = feed.ITunesExt.Image
	}
}

func feedAuthor(feed *gofeed.Feed) string {
	if feed.ITunesExt != nil && feed.ITunesExt.Author != "" {
		return feed.ITunesExt.Author
	}
	if feed.Author != nil {
		return feed.Author.Name
	}
	return ""
}
