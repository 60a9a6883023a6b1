package podcasts

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

type service struct {
	repo Repository
}

// NewService creates a podcast catalog service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// Subscribe attaches a user to a feed. The podcast row is created on first
// sight with the feed URL as a placeholder title; the first crawl fills in
// the real metadata.
func (s *service) Subscribe(ctx context.Context, userID, feedURL, priority string) (*models.Subscription, error) {
	feedURL = strings.TrimSpace(feedURL)
	if err := validateFeedURL(feedURL); err != nil {
		return nil, err
	}

	if priority == "" {
		priority = models.PriorityPreferred
	}
	if !validPriority(priority) {
		return nil, ErrInvalidPriority
	}

	podcast, err := s.repo.GetPodcastByFeedURL(ctx, feedURL)
	if errors.Is(err, ErrPodcastNotFound) {
		podcast = &models.Podcast{
			Title:   feedURL, // placeholder until the first crawl
			FeedURL: feedURL,
		}
		if err := s.repo.CreatePodcast(ctx, podcast); err != nil {
			return nil, err
		}
		log.Printf("[INFO] Created podcast %d for feed %s", podcast.ID, feedURL)
	} else if err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscription(ctx, userID, podcast.ID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		sub = &models.Subscription{
			UserID:    userID,
			PodcastID: podcast.ID,
			Priority:  priority,
			Active:    true,
		}
		if err := s.repo.CreateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		sub.Podcast = *podcast
		return sub, nil
	} else if err != nil {
		return nil, err
	}

	// Re-subscribing updates the priority and revives a deactivated edge
	sub.Priority = priority
	sub.Active = true
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] Updated subscription for user %s to podcast %d (priority %s)", userID, podcast.ID, priority)

	sub.Podcast = *podcast
	return sub, nil
}

// Unsubscribe deactivates the edge. The podcast and its episodes are kept
// because other users may share them.
func (s *service) Unsubscribe(ctx context.Context, userID string, podcastID uint) error {
	sub, err := s.repo.GetSubscription(ctx, userID, podcastID)
	if err != nil {
		return err
	}

	if !sub.Active {
		return nil
	}

	sub.Active = false
	return s.repo.SaveSubscription(ctx, sub)
}

// SetPriority updates the priority tag on an existing subscription
func (s *service) SetPriority(ctx context.Context, userID string, podcastID uint, priority string) (*models.Subscription, error) {
	if !validPriority(priority) {
		return nil, ErrInvalidPriority
	}

	sub, err := s.repo.GetSubscription(ctx, userID, podcastID)
	if err != nil {
		return nil, err
	}

	sub.Priority = priority
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListActiveSubscriptions returns the user's active edges with podcasts loaded
func (s *service) ListActiveSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	return s.repo.ListActiveSubscriptions(ctx, userID)
}

// GetPodcast retrieves a podcast by ID
func (s *service) GetPodcast(ctx context.Context, id uint) (*models.Podcast, error) {
	return s.repo.GetPodcastByID(ctx, id)
}

// UpdateFeedMetadata persists feed-level fields refreshed by a crawl
func (s *service) UpdateFeedMetadata(ctx context.Context, podcast *models.Podcast) error {
	return s.repo.SavePodcast(ctx, podcast)
}

// MarkCrawled records a successful crawl of the feed
func (s *service) MarkCrawled(ctx context.Context, podcastID uint, at time.Time) error {
	return s.repo.TouchLastCrawled(ctx, podcastID, at)
}

func validPriority(priority string) bool {
	switch priority {
	case models.PriorityMust, models.PriorityPreferred, models.PriorityNice:
		return true
	}
	return false
}

func validateFeedURL(feedURL string) error {
	if feedURL == "" {
		return ErrInvalidFeedURL
	}
	parsed, err := url.Parse(feedURL)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrInvalidFeedURL
	}
	return nil
}
