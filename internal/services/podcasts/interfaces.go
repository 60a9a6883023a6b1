package podcasts

import (
	"context"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// Repository defines the data access interface for podcasts and subscriptions
type Repository interface {
	// Podcasts
	CreatePodcast(ctx context.Context, podcast *models.Podcast) error
	SavePodcast(ctx context.Context, podcast *models.Podcast) error
	GetPodcastByID(ctx context.Context, id uint) (*models.Podcast, error)
	GetPodcastByFeedURL(ctx context.Context, feedURL string) (*models.Podcast, error)
	TouchLastCrawled(ctx context.Context, podcastID uint, at time.Time) error

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, userID string, podcastID uint) (*models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
}

// Service defines the business logic interface for the podcast catalog
type Service interface {
	// Subscribe attaches a user to a feed, creating the podcast record on
	// first sight. Subscribing again updates the priority and reactivates a
	// deactivated edge.
	Subscribe(ctx context.Context, userID, feedURL, priority string) (*models.Subscription, error)

	// Unsubscribe deactivates the edge; the podcast and its episodes stay
	Unsubscribe(ctx context.Context, userID string, podcastID uint) error

	// SetPriority updates the must/preferred/nice tag on an existing edge
	SetPriority(ctx context.Context, userID string, podcastID uint, priority string) (*models.Subscription, error)

	// ListActiveSubscriptions returns the user's active edges with podcasts loaded
	ListActiveSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)

	GetPodcast(ctx context.Context, id uint) (*models.Podcast, error)

	// UpdateFeedMetadata persists feed-level fields refreshed by a crawl
	UpdateFeedMetadata(ctx context.Context, podcast *models.Podcast) error

	// MarkCrawled records a successful crawl of the feed
	MarkCrawled(ctx context.Context, podcastID uint, at time.Time) error
}
