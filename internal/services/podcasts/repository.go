package podcasts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poddigest/poddigest/internal/models"
	"gorm.io/gorm"
)

// Common errors
var (
	ErrPodcastNotFound      = errors.New("podcast not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidPriority      = errors.New("priority must be must, preferred or nice")
	ErrInvalidFeedURL       = errors.New("feed URL must be an absolute http(s) URL")
)

type repository struct {
	db *gorm.DB
}

// Ensure repository implements the Repository interface
var _ Repository = (*repository)(nil)

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreatePodcast creates a new podcast
func (r *repository) CreatePodcast(ctx context.Context, podcast *models.Podcast) error {
	if err := r.db.WithContext(ctx).Create(podcast).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("podcast with feed URL %s already exists", podcast.FeedURL)
		}
		return fmt.Errorf("creating podcast: %w", err)
	}
	return nil
}

// SavePodcast updates an existing podcast
func (r *repository) SavePodcast(ctx context.Context, podcast *models.Podcast) error {
	result := r.db.WithContext(ctx).Save(podcast)
	if result.Error != nil {
		return fmt.Errorf("updating podcast: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPodcastNotFound
	}
	return nil
}

// GetPodcastByID retrieves a podcast by primary key
func (r *repository) GetPodcastByID(ctx context.Context, id uint) (*models.Podcast, error) {
	var podcast models.Podcast
	if err := r.db.WithContext(ctx).First(&podcast, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPodcastNotFound
		}
		return nil, fmt.Errorf("getting podcast: %w", err)
	}
	return &podcast, nil
}

// GetPodcastByFeedURL retrieves a podcast by its unique feed URL
func (r *repository) GetPodcastByFeedURL(ctx context.Context, feedURL string) (*models.Podcast, error) {
	var podcast models.Podcast
	if err := r.db.WithContext(ctx).
		Where("feed_url = ?", feedURL).
		First(&podcast).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPodcastNotFound
		}
		return nil, fmt.Errorf("getting podcast by feed URL: %w", err)
	}
	return &podcast, nil
}

// TouchLastCrawled stamps the podcast's last successful crawl time
func (r *repository) TouchLastCrawled(ctx context.Context, podcastID uint, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Podcast{}).
		Where("id = ?", podcastID).
		Update("last_crawled_at", at)
	if result.Error != nil {
		return fmt.Errorf("updating last crawled time: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPodcastNotFound
	}
	return nil
}

// CreateSubscription creates a new subscription edge
func (r *repository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}
	return nil
}

// SaveSubscription updates an existing subscription edge
func (r *repository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	result := r.db.WithContext(ctx).Save(sub)
	if result.Error != nil {
		return fmt.Errorf("updating subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// GetSubscription retrieves the (user, podcast) edge regardless of active flag
func (r *repository) GetSubscription(ctx context.Context, userID string, podcastID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND podcast_id = ?", userID, podcastID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("getting subscription: %w", err)
	}
	return &sub, nil
}

// ListActiveSubscriptions returns a user's active edges with podcasts preloaded
func (r *repository) ListActiveSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Podcast").
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return subs, nil
}
