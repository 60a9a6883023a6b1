package deliverer

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/storage"
)

// feedItemLimit bounds how much history one feed carries
const feedItemLimit = 100

// Config holds deliverer settings
type Config struct {
	// FeedAuthor fills the channel's itunes:author. Defaults to "PodDigest".
	FeedAuthor string
}

type service struct {
	digests  digests.Service
	store    storage.Store
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// NewService creates a new deliverer service
func NewService(digestService digests.Service, store storage.Store, notifier Notifier, cfg Config) Service {
	if cfg.FeedAuthor == "" {
		cfg.FeedAuthor = "PodDigest"
	}
	return &service{
		digests:  digestService,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Deliver publishes the digest by the config's delivery method
func (s *service) Deliver(ctx context.Context, digestID string, config *models.DigestConfig) error {
	if config == nil {
		return fmt.Errorf("delivering digest %s: config is required", digestID)
	}

	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return fmt.Errorf("loading digest %s: %w", digestID, err)
	}
	if digest.AudioObjectKey == "" {
		return models.NewContractError("missing-audio", "digest reached delivery without rendered audio",
			fmt.Sprintf("digest %s", digestID), nil)
	}

	switch config.DeliveryMethod {
	case models.DeliverySyndication:
		if err := s.publishFeed(ctx, digest); err != nil {
			return err
		}
	case models.DeliveryEmail, models.DeliveryPush:
		s.notify(ctx, digest, config.DeliveryMethod)
	case models.DeliveryInApp:
		log.Printf("[DEBUG] deliverer: digest %s delivered in-app, nothing to publish", digestID)
	default:
		return models.NewStageError("delivery-failed", "unsupported delivery method", config.DeliveryMethod, nil)
	}

	log.Printf("[INFO] deliverer: digest %s delivered via %s", digestID, config.DeliveryMethod)
	return nil
}

// publishFeed regenerates the user's syndication feed and uploads it
func (s *service) publishFeed(ctx context.Context, current *models.Digest) error {
	items, err := s.digests.ListCompletedForUser(ctx, current.UserID, feedItemLimit)
	if err != nil {
		return fmt.Errorf("listing digests for feed of user %s: %w", current.UserID, err)
	}

	// The digest being delivered is not completed yet, but its own feed
	// refresh is the point of this stage
	present := false
	for i := range items {
		if items[i].ID == current.ID {
			present = true
			break
		}
	}
	if !present {
		items = append(items, *current)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	key := storage.UserFeedKey(current.UserID)
	feedURL := s.store.PublicURL(key)
	payload, err := renderFeed(feedURL, s.cfg.FeedAuthor, items, s.store.PublicURL, s.now())
	if err != nil {
		return models.NewStageError("delivery-failed", "feed generation failed", err.Error(), err)
	}

	meta := map[string]string{"Cache-Control": "max-age=300"}
	if err := s.store.Put(ctx, key, bytes.NewReader(payload), "application/rss+xml", meta); err != nil {
		return fmt.Errorf("uploading feed %s: %w", key, err)
	}

	log.Printf("[INFO] deliverer: feed %s regenerated with %d items", key, len(items))
	return nil
}

// notify dispatches a best-effort notification. Failures are logged, never
// returned.
func (s *service) notify(ctx context.Context, digest *models.Digest, method string) {
	if s.notifier == nil {
		log.Printf("[DEBUG] deliverer: no notifier wired, skipping %s notification for digest %s", method, digest.ID)
		return
	}

	n := Notification{
		DigestID:    digest.ID,
		UserID:      digest.UserID,
		Title:       digest.Title,
		Method:      method,
		AudioURL:    s.store.PublicURL(digest.AudioObjectKey),
		DurationSec: digest.TotalDurationSec,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Printf("[WARN] deliverer: %s notification for digest %s failed: %v", method, digest.ID, err)
	}
}
