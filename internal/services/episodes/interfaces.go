package episodes

import (
	"context"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// Repository defines the data access interface for episodes
type Repository interface {
	CreateEpisode(ctx context.Context, episode *models.Episode) error
	SaveEpisode(ctx context.Context, episode *models.Episode) error
	GetEpisodeByID(ctx context.Context, id uint) (*models.Episode, error)
	GetEpisodeByGUID(ctx context.Context, podcastID uint, guid string) (*models.Episode, error)

	// GetEpisodesByIDs returns episodes with podcasts preloaded, ordered by
	// published_at ascending. Missing IDs are silently absent.
	GetEpisodesByIDs(ctx context.Context, ids []uint) ([]models.Episode, error)

	// ListPublishedSince returns episodes of the given podcasts published
	// after since, most recent first, capped at limit
	ListPublishedSince(ctx context.Context, podcastIDs []uint, since time.Time, limit int) ([]models.Episode, error)

	UpdateTranscriptStatus(ctx context.Context, id uint, status string) error
}

// Service defines the business logic interface for episode operations
type Service interface {
	// UpsertEpisode creates or refreshes an episode keyed by (podcastID,
	// guid). Existing rows keep their ID, creation time and transcript
	// status. Reports whether a new row was created.
	UpsertEpisode(ctx context.Context, episode *models.Episode) (bool, error)

	GetEpisode(ctx context.Context, id uint) (*models.Episode, error)
	GetEpisodesByIDs(ctx context.Context, ids []uint) ([]models.Episode, error)
	ListRecentSince(ctx context.Context, podcastIDs []uint, since time.Time, limit int) ([]models.Episode, error)

	// MarkTranscript advances the episode's transcript status. Regressions
	// are rejected: completed is sticky, failed may only move to processing.
	MarkTranscript(ctx context.Context, episodeID uint, status string) error
}
