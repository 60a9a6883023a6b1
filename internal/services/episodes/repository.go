package episodes

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
	ErrEpisodeNotFound  = errors.New("episode not found")
	ErrStatusRegression = errors.New("transcript status cannot move backwards")
)

type repository struct {
	db *gorm.DB
}

// Ensure repository implements the Repository interface
var _ Repository = (*repository)(nil)

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateEpisode(ctx context.Context, episode *models.Episode) error {
	if err := r.db.WithContext(ctx).Create(episode).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("episode with GUID %s already exists for podcast %d", episode.GUID, episode.PodcastID)
		}
		return fmt.Errorf("creating episode: %w", err)
	}
	return nil
}

func (r *repository) SaveEpisode(ctx context.Context, episode *models.Episode) error {
	result := r.db.WithContext(ctx).Save(episode)
	if result.Error != nil {
		return fmt.Errorf("updating episode: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}

func (r *repository) GetEpisodeByID(ctx context.Context, id uint) (*models.Episode, error) {
	var episode models.Episode
	if err := r.db.WithContext(ctx).First(&episode, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("getting episode: %w", err)
	}
	return &episode, nil
}

func (r *repository) GetEpisodeByGUID(ctx context.Context, podcastID uint, guid string) (*models.Episode, error) {
	var episode models.Episode
	if err := r.db.WithContext(ctx).
		Where("podcast_id = ? AND guid = ?", podcastID, guid).
		First(&episode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("getting episode by guid: %w", err)
	}
	return &episode, nil
}

func (r *repository) GetEpisodesByIDs(ctx context.Context, ids []uint) ([]models.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var episodes []models.Episode
	if err := r.db.WithContext(ctx).
		Preload("Podcast").
		Where("id IN ?", ids).
		Order("published_at ASC").
		Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("getting episodes: %w", err)
	}
	return episodes, nil
}

func (r *repository) ListPublishedSince(ctx context.Context, podcastIDs []uint, since time.Time, limit int) ([]models.Episode, error) {
	if len(podcastIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var episodes []models.Episode
	if err := r.db.WithContext(ctx).
		Where("podcast_id IN ? AND published_at > ?", podcastIDs, since).
		Order("published_at DESC").
		Limit(limit).
		Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("listing episodes since %s: %w", since.Format(time.RFC3339), err)
	}
	return episodes, nil
}

func (r *repository) UpdateTranscriptStatus(ctx context.Context, id uint, status string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("id = ?", id).
		Update("transcript_status", status)
	if result.Error != nil {
		return fmt.Errorf("updating transcript status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}
