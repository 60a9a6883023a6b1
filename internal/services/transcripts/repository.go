package transcripts

import (
	"context"
	"errors"
	"fmt"

	"github.com/poddigest/poddigest/internal/models"
	"gorm.io/gorm"
)

// ErrTranscriptNotFound is returned when no transcript exists for an episode
var ErrTranscriptNotFound = errors.New("transcript not found")

// repository implements the Repository interface using GORM
type repository struct {
	db *gorm.DB
}

var _ Repository = (*repository)(nil)

// NewRepository creates a new transcript repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreateTranscript creates a new transcript row
func (r *repository) CreateTranscript(ctx context.Context, transcript *models.Transcript) error {
	if err := r.db.WithContext(ctx).Create(transcript).Error; err != nil {
		return fmt.Errorf("creating transcript: %w", err)
	}
	return nil
}

// SaveTranscript updates an existing transcript row
func (r *repository) SaveTranscript(ctx context.Context, transcript *models.Transcript) error {
	if err := r.db.WithContext(ctx).Save(transcript).Error; err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	return nil
}

// GetByEpisodeID retrieves the transcript for an episode
func (r *repository) GetByEpisodeID(ctx context.Context, episodeID uint) (*models.Transcript, error) {
	var transcript models.Transcript
	err := r.db.WithContext(ctx).Where("episode_id = ?", episodeID).First(&transcript).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("getting transcript for episode %d: %w", episodeID, err)
	}
	return &transcript, nil
}

// ListCompletedByEpisodeIDs retrieves completed transcripts for the given episodes
func (r *repository) ListCompletedByEpisodeIDs(ctx context.Context, episodeIDs []uint) ([]models.Transcript, error) {
	if len(episodeIDs) == 0 {
		return nil, nil
	}

	var transcripts []models.Transcript
	err := r.db.WithContext(ctx).
		Where("episode_id IN ? AND status = ?", episodeIDs, models.TranscriptStatusCompleted).
		Order("episode_id ASC").
		Find(&transcripts).Error
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	return transcripts, nil
}
