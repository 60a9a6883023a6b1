package episodes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

type service struct {
	repo Repository
}

// NewService creates an episode service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// UpsertEpisode creates the episode or refreshes its feed-sourced metadata.
// Identity is (podcastID, guid); updates never touch the transcript status.
func (s *service) UpsertEpisode(ctx context.Context, episode *models.Episode) (bool, error) {
	if episode.PodcastID == 0 || episode.GUID == "" {
		return false, fmt.Errorf("episode requires a podcast ID and guid")
	}

	existing, err := s.repo.GetEpisodeByGUID(ctx, episode.PodcastID, episode.GUID)
	if errors.Is(err, ErrEpisodeNotFound) {
		if episode.TranscriptStatus == "" {
			episode.TranscriptStatus = models.TranscriptStatusPending
		}
		if err := s.repo.CreateEpisode(ctx, episode); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	episode.ID = existing.ID
	episode.CreatedAt = existing.CreatedAt
	episode.TranscriptStatus = existing.TranscriptStatus
	if err := s.repo.SaveEpisode(ctx, episode); err != nil {
		return false, err
	}
	return false, nil
}

func (s *service) GetEpisode(ctx context.Context, id uint) (*models.Episode, error) {
	return s.repo.GetEpisodeByID(ctx, id)
}

func (s *service) GetEpisodesByIDs(ctx context.Context, ids []uint) ([]models.Episode, error) {
	return s.repo.GetEpisodesByIDs(ctx, ids)
}

func (s *service) ListRecentSince(ctx context.Context, podcastIDs []uint, since time.Time, limit int) ([]models.Episode, error) {
	return s.repo.ListPublishedSince(ctx, podcastIDs, since, limit)
}

// MarkTranscript advances the transcript status. Completed is sticky; failed
// may only be retried through processing; nothing returns to pending.
func (s *service) MarkTranscript(ctx context.Context, episodeID uint, status string) error {
	episode, err := s.repo.GetEpisodeByID(ctx, episodeID)
	if err != nil {
		return err
	}

	if episode.TranscriptStatus == status {
		return nil
	}
	if !transcriptStatusAllowed(episode.TranscriptStatus, status) {
		log.Printf("[WARN] Refusing transcript status change %s -> %s for episode %d",
			episode.TranscriptStatus, status, episodeID)
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, episode.TranscriptStatus, status)
	}

	return s.repo.UpdateTranscriptStatus(ctx, episodeID, status)
}

func transcriptStatusAllowed(current, next string) bool {
	switch current {
	case models.TranscriptStatusPending:
		return next == models.TranscriptStatusProcessing ||
			next == models.TranscriptStatusCompleted ||
			next == models.TranscriptStatusFailed
	case models.TranscriptStatusProcessing:
		return next == models.TranscriptStatusCompleted ||
			next == models.TranscriptStatusFailed
	case models.TranscriptStatusFailed:
		return next == models.TranscriptStatusProcessing
	default: // completed and anything unknown are sticky
		return false
	}
}
