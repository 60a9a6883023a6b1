package transcripts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/poddigest/poddigest/internal/models"
)

// maxErrorLength matches the size of the transcripts error column
const maxErrorLength = 500

// service implements the Service interface
type service struct {
	repo Repository
}

var _ Service = (*service)(nil)

// NewService creates a new transcript service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// SaveCompleted stores a finished transcript for an episode, replacing any
// earlier attempt for the same episode.
func (s *service) SaveCompleted(ctx context.Context, transcript *models.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if transcript.EpisodeID == 0 {
		return errors.New("transcript requires an episode ID")
	}
	if len(transcript.Segments) == 0 {
		return fmt.Errorf("transcript for episode %d has no segments", transcript.EpisodeID)
	}

	if strings.TrimSpace(transcript.FullText) == "" {
		transcript.FullText = joinSegmentText(transcript.Segments)
	}
	if transcript.WordCount == 0 {
		transcript.WordCount = len(strings.Fields(transcript.FullText))
	}
	transcript.Status = models.TranscriptStatusCompleted
	transcript.Error = ""

	return s.upsert(ctx, transcript)
}

// MarkFailed records a failed transcription attempt for an episode. A
// completed transcript is never downgraded; the failure is logged instead.
func (s *service) MarkFailed(ctx context.Context, episodeID uint, provider, message string) error {
	if episodeID == 0 {
		return errors.New("transcript requires an episode ID")
	}

	existing, err := s.repo.GetByEpisodeID(ctx, episodeID)
	if err != nil && !errors.Is(err, ErrTranscriptNotFound) {
		return err
	}
	if existing != nil && existing.Status == models.TranscriptStatusCompleted {
		log.Printf("[DEBUG] Keeping completed transcript for episode %d despite failed attempt: %s", episodeID, message)
		return nil
	}

	transcript := &models.Transcript{
		EpisodeID: episodeID,
		Provider:  provider,
		Status:    models.TranscriptStatusFailed,
		Error:     truncate(message, maxErrorLength),
	}
	if existing != nil {
		transcript.ID = existing.ID
		transcript.CreatedAt = existing.CreatedAt
		return s.repo.SaveTranscript(ctx, transcript)
	}
	return s.repo.CreateTranscript(ctx, transcript)
}

// GetByEpisodeID retrieves the transcript for an episode
func (s *service) GetByEpisodeID(ctx context.Context, episodeID uint) (*models.Transcript, error) {
	return s.repo.GetByEpisodeID(ctx, episodeID)
}

// ListCompletedByEpisodeIDs retrieves completed transcripts for the given episodes
func (s *service) ListCompletedByEpisodeIDs(ctx context.Context, episodeIDs []uint) ([]models.Transcript, error) {
	return s.repo.ListCompletedByEpisodeIDs(ctx, episodeIDs)
}

// upsert writes the transcript, reusing the row of any earlier attempt so the
// episode keeps a single transcript.
func (s *service) upsert(ctx context.Context, transcript *models.Transcript) error {
	existing, err := s.repo.GetByEpisodeID(ctx, transcript.EpisodeID)
	if err != nil && !errors.Is(err, ErrTranscriptNotFound) {
		return err
	}
	if existing != nil {
		transcript.ID = existing.ID
		transcript.CreatedAt = existing.CreatedAt
		return s.repo.SaveTranscript(ctx, transcript)
	}
	return s.repo.CreateTranscript(ctx, transcript)
}

func joinSegmentText(segments models.SegmentList) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
