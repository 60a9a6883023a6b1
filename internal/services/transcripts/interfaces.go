package transcripts

import (
	"context"

	"github.com/poddigest/poddigest/internal/models"
)

// Repository defines the interface for transcript data persistence
type Repository interface {
	// CreateTranscript creates a new transcript row
	CreateTranscript(ctx context.Context, transcript *models.Transcript) error

	// SaveTranscript updates an existing transcript row
	SaveTranscript(ctx context.Context, transcript *models.Transcript) error

	// GetByEpisodeID retrieves the transcript for an episode
	GetByEpisodeID(ctx context.Context, episodeID uint) (*models.Transcript, error)

	// ListCompletedByEpisodeIDs retrieves completed transcripts for the given
	// episodes, ordered by episode ID ascending. Episodes without a completed
	// transcript are silently absent.
	ListCompletedByEpisodeIDs(ctx context.Context, episodeIDs []uint) ([]models.Transcript, error)
}

// Service defines the interface for transcript operations
type Service interface {
	// SaveCompleted stores a finished transcript for an episode, replacing any
	// earlier attempt. Full text and word count are derived from the segments
	// when not provided.
	SaveCompleted(ctx context.Context, transcript *models.Transcript) error

	// MarkFailed records a failed transcription attempt for an episode. A
	// completed transcript is never downgraded.
	MarkFailed(ctx context.Context, episodeID uint, provider, message string) error

	// GetByEpisodeID retrieves the transcript for an episode
	GetByEpisodeID(ctx context.Context, episodeID uint) (*models.Transcript, error)

	// ListCompletedByEpisodeIDs retrieves completed transcripts for the given episodes
	ListCompletedByEpisodeIDs(ctx context.Context, episodeIDs []uint) ([]models.Transcript, error)
}
