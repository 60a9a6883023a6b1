package analyzer

import (
	"context"

	"github.com/poddigest/poddigest/internal/models"
)

// ChatCompleter is the slice of the LLM client the analyzer uses. Satisfied
// by *llm.Client.
type ChatCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Service defines the business logic interface for clip analysis
type Service interface {
	// Analyze scores the completed transcripts of the given episodes,
	// selects clips against the config's length budget and preferences,
	// orders them per the config's structure and persists them on the
	// digest. Returns the saved clips in playback order.
	Analyze(ctx context.Context, digestID string, episodeIDs []uint, config *models.DigestConfig) ([]models.DigestClip, error)
}
