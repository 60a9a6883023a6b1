package narrator

import (
	"context"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/pkg/ffmpeg"
)

// ScriptWriter is the slice of the LLM client the narrator uses.
// Satisfied by *llm.Client.
type ScriptWriter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Synthesizer turns a script into spoken audio. Satisfied by *tts.Client.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Prober reads audio metadata from a file. Satisfied by *ffmpeg.FFmpeg.
// The narrator works without one; durations then fall back to a
// spoken-word estimate.
type Prober interface {
	GetMetadata(ctx context.Context, filePath string) (*ffmpeg.AudioMetadata, error)
}

// Service defines the business logic interface for narration production
type Service interface {
	// ProduceNarration writes one script per digest segment, synthesizes
	// each to audio, stores the files and returns the segments in
	// playback position order: intro, one transition per clip, outro.
	ProduceNarration(ctx context.Context, digestID string, config *models.DigestConfig) ([]models.NarrationAudio, error)
}
