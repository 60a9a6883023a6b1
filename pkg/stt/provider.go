package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	// TranscribeFile uploads a local audio file and returns its transcript.
	TranscribeFile(ctx context.Context, audioPath string) (*Result, error)
	Name() string  // "deepgram", "whisper"
	Model() string // model identifier for DB/logs
}

// URLTranscriber is implemented by providers that can fetch remote audio
// themselves, skipping the local download entirely. Callers should type-assert
// and fall back to TranscribeFile when the provider lacks it.
type URLTranscriber interface {
	TranscribeURL(ctx context.Context, audioURL string) (*Result, error)
}

// Result is the common transcription result from any provider.
type Result struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []Segment
}

// Segment is one span of speech with timestamps in seconds. Speaker is empty
// when the provider does not diarize.
type Segment struct {
	Start   float64
	End     float64
	Speaker string
	Text    string
}

// WordCount counts whitespace-separated tokens across the full text
func (r *Result) WordCount() int {
	return len(strings.Fields(r.Text))
}

// Config holds provider selection and connection settings
type Config struct {
	Provider  string // "deepgram" (default) or "whisper"
	APIKey    string
	BaseURL   string
	Model     string
	Language  string
	Timeout   time.Duration
	RateLimit int // requests per second, 0 disables client-side limiting
}

// NewProvider constructs the configured speech-to-text backend
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "deepgram":
		return NewDeepgramClient(cfg)
	case "whisper":
		return NewWhisperClient(cfg)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// newLimiter builds a per-second rate limiter, nil when disabled
func newLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// trimBody keeps API error bodies log-friendly
func trimBody(body []byte) string {
	collapsed := strings.Join(strings.Fields(string(body)), " ")
	if len(collapsed) > 300 {
		return collapsed[:300] + "..."
	}
	return collapsed
}
