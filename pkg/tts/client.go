package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io"
	defaultModelID      = "eleven_turbo_v2"
	defaultOutputFormat = "mp3_44100_128"
	defaultTimeout      = 2 * time.Minute

	// maxTextLength mirrors the ElevenLabs per-request character limit
	maxTextLength = 5000

	// maxAudioBytes caps how much synthesized audio we buffer per request
	maxAudioBytes = 50 << 20
)

// Config holds connection settings for the ElevenLabs text-to-speech API
type Config struct {
	APIKey         string
	BaseURL        string
	ModelID        string
	OutputFormat   string // e.g. mp3_44100_128
	DefaultVoiceID string
	Timeout        time.Duration
	RateLimit      int // requests per second, 0 disables client-side limiting
}

// VoiceSettings tunes delivery per synthesis request. Zero values fall back
// to the API's defaults for that voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
	Style           float64 `json:"style,omitempty"`
}

// Client calls the ElevenLabs text-to-speech API and returns encoded audio
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
}

// New creates a text-to-speech client
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("tts api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}, nil
}

// Synthesize converts a script into spoken audio using the given voice,
// falling back to the configured default voice when voiceID is empty. The
// returned bytes are in the configured output format.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return c.SynthesizeWithSettings(ctx, text, voiceID, nil)
}

// SynthesizeWithSettings is Synthesize with per-request voice tuning
func (c *Client) SynthesizeWithSettings(ctx context.Context, text, voiceID string, settings *VoiceSettings) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("synthesis text is empty")
	}
	if len(text) > maxTextLength {
		return nil, fmt.Errorf("synthesis text is %d characters, limit is %d", len(text), maxTextLength)
	}

	if voiceID == "" {
		voiceID = c.cfg.DefaultVoiceID
	}
	if voiceID == "" {
		return nil, fmt.Errorf("no voice ID provided and no default configured")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		c.cfg.BaseURL, url.PathEscape(voiceID), url.QueryEscape(c.cfg.OutputFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs API error (status %d): %s", resp.StatusCode, trimBody(body))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs returned empty audio")
	}

	return audio, nil
}

// OutputFormat reports the audio format synthesized audio comes back in
func (c *Client) OutputFormat() string {
	return c.cfg.OutputFormat
}

func trimBody(body []byte) string {
	collapsed := strings.Join(strings.Fields(string(body)), " ")
	if len(collapsed) > 300 {
		return collapsed[:300] + "..."
	}
	return collapsed
}
