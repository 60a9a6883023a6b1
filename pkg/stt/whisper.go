package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultWhisperModel   = "whisper-1"
	defaultWhisperTimeout = 10 * time.Minute
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// with multipart/form-data. Whisper does not diarize, so segments come back
// without speaker labels.
type WhisperClient struct {
	apiKey   string
	endpoint string
	model    string
	language string
	client   *http.Client
	limiter  *rate.Limiter
}

// whisperResponse is the verbose_json response shape
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a Whisper transcription client
func NewWhisperClient(cfg Config) (*WhisperClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("whisper api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("whisper provider requires a base URL")
	}
	if cfg.Model == "" {
		cfg.Model = defaultWhisperModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWhisperTimeout
	}

	return &WhisperClient{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/v1/audio/transcriptions",
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  newLimiter(cfg.RateLimit),
	}, nil
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// TranscribeFile uploads an audio file and returns the segmented transcript
func (wc *WhisperClient) TranscribeFile(ctx context.Context, audioPath string) (*Result, error) {
	if err := waitLimiter(ctx, wc.limiter); err != nil {
		return nil, err
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	w.WriteField("model", wc.model)
	if wc.language != "" {
		w.WriteField("language", wc.language)
	}

	// verbose_json carries segment-level timestamps
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+wc.apiKey)

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, trimBody(body))
	}

	var parsed whisperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return wc.toResult(&parsed), nil
}

func (wc *WhisperClient) toResult(parsed *whisperResponse) *Result {
	result := &Result{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
	}
	if result.Language == "" {
		result.Language = wc.language
	}

	for _, seg := range parsed.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
	}

	if len(result.Segments) == 0 && strings.TrimSpace(result.Text) != "" {
		result.Segments = []Segment{{
			Start: 0,
			End:   parsed.Duration,
			Text:  result.Text,
		}}
	}

	return result
}
