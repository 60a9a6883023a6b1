package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultDeepgramBaseURL = "https://api.deepgram.com"
	defaultDeepgramModel   = "nova-2"
	defaultDeepgramTimeout = 10 * time.Minute
)

// DeepgramClient calls Deepgram's pre-recorded transcription API. It prefers
// URL mode, where Deepgram fetches the audio itself, so podcast episodes never
// have to pass through this process at all.
type DeepgramClient struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	client   *http.Client
	limiter  *rate.Limiter
}

// deepgramResponse is the subset of Deepgram's response we consume
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string                `json:"detected_language"`
			Alternatives     []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
		Utterances []deepgramUtterance `json:"utterances"`
	} `json:"results"`
}

type deepgramAlternative struct {
	Transcript string              `json:"transcript"`
	Words      []deepgramWord      `json:"words"`
	Paragraphs *deepgramParagraphs `json:"paragraphs"`
}

// deepgramUtterance is one diarized span, with speaker as a zero-based index
type deepgramUtterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    int     `json:"speaker"`
	Transcript string  `json:"transcript"`
}

// deepgramWord is one recognized token with its diarization tag
type deepgramWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Speaker        int     `json:"speaker"`
}

type deepgramParagraphs struct {
	Paragraphs []deepgramParagraph `json:"paragraphs"`
}

type deepgramParagraph struct {
	Start     float64            `json:"start"`
	End       float64            `json:"end"`
	Speaker   int                `json:"speaker"`
	Sentences []deepgramSentence `json:"sentences"`
}

type deepgramSentence struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepgramClient creates a Deepgram transcription client
func NewDeepgramClient(cfg Config) (*DeepgramClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepgramModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDeepgramTimeout
	}

	return &DeepgramClient{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  newLimiter(cfg.RateLimit),
	}, nil
}

// Name returns the provider name.
func (d *DeepgramClient) Name() string { return "deepgram" }

// Model returns the configured model identifier.
func (d *DeepgramClient) Model() string { return d.model }

// TranscribeURL asks Deepgram to fetch and transcribe remote audio
func (d *DeepgramClient) TranscribeURL(ctx context.Context, audioURL string) (*Result, error) {
	if strings.TrimSpace(audioURL) == "" {
		return nil, fmt.Errorf("audio URL is required")
	}

	payload, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		return nil, fmt.Errorf("encode url payload: %w", err)
	}

	return d.send(ctx, bytes.NewReader(payload), "application/json")
}

// TranscribeFile streams a local audio file to Deepgram
func (d *DeepgramClient) TranscribeFile(ctx context.Context, audioPath string) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	return d.send(ctx, f, audioContentType(audioPath))
}

// send posts the request body to /v1/listen and maps the response
func (d *DeepgramClient) send(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	if err := waitLimiter(ctx, d.limiter); err != nil {
		return nil, err
	}

	endpoint := d.baseURL + "/v1/listen?" + d.queryParams().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram API error (status %d): %s", resp.StatusCode, trimBody(respBody))
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return d.toResult(&parsed), nil
}

// queryParams builds the feature flags for pre-recorded transcription
func (d *DeepgramClient) queryParams() url.Values {
	params := url.Values{}
	params.Set("model", d.model)
	if d.language != "" {
		params.Set("language", d.language)
	}
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	params.Set("diarize", "true")
	params.Set("utterances", "true")
	params.Set("paragraphs", "true")
	return params
}

// toResult maps Deepgram's channel shape onto the common Result. Segments come
// from the first strategy that yields any: diarized utterances, then paragraph
// groupings, then runs of same-speaker words. When even the word list is empty
// the whole transcript becomes a single segment so downstream windowing still
// has timestamps.
func (d *DeepgramClient) toResult(parsed *deepgramResponse) *Result {
	result := &Result{
		Language: d.language,
		Duration: parsed.Metadata.Duration,
	}

	var alt *deepgramAlternative
	if len(parsed.Results.Channels) > 0 {
		channel := parsed.Results.Channels[0]
		if channel.DetectedLanguage != "" {
			result.Language = channel.DetectedLanguage
		}
		if len(channel.Alternatives) > 0 {
			alt = &channel.Alternatives[0]
			result.Text = alt.Transcript
		}
	}

	result.Segments = utteranceSegments(parsed.Results.Utterances)
	if len(result.Segments) == 0 && alt != nil {
		result.Segments = paragraphSegments(alt.Paragraphs)
	}
	if len(result.Segments) == 0 && alt != nil {
		result.Segments = wordRunSegments(alt.Words)
	}
	if len(result.Segments) == 0 && strings.TrimSpace(result.Text) != "" {
		result.Segments = []Segment{{
			Start: 0,
			End:   parsed.Metadata.Duration,
			Text:  result.Text,
		}}
	}

	return result
}

func utteranceSegments(utterances []deepgramUtterance) []Segment {
	var segments []Segment
	for _, u := range utterances {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Start:   u.Start,
			End:     u.End,
			Speaker: speakerLabel(u.Speaker),
			Text:    text,
		})
	}
	return segments
}

// paragraphSegments joins each paragraph's sentences into one span
func paragraphSegments(paragraphs *deepgramParagraphs) []Segment {
	if paragraphs == nil {
		return nil
	}
	var segments []Segment
	for _, p := range paragraphs.Paragraphs {
		var parts []string
		for _, s := range p.Sentences {
			if text := strings.TrimSpace(s.Text); text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) == 0 {
			continue
		}
		segments = append(segments, Segment{
			Start:   p.Start,
			End:     p.End,
			Speaker: speakerLabel(p.Speaker),
			Text:    strings.Join(parts, " "),
		})
	}
	return segments
}

// wordRunSegments coalesces consecutive words that share a speaker tag into
// one segment per run, using punctuated forms when present
func wordRunSegments(words []deepgramWord) []Segment {
	var segments []Segment
	var run []string
	var start, end float64
	speaker := -1

	flush := func() {
		if len(run) == 0 {
			return
		}
		segments = append(segments, Segment{
			Start:   start,
			End:     end,
			Speaker: speakerLabel(speaker),
			Text:    strings.Join(run, " "),
		})
		run = nil
	}

	for _, w := range words {
		text := strings.TrimSpace(w.PunctuatedWord)
		if text == "" {
			text = strings.TrimSpace(w.Word)
		}
		if text == "" {
			continue
		}
		if w.Speaker != speaker {
			flush()
			speaker = w.Speaker
			start = w.Start
		}
		run = append(run, text)
		end = w.End
	}
	flush()
	return segments
}

func speakerLabel(index int) string {
	return fmt.Sprintf("Speaker %d", index+1)
}

// audioContentType guesses a MIME type from the file extension, falling back
// to octet-stream and letting Deepgram sniff the container
func audioContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
