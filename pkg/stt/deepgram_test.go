package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deepgramFixture = `{
	"metadata": {"duration": 1834.62},
	"results": {
		"channels": [{
			"detected_language": "en",
			"alternatives": [{"transcript": "Welcome back. Thanks for having me."}]
		}],
		"utterances": [
			{"start": 0.5, "end": 4.2, "speaker": 0, "transcript": "Welcome back."},
			{"start": 4.8, "end": 9.1, "speaker": 1, "transcript": "Thanks for having me."},
			{"start": 9.1, "end": 9.2, "speaker": 1, "transcript": "   "}
		]
	}
}`

func newDeepgramTestClient(t *testing.T, baseURL string) *DeepgramClient {
	t.Helper()
	client, err := NewDeepgramClient(Config{
		APIKey:   "dg-test-key",
		BaseURL:  baseURL,
		Language: "en",
	})
	require.NoError(t, err)
	return client
}

func TestDeepgramTranscribeURL(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotQuery map[string][]string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, deepgramFixture)
	}))
	defer server.Close()

	client := newDeepgramTestClient(t, server.URL)

	result, err := client.TranscribeURL(context.Background(), "https://cdn.example.com/ep42.mp3")
	require.NoError(t, err)

	assert.Equal(t, "/v1/listen", gotPath)
	assert.Equal(t, "Token dg-test-key", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "https://cdn.example.com/ep42.mp3", gotBody["url"])

	assert.Equal(t, []string{"nova-2"}, gotQuery["model"])
	assert.Equal(t, []string{"true"}, gotQuery["diarize"])
	assert.Equal(t, []string{"true"}, gotQuery["utterances"])
	assert.Equal(t, []string{"true"}, gotQuery["paragraphs"])
	assert.Equal(t, []string{"en"}, gotQuery["language"])

	assert.Equal(t, "Welcome back. Thanks for having me.", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 1834.62, result.Duration, 0.001)

	require.Len(t, result.Segments, 2, "blank utterances should be dropped")
	assert.Equal(t, "Speaker 1", result.Segments[0].Speaker)
	assert.Equal(t, "Welcome back.", result.Segments[0].Text)
	assert.InDelta(t, 0.5, result.Segments[0].Start, 0.001)
	assert.Equal(t, "Speaker 2", result.Segments[1].Speaker)
	assert.InDelta(t, 9.1, result.Segments[1].End, 0.001)
}

func TestDeepgramTranscribeFile(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "episode.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("fake mp3 bytes"), 0o644))

	var gotContentType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, deepgramFixture)
	}))
	defer server.Close()

	client := newDeepgramTestClient(t, server.URL)

	result, err := client.TranscribeFile(context.Background(), audioPath)
	require.NoError(t, err)

	assert.Equal(t, "audio/mpeg", gotContentType)
	assert.Equal(t, []byte("fake mp3 bytes"), gotBody, "file mode should stream the raw audio")
	assert.Len(t, result.Segments, 2)
}

func TestDeepgramParagraphSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"metadata": {"duration": 600.0},
			"results": {
				"channels": [{
					"alternatives": [{
						"transcript": "First point. Second point. A reply.",
						"paragraphs": {
							"paragraphs": [
								{
									"start": 1.0, "end": 14.5, "speaker": 0,
									"sentences": [
										{"text": "First point.", "start": 1.0, "end": 7.2},
										{"text": "Second point.", "start": 7.4, "end": 14.5}
									]
								},
								{
									"start": 15.0, "end": 19.0, "speaker": 1,
									"sentences": [{"text": "A reply.", "start": 15.0, "end": 19.0}]
								},
								{"start": 19.0, "end": 19.5, "speaker": 1, "sentences": []}
							]
						}
					}]
				}],
				"utterances": []
			}
		}`)
	}))
	defer server.Close()

	client := newDeepgramTestClient(t, server.URL)

	result, err := client.TranscribeURL(context.Background(), "https://cdn.example.com/ep.mp3")
	require.NoError(t, err)

	require.Len(t, result.Segments, 2, "empty paragraphs should be dropped")
	assert.Equal(t, "First point. Second point.", result.Segments[0].Text)
	assert.Equal(t, "Speaker 1", result.Segments[0].Speaker)
	assert.InDelta(t, 1.0, result.Segments[0].Start, 0.001)
	assert.InDelta(t, 14.5, result.Segments[0].End, 0.001)
	assert.Equal(t, "A reply.", result.Segments[1].Text)
	assert.Equal(t, "Speaker 2", result.Segments[1].Speaker)
}

func TestDeepgramWordRunSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"metadata": {"duration": 30.0},
			"results": {
				"channels": [{
					"alternatives": [{
						"transcript": "hello there general kenobi",
						"words": [
							{"word": "hello", "punctuated_word": "Hello", "start": 0.2, "end": 0.6, "speaker": 0},
							{"word": "there", "punctuated_word": "there.", "start": 0.7, "end": 1.1, "speaker": 0},
							{"word": "general", "punctuated_word": "General", "start": 2.0, "end": 2.5, "speaker": 1},
							{"word": "kenobi", "punctuated_word": "", "start": 2.6, "end": 3.2, "speaker": 1}
						]
					}]
				}],
				"utterances": []
			}
		}`)
	}))
	defer server.Close()

	client := newDeepgramTestClient(t, server.URL)

	result, err := client.TranscribeURL(context.Background(), "https://cdn.example.com/ep.mp3")
	require.NoError(t, err)

	require.Len(t, result.Segments, 2, "one segment per speaker run")
	assert.Equal(t, "Hello there.", result.Segments[0].Text)
	assert.Equal(t, "Speaker 1", result.Segments[0].Speaker)
	assert.InDelta(t, 0.2, result.Segments[0].Start, 0.001)
	assert.InDelta(t, 1.1, result.Segments[0].End, 0.001)
	assert.Equal(t, "General kenobi", result.Segments[1].Text, "bare word fills in when the punctuated form is missing")
	assert.Equal(t, "Speaker 2", result.Segments[1].Speaker)
	assert.InDelta(t, 3.2, result.Segments[1].End, 0.001)
}

func TestDeepgramSingleSegmentFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"metadata": {"duration": 120.0},
			"results": {
				"channels": [{"alternatives": [{"transcript": "a short monologue"}]}],
				"utterances": []
			}
		}`)
	}))
	defer server.Close()

	client := newDeepgramTestClient(t, server.URL)

	result, err := client.TranscribeURL(context.Background(), "https://cdn.example.com/mono.mp3")
	require.NoError(t, err)

	require.Len(t, result.Segments, 1)
	assert.Equal(t, "a short monologue", result.Segments[0].Text)
	assert.Zero(t, result.Segments[0].Start)
	assert.InDelta(t, 120.0, result.Segments[0].End, 0.001)
	assert.Empty(t, result.Segments[0].Speaker)
}

func TestDeepgramAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_code": "INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newDeepgramTestClient(t, server.URL)

	_, err := client.TranscribeURL(context.Background(), "https://cdn.example.com/ep.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "INVALID_AUTH")
}

func TestDeepgramRejectsEmptyURL(t *testing.T) {
	client := newDeepgramTestClient(t, "http://localhost:0")

	_, err := client.TranscribeURL(context.Background(), "  ")
	require.Error(t, err)
}

func TestDeepgramRequiresAPIKey(t *testing.T) {
	_, err := NewDeepgramClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestAudioContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"ep.mp3", "audio/mpeg"},
		{"ep.M4A", "audio/mp4"},
		{"ep.wav", "audio/wav"},
		{"ep.opus", "audio/ogg"},
		{"ep.flac", "audio/flac"},
		{"ep.bin", "application/octet-stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, audioContentType(tt.path), tt.path)
	}
}
