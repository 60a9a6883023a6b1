package stt

import (
	"context"
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

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("mp3 payload"), 0o644))
	return path
}

func TestWhisperTranscribeFile(t *testing.T) {
	var gotAuth string
	fields := map[string]string{}
	var fileContent []byte
	var fileName string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		fileName = header.Filename
		fileContent, _ = io.ReadAll(file)

		fmt.Fprint(w, `{
			"text": "First point. Second point.",
			"language": "english",
			"duration": 42.5,
			"segments": [
				{"start": 0.0, "end": 3.5, "text": " First point."},
				{"start": 3.5, "end": 7.0, "text": "Second point."},
				{"start": 7.0, "end": 7.1, "text": "  "}
			]
		}`)
	}))
	defer server.Close()

	client, err := NewWhisperClient(Config{
		APIKey:   "wh-test-key",
		BaseURL:  server.URL,
		Language: "en",
	})
	require.NoError(t, err)

	result, err := client.TranscribeFile(context.Background(), writeTestAudio(t))
	require.NoError(t, err)

	assert.Equal(t, "Bearer wh-test-key", gotAuth)
	assert.Equal(t, "clip.mp3", fileName)
	assert.Equal(t, []byte("mp3 payload"), fileContent)
	assert.Equal(t, "whisper-1", fields["model"])
	assert.Equal(t, "en", fields["language"])
	assert.Equal(t, "verbose_json", fields["response_format"])

	assert.Equal(t, "First point. Second point.", result.Text)
	assert.Equal(t, "english", result.Language)
	assert.InDelta(t, 42.5, result.Duration, 0.001)

	require.Len(t, result.Segments, 2, "blank segments should be dropped")
	assert.Equal(t, "First point.", result.Segments[0].Text, "segment text should be trimmed")
	assert.Empty(t, result.Segments[0].Speaker, "whisper does not diarize")
	assert.InDelta(t, 3.5, result.Segments[1].Start, 0.001)
}

func TestWhisperAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewWhisperClient(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.TranscribeFile(context.Background(), writeTestAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestWhisperMissingFile(t *testing.T) {
	client, err := NewWhisperClient(Config{APIKey: "k", BaseURL: "http://localhost:0"})
	require.NoError(t, err)

	_, err = client.TranscribeFile(context.Background(), "/nonexistent/audio.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open audio file")
}

func TestWhisperRequiresBaseURL(t *testing.T) {
	_, err := NewWhisperClient(Config{APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")
}
