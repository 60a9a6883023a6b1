package ffmpeg

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 30*time.Second)
	if ffmpeg.ffmpegPath != "ffmpeg" {
		t.Errorf("Expected ffmpegPath to be 'ffmpeg', got %s", ffmpeg.ffmpegPath)
	}
	if ffmpeg.ffprobePath != "ffprobe" {
		t.Errorf("Expected ffprobePath to be 'ffprobe', got %s", ffmpeg.ffprobePath)
	}
	if ffmpeg.timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", ffmpeg.timeout)
	}
}

func TestConcatListContent(t *testing.T) {
	content := concatListContent([]string{
		"/scratch/000-intro.mp3",
		"/scratch/001-clip.mp3",
	})

	expected := "file '/scratch/000-intro.mp3'\nfile '/scratch/001-clip.mp3'\n"
	if content != expected {
		t.Errorf("Unexpected list content:\n%s", content)
	}
}

func TestConcatListContentEscapesQuotes(t *testing.T) {
	content := concatListContent([]string{"/tmp/it's a clip.mp3"})

	expected := `file '/tmp/it'\''s a clip.mp3'` + "\n"
	if content != expected {
		t.Errorf("Expected %q, got %q", expected, content)
	}
}

func TestParseLoudnormStats(t *testing.T) {
	// Trimmed real-world stderr shape: progress lines, then the JSON block
	stderr := `size=N/A time=00:14:12.20 bitrate=N/A speed= 107x
[Parsed_loudnorm_0 @ 0x55dd5c42cc00]
{
	"input_i" : "-22.64",
	"input_tp" : "-5.10",
	"input_lra" : "14.80",
	"input_thresh" : "-33.27",
	"output_i" : "-16.33",
	"output_tp" : "-2.62",
	"output_lra" : "10.90",
	"output_thresh" : "-26.85",
	"normalization_type" : "dynamic",
	"target_offset" : "0.33"
}
`

	stats, err := parseLoudnormStats(stderr)
	if err != nil {
		t.Fatalf("parseLoudnormStats failed: %v", err)
	}

	if stats.InputI != "-22.64" {
		t.Errorf("Expected input_i -22.64, got %s", stats.InputI)
	}
	if stats.InputTP != "-5.10" {
		t.Errorf("Expected input_tp -5.10, got %s", stats.InputTP)
	}
	if stats.InputLRA != "14.80" {
		t.Errorf("Expected input_lra 14.80, got %s", stats.InputLRA)
	}
	if stats.InputThresh != "-33.27" {
		t.Errorf("Expected input_thresh -33.27, got %s", stats.InputThresh)
	}
	if stats.TargetOffset != "0.33" {
		t.Errorf("Expected target_offset 0.33, got %s", stats.TargetOffset)
	}
}

func TestParseLoudnormStatsErrors(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
	}{
		{"no json block", "frame=100 fps=25 time=00:00:04.00"},
		{"unterminated block", "prefix {\n\"input_i\": \"-20\""},
		{"missing measurements", `{"output_i": "-16"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseLoudnormStats(tt.stderr); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestExtractClipRejectsInvalidRange(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 30*time.Second)
	ctx := context.Background()

	err := ffmpeg.ExtractClip(ctx, "in.mp3", "out.mp3", 100, 100)
	if err == nil {
		t.Fatal("Expected error for empty clip range, got nil")
	}

	var procErr *ProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("Expected ProcessingError, got %T", err)
	}
	if procErr.Operation != "clip_extraction" {
		t.Errorf("Expected clip_extraction operation, got %s", procErr.Operation)
	}
}

func TestConcatRejectsEmptySegmentList(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 30*time.Second)
	ctx := context.Background()

	err := ffmpeg.Concat(ctx, nil, t.TempDir(), "out.mp3")
	if err == nil {
		t.Fatal("Expected error for empty segment list, got nil")
	}
}

// Integration test - only runs if ffmpeg/ffprobe are available
func TestValidateBinaries(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 30*time.Second)

	// This test will pass if ffmpeg/ffprobe are installed, skip otherwise
	err := ffmpeg.ValidateBinaries()
	if err != nil {
		t.Skipf("FFmpeg binaries not available: %v", err)
	}
}

// Full assembly chain against real binaries: synthesize, cut, join,
// normalize, tag, probe. Skipped when ffmpeg is not installed.
func TestAssemblyChainWithRealBinaries(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 60*time.Second)

	if err := ffmpeg.ValidateBinaries(); err != nil {
		t.Skipf("FFmpeg binaries not available: %v", err)
	}

	ctx := context.Background()
	dir := t.TempDir()

	approx := func(t *testing.T, got, want, tolerance float64, what string) {
		t.Helper()
		if math.Abs(got-want) > tolerance {
			t.Errorf("%s: expected ~%.2fs, got %.2fs", what, want, got)
		}
	}

	source := filepath.Join(dir, "source.mp3")
	if err := ffmpeg.GenerateStinger(ctx, source, 3.0); err != nil {
		t.Fatalf("GenerateStinger failed: %v", err)
	}

	meta, err := ffmpeg.GetMetadata(ctx, source)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	approx(t, meta.Duration, 3.0, 0.25, "stinger duration")
	if meta.SampleRate != OutputSampleRate {
		t.Errorf("Expected sample rate %d, got %d", OutputSampleRate, meta.SampleRate)
	}
	if meta.Channels != OutputChannels {
		t.Errorf("Expected %d channels, got %d", OutputChannels, meta.Channels)
	}

	clip := filepath.Join(dir, "clip.mp3")
	if err := ffmpeg.ExtractClip(ctx, source, clip, 0.5, 2.0); err != nil {
		t.Fatalf("ExtractClip failed: %v", err)
	}
	clipMeta, err := ffmpeg.GetMetadata(ctx, clip)
	if err != nil {
		t.Fatalf("GetMetadata on clip failed: %v", err)
	}
	approx(t, clipMeta.Duration, 1.5, 0.25, "clip duration")

	silence := filepath.Join(dir, "silence.mp3")
	if err := ffmpeg.GenerateSilence(ctx, silence, 0.5); err != nil {
		t.Fatalf("GenerateSilence failed: %v", err)
	}

	combined := filepath.Join(dir, "combined.mp3")
	if err := ffmpeg.Concat(ctx, []string{clip, silence, clip}, dir, combined); err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	combinedMeta, err := ffmpeg.GetMetadata(ctx, combined)
	if err != nil {
		t.Fatalf("GetMetadata on combined failed: %v", err)
	}
	approx(t, combinedMeta.Duration, 3.5, 0.4, "combined duration")

	normalized := filepath.Join(dir, "normalized.mp3")
	if err := ffmpeg.NormalizeLoudness(ctx, combined, normalized); err != nil {
		t.Fatalf("NormalizeLoudness failed: %v", err)
	}
	normalizedMeta, err := ffmpeg.GetMetadata(ctx, normalized)
	if err != nil {
		t.Fatalf("GetMetadata on normalized failed: %v", err)
	}
	approx(t, normalizedMeta.Duration, combinedMeta.Duration, 0.4, "normalized duration")

	tagged := filepath.Join(dir, "tagged.mp3")
	err = ffmpeg.WriteTags(ctx, normalized, tagged, map[string]string{
		"title":  "Weekly Digest",
		"artist": "PodDigest",
		"genre":  "Podcast",
	})
	if err != nil {
		t.Fatalf("WriteTags failed: %v", err)
	}
	taggedMeta, err := ffmpeg.GetMetadata(ctx, tagged)
	if err != nil {
		t.Fatalf("GetMetadata on tagged failed: %v", err)
	}
	if taggedMeta.Title != "Weekly Digest" {
		t.Errorf("Expected title tag to survive, got %q", taggedMeta.Title)
	}
	if taggedMeta.Artist != "PodDigest" {
		t.Errorf("Expected artist tag to survive, got %q", taggedMeta.Artist)
	}
}

// Test error handling for non-existent file
func TestGetMetadataFileNotFound(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 30*time.Second)

	// Skip if binaries not available
	if err := ffmpeg.ValidateBinaries(); err != nil {
		t.Skipf("FFmpeg binaries not available: %v", err)
	}

	ctx := context.Background()

	_, err := ffmpeg.GetMetadata(ctx, "/nonexistent/file.mp3")
	if err == nil {
		t.Errorf("Expected error for non-existent file, got nil")
	}

	// Should be a ProcessingError
	var procErr *ProcessingError
	if !errors.As(err, &procErr) {
		t.Errorf("Expected ProcessingError, got %T", err)
	}
}

func TestMeasureLoudnessMissingFile(t *testing.T) {
	ffmpeg := New("ffmpeg", "ffprobe", 30*time.Second)
	if err := ffmpeg.ValidateBinaries(); err != nil {
		t.Skipf("FFmpeg binaries not available: %v", err)
	}

	ctx := context.Background()
	_, err := ffmpeg.MeasureLoudness(ctx, "/nonexistent/file.mp3")
	if err == nil {
		t.Error("Expected error for non-existent file, got nil")
	}
}
