package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Loudness targets for the final render, after EBU R128.
const (
	LoudnormIntegrated = -16.0 // LUFS
	LoudnormTruePeak   = -1.5  // dBTP
	LoudnormRange      = 11.0  // LU
)

// LoudnormStats holds the first-pass measurements the loudnorm filter prints.
// The filter emits every number as a JSON string.
type LoudnormStats struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	TargetOffset string `json:"target_offset"`
}

// MeasureLoudness runs the loudnorm analysis pass and returns the
// measurements needed for a linear correction pass.
func (f *FFmpeg) MeasureLoudness(ctx context.Context, src string) (*LoudnormStats, error) {
	args := []string{
		"-hide_banner",
		"-i", src,
		"-af", fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g:print_format=json",
			LoudnormIntegrated, LoudnormTruePeak, LoudnormRange),
		"-f", "null",
		"-",
	}

	stderr, err := f.runCapture(ctx, "loudness_measurement", src, args)
	if err != nil {
		return nil, err
	}

	stats, err := parseLoudnormStats(stderr)
	if err != nil {
		return nil, NewProcessingError("loudness_measurement", src, err, stderr)
	}

	return stats, nil
}

// NormalizeLoudness applies a two-pass loudness correction: measure first,
// then correct linearly from the measurements so dynamics survive intact.
func (f *FFmpeg) NormalizeLoudness(ctx context.Context, src, dst string) error {
	stats, err := f.MeasureLoudness(ctx, src)
	if err != nil {
		return err
	}

	filter := fmt.Sprintf(
		"loudnorm=I=%g:TP=%g:LRA=%g:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		LoudnormIntegrated, LoudnormTruePeak, LoudnormRange,
		stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh, stats.TargetOffset,
	)

	args := []string{
		"-i", src,
		"-af", filter,
		"-ar", fmt.Sprintf("%d", OutputSampleRate),
		"-ac", fmt.Sprintf("%d", OutputChannels),
		"-c:a", "libmp3lame",
		"-b:a", OutputBitrate,
		"-y",
		dst,
	}

	return f.run(ctx, "loudness_correction", src, args)
}

// parseLoudnormStats extracts the JSON block loudnorm appends to stderr.
func parseLoudnormStats(stderr string) (*LoudnormStats, error) {
	start := strings.LastIndex(stderr, "{")
	if start < 0 {
		return nil, fmt.Errorf("no loudnorm measurements in output")
	}

	end := strings.Index(stderr[start:], "}")
	if end < 0 {
		return nil, fmt.Errorf("unterminated loudnorm measurements in output")
	}

	var stats LoudnormStats
	if err := json.Unmarshal([]byte(stderr[start:start+end+1]), &stats); err != nil {
		return nil, fmt.Errorf("parsing loudnorm measurements: %w", err)
	}

	if stats.InputI == "" || stats.InputTP == "" {
		return nil, fmt.Errorf("incomplete loudnorm measurements")
	}

	return &stats, nil
}
