package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Output encoding for every intermediate and final assembly file. Keeping
// all segments on one format lets the concat demuxer join them without
// timestamp drift.
const (
	OutputSampleRate = 44100
	OutputChannels   = 2
	OutputBitrate    = "192k"
)

// Clip edge fades, in seconds. The fade-in is short enough to keep the first
// spoken word intact; the fade-out is longer so cuts mid-sentence land softly.
const (
	ClipFadeInSec  = 0.1
	ClipFadeOutSec = 0.3
)

// ExtractClip cuts [startSec, endSec) out of src into a faded MP3 segment.
func (f *FFmpeg) ExtractClip(ctx context.Context, src, dst string, startSec, endSec float64) error {
	duration := endSec - startSec
	if duration <= 0 {
		return NewProcessingError("clip_extraction", src,
			fmt.Errorf("invalid clip range [%.3f, %.3f)", startSec, endSec), "")
	}

	fadeOutStart := duration - ClipFadeOutSec
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}

	// Input seeking restarts timestamps at zero, so the fade positions are
	// relative to the clip, not the source episode.
	args := []string{
		"-ss", formatSeconds(startSec),
		"-i", src,
		"-t", formatSeconds(duration),
		"-af", fmt.Sprintf("afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
			formatSeconds(ClipFadeInSec), formatSeconds(fadeOutStart), formatSeconds(ClipFadeOutSec)),
		"-ar", fmt.Sprintf("%d", OutputSampleRate),
		"-ac", fmt.Sprintf("%d", OutputChannels),
		"-c:a", "libmp3lame",
		"-b:a", OutputBitrate,
		"-y",
		dst,
	}

	return f.run(ctx, "clip_extraction", src, args)
}

// GenerateSilence writes durationSec of silence as an MP3 segment.
func (f *FFmpeg) GenerateSilence(ctx context.Context, dst string, durationSec float64) error {
	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", OutputSampleRate),
		"-t", formatSeconds(durationSec),
		"-c:a", "libmp3lame",
		"-b:a", OutputBitrate,
		"-y",
		dst,
	}

	return f.run(ctx, "silence_generation", dst, args)
}

// GenerateStinger synthesizes a short transition tone: a sine burst with a
// light vibrato, faded at both edges so it never clicks.
func (f *FFmpeg) GenerateStinger(ctx context.Context, dst string, durationSec float64) error {
	fadeOutStart := durationSec - 0.1
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}

	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=880:sample_rate=%d:duration=%s",
			OutputSampleRate, formatSeconds(durationSec)),
		"-af", fmt.Sprintf("vibrato=f=6:d=0.25,volume=0.4,afade=t=in:st=0:d=0.05,afade=t=out:st=%s:d=0.1",
			formatSeconds(fadeOutStart)),
		"-ac", fmt.Sprintf("%d", OutputChannels),
		"-c:a", "libmp3lame",
		"-b:a", OutputBitrate,
		"-y",
		dst,
	}

	return f.run(ctx, "stinger_generation", dst, args)
}

// Concat joins the segments in order into dst, re-encoding once so mixed
// source encoders cannot introduce timestamp gaps. The demuxer list file is
// written into workDir.
func (f *FFmpeg) Concat(ctx context.Context, segmentPaths []string, workDir, dst string) error {
	if len(segmentPaths) == 0 {
		return NewProcessingError("concatenation", dst,
			fmt.Errorf("no segments to concatenate"), "")
	}

	listPath := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(concatListContent(segmentPaths)), 0o644); err != nil {
		return NewProcessingError("concatenation", dst,
			fmt.Errorf("writing concat list: %w", err), "")
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-ar", fmt.Sprintf("%d", OutputSampleRate),
		"-ac", fmt.Sprintf("%d", OutputChannels),
		"-c:a", "libmp3lame",
		"-b:a", OutputBitrate,
		"-y",
		dst,
	}

	return f.run(ctx, "concatenation", dst, args)
}

// concatListContent renders the concat demuxer's file list. Single quotes in
// paths use the demuxer's quote-escape form.
func concatListContent(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}

// WriteTags copies src to dst adding metadata tags without re-encoding.
func (f *FFmpeg) WriteTags(ctx context.Context, src, dst string, tags map[string]string) error {
	args := []string{
		"-i", src,
		"-c", "copy",
	}

	// Sorted for a stable command line
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", k, tags[k]))
	}

	args = append(args, "-y", dst)

	return f.run(ctx, "tagging", src, args)
}

// formatSeconds renders a duration for an ffmpeg argument with millisecond
// precision.
func formatSeconds(sec float64) string {
	return fmt.Sprintf("%.3f", sec)
}
