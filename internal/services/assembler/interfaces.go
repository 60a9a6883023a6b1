package assembler

import (
	"context"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/pkg/download"
	"github.com/poddigest/poddigest/pkg/ffmpeg"
)

// Renderer is the slice of the ffmpeg wrapper the assembler drives.
// Satisfied by *ffmpeg.FFmpeg.
type Renderer interface {
	ExtractClip(ctx context.Context, src, dst string, startSec, endSec float64) error
	GenerateSilence(ctx context.Context, dst string, durationSec float64) error
	GenerateStinger(ctx context.Context, dst string, durationSec float64) error
	Concat(ctx context.Context, segmentPaths []string, workDir, dst string) error
	NormalizeLoudness(ctx context.Context, src, dst string) error
	WriteTags(ctx context.Context, src, dst string, tags map[string]string) error
	GetMetadata(ctx context.Context, filePath string) (*ffmpeg.AudioMetadata, error)
}

// AudioFetcher downloads episode audio from its origin URL when the object
// store has no cached copy. Satisfied by *download.Downloader.
type AudioFetcher interface {
	DownloadWithRetry(ctx context.Context, url string, episodeID uint) (*download.DownloadResult, error)
}

// Result is what a finished assembly produced
type Result struct {
	AudioObjectKey   string
	TotalDurationSec float64
	Chapters         models.ChapterList
}

// Service defines the business logic interface for digest assembly
type Service interface {
	// Assemble renders the digest audio: fetch sources, extract faded
	// clips, interleave narration with transition gaps, concatenate,
	// normalize loudness, tag, upload and persist the chapter index.
	Assemble(ctx context.Context, digestID string, narrations []models.NarrationAudio, config *models.DigestConfig) (*Result, error)
}
