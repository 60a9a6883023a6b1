package transcriber

import (
	"context"

	"github.com/poddigest/poddigest/pkg/download"
)

// AudioFetcher downloads episode audio for providers that cannot ingest a
// remote URL themselves
type AudioFetcher interface {
	DownloadWithRetry(ctx context.Context, url string, episodeID uint) (*download.DownloadResult, error)
}

// Service defines the interface for the transcribe stage
type Service interface {
	// TranscribeEpisodes processes the episodes one at a time and returns
	// the IDs that ended up with a completed transcript. Per-episode
	// failures are recorded and skipped; the stage fails only when zero
	// episodes transcribe.
	TranscribeEpisodes(ctx context.Context, episodeIDs []uint) ([]uint, error)
}
