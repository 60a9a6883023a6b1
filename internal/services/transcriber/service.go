package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/poddigest/poddigest/internal/metrics"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/services/transcripts"
	"github.com/poddigest/poddigest/pkg/download"
	"github.com/poddigest/poddigest/pkg/stt"
)

// service implements the Service interface
type service struct {
	episodes    episodes.Service
	transcripts transcripts.Service
	provider    stt.Provider
	fetcher     AudioFetcher
}

var _ Service = (*service)(nil)

// NewService creates a new transcribe stage service. The fetcher is only
// consulted when the provider cannot ingest remote URLs.
func NewService(episodeService episodes.Service, transcriptService transcripts.Service, provider stt.Provider, fetcher AudioFetcher) Service {
	return &service{
		episodes:    episodeService,
		transcripts: transcriptService,
		provider:    provider,
		fetcher:     fetcher,
	}
}

// TranscribeEpisodes processes the episodes one at a time
func (s *service) TranscribeEpisodes(ctx context.Context, episodeIDs []uint) ([]uint, error) {
	if len(episodeIDs) == 0 {
		return nil, models.NewStageError("no-transcripts", "transcribe stage received no episodes", "", nil)
	}

	var done []uint
	failed := 0
	for _, episodeID := range episodeIDs {
		if err := s.transcribeEpisode(ctx, episodeID); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			log.Printf("[WARN] Episode %d transcription failed: %v", episodeID, err)
			continue
		}
		done = append(done, episodeID)
	}

	if len(done) == 0 {
		return nil, models.NewStageError("no-transcripts",
			fmt.Sprintf("all %d episodes failed transcription", len(episodeIDs)),
			fmt.Sprintf("provider %s (%s)", s.provider.Name(), s.provider.Model()),
			nil)
	}

	log.Printf("[INFO] Transcribed %d/%d episodes with %s", len(done), len(episodeIDs), s.provider.Name())
	return done, nil
}

// transcribeEpisode runs one episode through the provider and persists the
// outcome. A completed transcript short-circuits.
func (s *service) transcribeEpisode(ctx context.Context, episodeID uint) error {
	episode, err := s.episodes.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}

	existing, err := s.transcripts.GetByEpisodeID(ctx, episodeID)
	if err != nil && !errors.Is(err, transcripts.ErrTranscriptNotFound) {
		return err
	}
	if existing != nil && existing.IsCompleted() {
		log.Printf("[DEBUG] Episode %d already has a transcript, skipping", episodeID)
		s.markEpisode(ctx, episodeID, models.TranscriptStatusCompleted)
		return nil
	}

	s.markEpisode(ctx, episodeID, models.TranscriptStatusProcessing)

	result, err := s.transcribe(ctx, episode)
	if err != nil {
		s.recordFailure(ctx, episodeID, err.Error())
		return fmt.Errorf("provider %s: %w", s.provider.Name(), err)
	}

	segments := toSegments(result.Segments)
	if len(segments) == 0 || strings.TrimSpace(result.Text) == "" {
		s.recordFailure(ctx, episodeID, "empty-transcript")
		return fmt.Errorf("episode %d produced an empty transcript", episodeID)
	}

	transcript := &models.Transcript{
		EpisodeID: episodeID,
		FullText:  result.Text,
		Segments:  segments,
		Language:  result.Language,
		WordCount: result.WordCount(),
		Provider:  s.provider.Name(),
	}
	if err := s.transcripts.SaveCompleted(ctx, transcript); err != nil {
		return fmt.Errorf("saving transcript for episode %d: %w", episodeID, err)
	}

	s.markEpisode(ctx, episodeID, models.TranscriptStatusCompleted)
	return nil
}

// transcribe picks URL mode when the provider supports it, otherwise
// downloads the audio and streams the file
func (s *service) transcribe(ctx context.Context, episode *models.Episode) (*stt.Result, error) {
	if urlTranscriber, ok := s.provider.(stt.URLTranscriber); ok {
		result, err := urlTranscriber.TranscribeURL(ctx, episode.AudioURL)
		metrics.RecordLLMRequest("stt", err)
		return result, err
	}

	if s.fetcher == nil {
		return nil, fmt.Errorf("provider %s needs local audio but no fetcher is configured", s.provider.Name())
	}
	downloaded, err := s.fetcher.DownloadWithRetry(ctx, episode.AudioURL, episode.ID)
	if err != nil {
		return nil, fmt.Errorf("downloading audio: %w", err)
	}
	defer func() {
		if err := download.CleanupTempFile(downloaded.FilePath); err != nil {
			log.Printf("[WARN] Could not remove temp audio %s: %v", downloaded.FilePath, err)
		}
	}()

	result, err := s.provider.TranscribeFile(ctx, downloaded.FilePath)
	metrics.RecordLLMRequest("stt", err)
	return result, err
}

// recordFailure stores the failed attempt on both the transcript row and
// the episode status
func (s *service) recordFailure(ctx context.Context, episodeID uint, message string) {
	if err := s.transcripts.MarkFailed(ctx, episodeID, s.provider.Name(), message); err != nil {
		log.Printf("[ERROR] Recording transcript failure for episode %d: %v", episodeID, err)
	}
	s.markEpisode(ctx, episodeID, models.TranscriptStatusFailed)
}

// markEpisode advances the episode's transcript status. Status bookkeeping
// never blocks the stage; the transcript row is the artifact of record.
func (s *service) markEpisode(ctx context.Context, episodeID uint, status string) {
	if err := s.episodes.MarkTranscript(ctx, episodeID, status); err != nil {
		log.Printf("[WARN] Could not mark episode %d %s: %v", episodeID, status, err)
	}
}

func toSegments(in []stt.Segment) models.SegmentList {
	if len(in) == 0 {
		return nil
	}
	out := make(models.SegmentList, 0, len(in))
	for _, segment := range in {
		out = append(out, models.TranscriptSegment{
			StartSec: segment.Start,
			EndSec:   segment.End,
			Speaker:  segment.Speaker,
			Text:     segment.Text,
		})
	}
	return out
}
