package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/storage"
	"github.com/poddigest/poddigest/pkg/download"
)

// ScratchPrefix names per-digest scratch directories under the scratch
// root. The cleanup sweep keys on it.
const ScratchPrefix = "poddigest-"

// Inter-segment gap geometry. Silence style uses one flat pad; every
// other style uses pad + tone + pad.
const (
	silenceGapSec = 0.5
	bumperPadSec  = 0.15
	bumperToneSec = 0.3
)

// maxChapterTitleChars caps chapter titles, ellipsis included
const maxChapterTitleChars = 80

// Config holds tunables for the assembler service
type Config struct {
	// ScratchRoot hosts the per-digest working directories.
	// Defaults to the system temp dir.
	ScratchRoot string
}

type service struct {
	digests  digests.Service
	episodes episodes.Service
	renderer Renderer
	fetcher  AudioFetcher
	store    storage.Store
	cfg      Config
}

// NewService creates a new assembler service
func NewService(digestService digests.Service, episodeService episodes.Service, renderer Renderer, fetcher AudioFetcher, store storage.Store, cfg Config) Service {
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = os.TempDir()
	}
	return &service{
		digests:  digestService,
		episodes: episodeService,
		renderer: renderer,
		fetcher:  fetcher,
		store:    store,
		cfg:      cfg,
	}
}

// segment is one atomic input to the concatenation: a narration file or
// an extracted clip. clipIndex is -1 for narration.
type segment struct {
	path      string
	duration  float64
	clipIndex int
	title     string
}

// Assemble renders, uploads and records the digest audio
func (s *service) Assemble(ctx context.Context, digestID string, narrations []models.NarrationAudio, config *models.DigestConfig) (*Result, error) {
	if config == nil {
		return nil, fmt.Errorf("assembling digest %s: config is required", digestID)
	}

	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return nil, fmt.Errorf("loading digest %s: %w", digestID, err)
	}
	if len(digest.Clips) == 0 {
		return nil, models.NewContractError("no-clips", "digest has no selected clips to assemble",
			fmt.Sprintf("digest %s", digestID), nil)
	}

	ordered, err := orderedNarrations(narrations, len(digest.Clips))
	if err != nil {
		return nil, err
	}

	epsByID, err := s.episodesForClips(ctx, digest)
	if err != nil {
		return nil, err
	}

	scratch := filepath.Join(s.cfg.ScratchRoot, ScratchPrefix+digestID)
	// A crashed earlier run may have left the directory behind
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("clearing scratch dir %s: %w", scratch, err)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir %s: %w", scratch, err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Printf("[WARN] assembler: removing scratch dir %s: %v", scratch, err)
		}
	}()

	narrPaths, err := s.fetchNarrations(ctx, scratch, ordered)
	if err != nil {
		return nil, err
	}
	sourcePaths, err := s.fetchSources(ctx, scratch, digest, epsByID)
	if err != nil {
		return nil, err
	}

	clipPaths := make([]string, len(digest.Clips))
	for i := range digest.Clips {
		clip := &digest.Clips[i]
		dst := filepath.Join(scratch, fmt.Sprintf("clip-%02d.mp3", i))
		if err := s.renderer.ExtractClip(ctx, sourcePaths[clip.EpisodeID], dst, clip.StartSec, clip.EndSec); err != nil {
			return nil, renderFailed(fmt.Sprintf("extracting clip %d of digest %s", i, digestID), err)
		}
		clipPaths[i] = dst
	}

	playlist := buildPlaylist(digest.Clips, ordered, narrPaths, clipPaths, epsByID)

	gapPaths, gapSec, err := s.buildGap(ctx, scratch, config.TransitionStyle)
	if err != nil {
		return nil, err
	}

	combined := filepath.Join(scratch, "combined.mp3")
	if err := s.renderer.Concat(ctx, interleave(playlist, gapPaths), scratch, combined); err != nil {
		return nil, renderFailed(fmt.Sprintf("concatenating digest %s", digestID), err)
	}

	normalized := filepath.Join(scratch, "normalized.mp3")
	if err := s.renderer.NormalizeLoudness(ctx, combined, normalized); err != nil {
		return nil, renderFailed(fmt.Sprintf("normalizing digest %s", digestID), err)
	}

	chapters, analyticTotal := chapterIndex(playlist, gapSec)

	meta, err := s.renderer.GetMetadata(ctx, normalized)
	if err != nil {
		return nil, renderFailed(fmt.Sprintf("probing digest %s", digestID), err)
	}
	total := meta.Duration
	if total <= 0 {
		log.Printf("[WARN] assembler: probe returned no duration for digest %s, using analytic %.1fs", digestID, analyticTotal)
		total = analyticTotal
	}
	if n := len(chapters); n > 0 && chapters[n-1].EndSec > total {
		chapters[n-1].EndSec = total
	}

	tagged := filepath.Join(scratch, "digest.mp3")
	tags := map[string]string{
		"title":  digest.Title,
		"artist": "PodDigest",
		"album":  "PodDigest Weekly Digests",
		"genre":  "Podcast",
		"date":   strconv.Itoa(digest.WeekEnd.UTC().Year()),
	}
	if err := s.renderer.WriteTags(ctx, normalized, tagged, tags); err != nil {
		return nil, renderFailed(fmt.Sprintf("tagging digest %s", digestID), err)
	}

	key := storage.DigestAudioKey(digestID)
	if err := s.upload(ctx, tagged, key, digestID, len(digest.Clips), total); err != nil {
		return nil, err
	}

	if err := s.digests.SetAudioMetadata(ctx, digestID, key, total, chapters); err != nil {
		return nil, fmt.Errorf("recording audio metadata for digest %s: %w", digestID, err)
	}

	log.Printf("[INFO] assembler: digest %s rendered to %s (%.1fs, %d clips, %d chapters)",
		digestID, key, total, len(digest.Clips), len(chapters))
	return &Result{AudioObjectKey: key, TotalDurationSec: total, Chapters: chapters}, nil
}

// orderedNarrations returns the narration set sorted by position after
// checking it covers exactly intro + one transition per clip + outro.
func orderedNarrations(narrations []models.NarrationAudio, clipCount int) ([]models.NarrationAudio, error) {
	want := clipCount + 2
	if len(narrations) != want {
		return nil, models.NewContractError("narration-mismatch", "narration set does not match the clip count",
			fmt.Sprintf("%d narrations for %d clips, expected %d", len(narrations), clipCount, want), nil)
	}

	ordered := make([]models.NarrationAudio, len(narrations))
	copy(ordered, narrations)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for i := range ordered {
		if ordered[i].Position != i {
			return nil, models.NewContractError("narration-mismatch", "narration positions are not contiguous",
				fmt.Sprintf("position %d found at slot %d", ordered[i].Position, i), nil)
		}
	}
	return ordered, nil
}

func (s *service) episodesForClips(ctx context.Context, digest *models.Digest) (map[uint]*models.Episode, error) {
	ids := make([]uint, 0, len(digest.Clips))
	seen := make(map[uint]bool)
	for i := range digest.Clips {
		if id := digest.Clips[i].EpisodeID; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	eps, err := s.episodes.GetEpisodesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading episodes for digest %s: %w", digest.ID, err)
	}
	byID := make(map[uint]*models.Episode, len(eps))
	for i := range eps {
		byID[eps[i].ID] = &eps[i]
	}
	for _, id := range ids {
		if byID[id] == nil {
			return nil, fmt.Errorf("episode %d referenced by digest %s no longer exists", id, digest.ID)
		}
	}
	return byID, nil
}

func (s *service) fetchNarrations(ctx context.Context, scratch string, narrations []models.NarrationAudio) ([]string, error) {
	paths := make([]string, len(narrations))
	for i, na := range narrations {
		dst := filepath.Join(scratch, fmt.Sprintf("narration-%d.mp3", na.Position))
		if err := s.fetchObject(ctx, na.ObjectKey, dst); err != nil {
			return nil, fmt.Errorf("fetching narration %s: %w", na.ObjectKey, err)
		}
		paths[i] = dst
	}
	return paths, nil
}

func (s *service) fetchSources(ctx context.Context, scratch string, digest *models.Digest, epsByID map[uint]*models.Episode) (map[uint]string, error) {
	paths := make(map[uint]string, len(epsByID))
	for id, ep := range epsByID {
		dst := filepath.Join(scratch, fmt.Sprintf("source-%d.mp3", id))
		if err := s.fetchEpisodeAudio(ctx, ep, dst); err != nil {
			return nil, fmt.Errorf("fetching audio for episode %d of digest %s: %w", id, digest.ID, err)
		}
		paths[id] = dst
	}
	return paths, nil
}

// fetchEpisodeAudio prefers the object store's cached copy and streams
// from the origin URL on a miss.
func (s *service) fetchEpisodeAudio(ctx context.Context, ep *models.Episode, dst string) error {
	key := storage.EpisodeAudioKey(ep.ID)
	rc, err := s.store.Get(ctx, key)
	if err == nil {
		defer rc.Close()
		log.Printf("[DEBUG] assembler: episode %d audio served from cache %s", ep.ID, key)
		return writeFileFrom(dst, rc)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[WARN] assembler: reading cached audio for episode %d, trying origin: %v", ep.ID, err)
	}

	if ep.AudioURL == "" {
		return fmt.Errorf("episode %d has no audio url", ep.ID)
	}
	result, err := s.fetcher.DownloadWithRetry(ctx, ep.AudioURL, ep.ID)
	if err != nil {
		return err
	}
	defer download.CleanupTempFile(result.FilePath)
	return copyFile(result.FilePath, dst)
}

func (s *service) fetchObject(ctx context.Context, key, dst string) error {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFileFrom(dst, rc)
}

// buildGap renders the reusable inter-segment gap files once per run
func (s *service) buildGap(ctx context.Context, scratch, style string) ([]string, float64, error) {
	if style == models.TransitionSilence {
		pad := filepath.Join(scratch, "gap-silence.mp3")
		if err := s.renderer.GenerateSilence(ctx, pad, silenceGapSec); err != nil {
			return nil, 0, renderFailed("generating silence gap", err)
		}
		return []string{pad}, silenceGapSec, nil
	}

	pad := filepath.Join(scratch, "gap-pad.mp3")
	if err := s.renderer.GenerateSilence(ctx, pad, bumperPadSec); err != nil {
		return nil, 0, renderFailed("generating gap padding", err)
	}
	tone := filepath.Join(scratch, "gap-tone.mp3")
	if err := s.renderer.GenerateStinger(ctx, tone, bumperToneSec); err != nil {
		return nil, 0, renderFailed("generating transition tone", err)
	}
	return []string{pad, tone, pad}, 2*bumperPadSec + bumperToneSec, nil
}

// buildPlaylist orders segments intro, then transition+clip pairs, then
// outro. Narrations arrive position-sorted.
func buildPlaylist(clips []models.DigestClip, narrations []models.NarrationAudio, narrPaths, clipPaths []string, epsByID map[uint]*models.Episode) []segment {
	playlist := make([]segment, 0, 2*len(clips)+2)
	playlist = append(playlist, segment{path: narrPaths[0], duration: narrations[0].DurationSec, clipIndex: -1})
	for i := range clips {
		playlist = append(playlist, segment{path: narrPaths[i+1], duration: narrations[i+1].DurationSec, clipIndex: -1})

		ep := epsByID[clips[i].EpisodeID]
		playlist = append(playlist, segment{
			path:      clipPaths[i],
			duration:  clips[i].DurationSec(),
			clipIndex: i,
			title:     chapterTitle(ep.Podcast.Title, ep.Title),
		})
	}
	last := len(narrations) - 1
	playlist = append(playlist, segment{path: narrPaths[last], duration: narrations[last].DurationSec, clipIndex: -1})
	return playlist
}

func interleave(playlist []segment, gapPaths []string) []string {
	out := make([]string, 0, len(playlist)*(1+len(gapPaths)))
	for i, seg := range playlist {
		if i > 0 {
			out = append(out, gapPaths...)
		}
		out = append(out, seg.path)
	}
	return out
}

// chapterIndex computes clip chapters analytically from segment durations
// and the inter-segment gap.
func chapterIndex(playlist []segment, gapSec float64) (models.ChapterList, float64) {
	var chapters models.ChapterList
	cursor := 0.0
	for i, seg := range playlist {
		if i > 0 {
			cursor += gapSec
		}
		if seg.clipIndex >= 0 {
			chapters = append(chapters, models.Chapter{
				Title:    seg.title,
				StartSec: cursor,
				EndSec:   cursor + seg.duration,
			})
		}
		cursor += seg.duration
	}
	return chapters, cursor
}

func chapterTitle(podcastTitle, episodeTitle string) string {
	title := fmt.Sprintf("%s: %s", podcastTitle, episodeTitle)
	if runes := []rune(title); len(runes) > maxChapterTitleChars {
		title = string(runes[:maxChapterTitleChars-3]) + "..."
	}
	return title
}

func (s *service) upload(ctx context.Context, path, key, digestID string, clipCount int, totalSec float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening rendered digest: %w", err)
	}
	defer f.Close()

	meta := map[string]string{
		"digestId":         digestID,
		"clipCount":        strconv.Itoa(clipCount),
		"totalDurationSec": strconv.FormatFloat(totalSec, 'f', 1, 64),
	}
	if err := s.store.Put(ctx, key, f, "audio/mpeg", meta); err != nil {
		return fmt.Errorf("uploading digest audio %s: %w", key, err)
	}
	return nil
}

func renderFailed(step string, err error) error {
	return models.NewStageError("render-failed", "audio rendering failed", step, err)
}

func writeFileFrom(dst string, r io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFileFrom(dst, in)
}
