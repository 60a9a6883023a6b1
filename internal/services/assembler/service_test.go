package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/storage"
	"github.com/poddigest/poddigest/pkg/download"
	"github.com/poddigest/poddigest/pkg/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type extractCall struct {
	src      string
	dst      string
	startSec float64
	endSec   float64
}

// fakeRenderer stands in for the ffmpeg wrapper. Every output it is asked
// for becomes a marker file so downstream steps can stat their inputs.
type fakeRenderer struct {
	t      *testing.T
	failOn string
	probed float64

	extracts   []extractCall
	silences   []float64
	stingers   []float64
	concats    [][]string
	normalized []string
	tags       map[string]string
	probeCalls int
}

func (r *fakeRenderer) fail(op, file string) error {
	if r.failOn != "" && strings.Contains(op, r.failOn) {
		return ffmpeg.NewProcessingError(op, file, errors.New("exit status 1"), "simulated ffmpeg failure")
	}
	return nil
}

func (r *fakeRenderer) write(path string) {
	r.t.Helper()
	require.NoError(r.t, os.WriteFile(path, []byte("audio:"+filepath.Base(path)), 0o644))
}

func (r *fakeRenderer) ExtractClip(ctx context.Context, src, dst string, startSec, endSec float64) error {
	if err := r.fail("clip_extraction", dst); err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("extract source missing: %w", err)
	}
	r.extracts = append(r.extracts, extractCall{src: src, dst: dst, startSec: startSec, endSec: endSec})
	r.write(dst)
	return nil
}

func (r *fakeRenderer) GenerateSilence(ctx context.Context, dst string, durationSec float64) error {
	if err := r.fail("silence_generation", dst); err != nil {
		return err
	}
	r.silences = append(r.silences, durationSec)
	r.write(dst)
	return nil
}

func (r *fakeRenderer) GenerateStinger(ctx context.Context, dst string, durationSec float64) error {
	if err := r.fail("stinger_generation", dst); err != nil {
		return err
	}
	r.stingers = append(r.stingers, durationSec)
	r.write(dst)
	return nil
}

func (r *fakeRenderer) Concat(ctx context.Context, segmentPaths []string, workDir, dst string) error {
	if err := r.fail("concatenation", dst); err != nil {
		return err
	}
	for _, p := range segmentPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("concat input missing: %w", err)
		}
	}
	r.concats = append(r.concats, append([]string(nil), segmentPaths...))
	r.write(dst)
	return nil
}

func (r *fakeRenderer) NormalizeLoudness(ctx context.Context, src, dst string) error {
	if err := r.fail("loudness_correction", dst); err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("normalize input missing: %w", err)
	}
	r.normalized = append(r.normalized, src)
	r.write(dst)
	return nil
}

func (r *fakeRenderer) WriteTags(ctx context.Context, src, dst string, tags map[string]string) error {
	if err := r.fail("tag_writing", dst); err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("tag input missing: %w", err)
	}
	r.tags = tags
	r.write(dst)
	return nil
}

func (r *fakeRenderer) GetMetadata(ctx context.Context, filePath string) (*ffmpeg.AudioMetadata, error) {
	if err := r.fail("metadata_probe", filePath); err != nil {
		return nil, err
	}
	r.probeCalls++
	return &ffmpeg.AudioMetadata{Duration: r.probed}, nil
}

type fakeFetcher struct {
	t         *testing.T
	dir       string
	err       error
	downloads []string
}

func (f *fakeFetcher) DownloadWithRetry(ctx context.Context, url string, episodeID uint) (*download.DownloadResult, error) {
	f.downloads = append(f.downloads, url)
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("download-%d.tmp", episodeID))
	require.NoError(f.t, os.WriteFile(path, []byte("origin audio"), 0o644))
	return &download.DownloadResult{FilePath: path}, nil
}

type testEnv struct {
	db       *gorm.DB
	digests  digests.Service
	episodes episodes.Service
	store    storage.Store
	renderer *fakeRenderer
	fetcher  *fakeFetcher
	scratch  string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Podcast{}, &models.Episode{}, &models.Digest{}, &models.DigestClip{}))

	store, err := storage.NewFilesystemStore(t.TempDir(), "https://cdn.example.com")
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		digests:  digests.NewService(digests.NewRepository(db)),
		episodes: episodes.NewService(episodes.NewRepository(db)),
		store:    store,
		renderer: &fakeRenderer{t: t, probed: 1},
		fetcher:  &fakeFetcher{t: t, dir: t.TempDir()},
		scratch:  t.TempDir(),
	}
}

func (e *testEnv) newAssembler() Service {
	return NewService(e.digests, e.episodes, e.renderer, e.fetcher, e.store, Config{ScratchRoot: e.scratch})
}

func (e *testEnv) scratchDir(digestID string) string {
	return filepath.Join(e.scratch, ScratchPrefix+digestID)
}

func (e *testEnv) seedEpisode(t *testing.T, podcastTitle, episodeTitle, guid string) *models.Episode {
	t.Helper()

	podcast := &models.Podcast{Title: podcastTitle, FeedURL: "https://feeds.example.com/" + guid}
	require.NoError(t, e.db.Create(podcast).Error)
	ep := &models.Episode{
		PodcastID:   podcast.ID,
		GUID:        guid,
		Title:       episodeTitle,
		AudioURL:    "https://cdn.example.com/" + guid + ".mp3",
		PublishedAt: time.Now().UTC().AddDate(0, 0, -2),
	}
	require.NoError(t, e.db.Create(ep).Error)
	return ep
}

func (e *testEnv) seedDigest(t *testing.T, clips []models.DigestClip) *models.Digest {
	t.Helper()
	ctx := context.Background()

	weekEnd := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	digest, err := e.digests.CreateDigest(ctx, "user-1", 1, weekEnd.AddDate(0, 0, -7), weekEnd)
	require.NoError(t, err)
	if len(clips) > 0 {
		require.NoError(t, e.digests.SaveSelection(ctx, digest.ID, clips))
	}
	return digest
}

// seedNarrations uploads one stored object per narration and returns the
// payload the narrate stage would hand over.
func (e *testEnv) seedNarrations(t *testing.T, digestID string, durations []float64) []models.NarrationAudio {
	t.Helper()
	ctx := context.Background()

	clipCount := len(durations) - 2
	narrations := make([]models.NarrationAudio, len(durations))
	for i, d := range durations {
		kind := models.NarrationKindAt(i, clipCount)
		key := storage.NarrationKey(digestID, i, kind)
		require.NoError(t, e.store.Put(ctx, key, strings.NewReader("narration "+kind), "audio/mpeg", nil))
		narrations[i] = models.NarrationAudio{Position: i, Kind: kind, ObjectKey: key, DurationSec: d}
	}
	return narrations
}

func (e *testEnv) cacheEpisodeAudio(t *testing.T, episodeID uint) {
	t.Helper()
	key := storage.EpisodeAudioKey(episodeID)
	require.NoError(t, e.store.Put(context.Background(), key, strings.NewReader("cached audio"), "audio/mpeg", nil))
}

func TestAssembleChapterFidelity(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	one := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
	two := env.seedEpisode(t, "Acme Radio Extra", "Night Builds", "acme-2")
	three := env.seedEpisode(t, "Zebra Hour", "Night Trains", "zebra-1")

	digest := env.seedDigest(t, []models.DigestClip{
		{EpisodeID: one.ID, StartSec: 100, EndSec: 400, Score: 90, Position: 0},
		{EpisodeID: two.ID, StartSec: 50, EndSec: 290, Score: 84, Position: 1},
		{EpisodeID: three.ID, StartSec: 0, EndSec: 180, Score: 78, Position: 2},
	})
	narrations := env.seedNarrations(t, digest.ID, []float64{20, 30, 28, 32, 18})

	// First two episodes are cached, the third must come from origin
	env.cacheEpisodeAudio(t, one.ID)
	env.cacheEpisodeAudio(t, two.ID)
	env.renderer.probed = 852.4

	config := &models.DigestConfig{TransitionStyle: models.TransitionSoftFade}
	result, err := env.newAssembler().Assemble(ctx, digest.ID, narrations, config)
	require.NoError(t, err)

	assert.Equal(t, storage.DigestAudioKey(digest.ID), result.AudioObjectKey)
	assert.InDelta(t, 852.4, result.TotalDurationSec, 0.001)

	require.Len(t, result.Chapters, 3)
	assert.Equal(t, "Acme Radio: Shipping Week", result.Chapters[0].Title)
	assert.InDelta(t, 51.2, result.Chapters[0].StartSec, 0.001)
	assert.InDelta(t, 351.2, result.Chapters[0].EndSec, 0.001)
	assert.Equal(t, "Acme Radio Extra: Night Builds", result.Chapters[1].Title)
	assert.InDelta(t, 380.4, result.Chapters[1].StartSec, 0.001)
	assert.InDelta(t, 620.4, result.Chapters[1].EndSec, 0.001)
	assert.Equal(t, "Zebra Hour: Night Trains", result.Chapters[2].Title)
	assert.InDelta(t, 653.6, result.Chapters[2].StartSec, 0.001)
	assert.InDelta(t, 833.6, result.Chapters[2].EndSec, 0.001)

	// Only the uncached episode hit the origin
	assert.Equal(t, []string{three.AudioURL}, env.fetcher.downloads)

	// Bumper gap is pad + tone + pad, generated once and reused
	assert.Equal(t, []float64{0.15}, env.renderer.silences)
	assert.Equal(t, []float64{0.3}, env.renderer.stingers)

	require.Len(t, env.renderer.extracts, 3)
	assert.InDelta(t, 100, env.renderer.extracts[0].startSec, 0.001)
	assert.InDelta(t, 400, env.renderer.extracts[0].endSec, 0.001)

	// 8 playlist segments with a 3-file gap between each adjacent pair
	require.Len(t, env.renderer.concats, 1)
	paths := env.renderer.concats[0]
	require.Len(t, paths, 29)
	assert.Equal(t, "narration-0.mp3", filepath.Base(paths[0]))
	assert.Equal(t, "narration-1.mp3", filepath.Base(paths[4]))
	assert.Equal(t, "clip-00.mp3", filepath.Base(paths[8]))
	assert.Equal(t, "narration-4.mp3", filepath.Base(paths[28]))

	require.NotNil(t, env.renderer.tags)
	assert.Equal(t, "PodDigest", env.renderer.tags["artist"])
	assert.Equal(t, "Podcast", env.renderer.tags["genre"])
	assert.Equal(t, "2026", env.renderer.tags["date"])

	// Uploaded object and persisted metadata agree with the result
	info, err := env.store.Head(ctx, result.AudioObjectKey)
	require.NoError(t, err)
	assert.Greater(t, info.Size, int64(0))

	saved, err := env.digests.GetDigest(ctx, digest.ID)
	require.NoError(t, err)
	assert.Equal(t, result.AudioObjectKey, saved.AudioObjectKey)
	assert.InDelta(t, 852.4, saved.TotalDurationSec, 0.001)
	require.Len(t, saved.Chapters, 3)
	assert.InDelta(t, 653.6, saved.Chapters[2].StartSec, 0.001)

	_, err = os.Stat(env.scratchDir(digest.ID))
	assert.True(t, os.IsNotExist(err), "scratch dir should be removed after success")
}

func TestAssembleSilenceStyle(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	ep := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
	digest := env.seedDigest(t, []models.DigestClip{
		{EpisodeID: ep.ID, StartSec: 0, EndSec: 120, Score: 90, Position: 0},
	})
	narrations := env.seedNarrations(t, digest.ID, []float64{10, 5, 8})
	env.cacheEpisodeAudio(t, ep.ID)
	env.renderer.probed = 144.6

	config := &models.DigestConfig{TransitionStyle: models.TransitionSilence}
	result, err := env.newAssembler().Assemble(ctx, digest.ID, narrations, config)
	require.NoError(t, err)

	// 4 playlist segments separated by a single half-second pad
	require.Len(t, env.renderer.concats, 1)
	assert.Len(t, env.renderer.concats[0], 7)
	assert.Equal(t, []float64{0.5}, env.renderer.silences)
	assert.Empty(t, env.renderer.stingers)

	require.Len(t, result.Chapters, 1)
	assert.InDelta(t, 16.0, result.Chapters[0].StartSec, 0.001)
	assert.InDelta(t, 136.0, result.Chapters[0].EndSec, 0.001)
}

func TestAssembleRenderFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	ep := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
	digest := env.seedDigest(t, []models.DigestClip{
		{EpisodeID: ep.ID, StartSec: 0, EndSec: 120, Score: 90, Position: 0},
	})
	narrations := env.seedNarrations(t, digest.ID, []float64{10, 5, 8})
	env.cacheEpisodeAudio(t, ep.ID)
	env.renderer.failOn = "concatenation"

	config := &models.DigestConfig{TransitionStyle: models.TransitionSilence}
	_, err := env.newAssembler().Assemble(ctx, digest.ID, narrations, config)
	require.Error(t, err)

	var jobErr *models.StructuredJobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, models.ErrorTypeStage, jobErr.Type)
	assert.Equal(t, "render-failed", jobErr.Code)
	assert.True(t, jobErr.IsPermanent())

	saved, getErr := env.digests.GetDigest(ctx, digest.ID)
	require.NoError(t, getErr)
	assert.Empty(t, saved.AudioObjectKey)

	_, statErr := os.Stat(env.scratchDir(digest.ID))
	assert.True(t, os.IsNotExist(statErr), "scratch dir should be removed after failure")
}

func TestAssembleSourceFetchFailure(t *testing.T) {
	t.Run("missing narration object", func(t *testing.T) {
		env := setupTestEnv(t)
		ep := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
		digest := env.seedDigest(t, []models.DigestClip{
			{EpisodeID: ep.ID, StartSec: 0, EndSec: 120, Score: 90, Position: 0},
		})
		env.cacheEpisodeAudio(t, ep.ID)

		// Hand over keys that were never uploaded
		narrations := []models.NarrationAudio{
			{Position: 0, Kind: models.NarrationKindIntro, ObjectKey: "narrations/missing/0.mp3", DurationSec: 10},
			{Position: 1, Kind: models.NarrationKindTransition, ObjectKey: "narrations/missing/1.mp3", DurationSec: 5},
			{Position: 2, Kind: models.NarrationKindOutro, ObjectKey: "narrations/missing/2.mp3", DurationSec: 8},
		}
		config := &models.DigestConfig{TransitionStyle: models.TransitionSilence}
		_, err := env.newAssembler().Assemble(context.Background(), digest.ID, narrations, config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "narrations/missing/0.mp3")

		var jobErr *models.StructuredJobError
		assert.False(t, errors.As(err, &jobErr), "fetch failures should stay retryable")
	})

	t.Run("origin download failure", func(t *testing.T) {
		env := setupTestEnv(t)
		ep := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
		digest := env.seedDigest(t, []models.DigestClip{
			{EpisodeID: ep.ID, StartSec: 0, EndSec: 120, Score: 90, Position: 0},
		})
		narrations := env.seedNarrations(t, digest.ID, []float64{10, 5, 8})
		env.fetcher.err = errors.New("origin returned 503")

		config := &models.DigestConfig{TransitionStyle: models.TransitionSilence}
		_, err := env.newAssembler().Assemble(context.Background(), digest.ID, narrations, config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "origin returned 503")
		assert.Equal(t, []string{ep.AudioURL}, env.fetcher.downloads)

		var jobErr *models.StructuredJobError
		assert.False(t, errors.As(err, &jobErr), "fetch failures should stay retryable")
	})
}

func TestAssembleNarrationCountMismatch(t *testing.T) {
	env := setupTestEnv(t)

	ep := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
	digest := env.seedDigest(t, []models.DigestClip{
		{EpisodeID: ep.ID, StartSec: 0, EndSec: 120, Score: 90, Position: 0},
	})
	// Two narrations for one clip, the outro is missing
	narrations := env.seedNarrations(t, digest.ID, []float64{10, 5, 8})[:2]

	config := &models.DigestConfig{TransitionStyle: models.TransitionSilence}
	_, err := env.newAssembler().Assemble(context.Background(), digest.ID, narrations, config)
	require.Error(t, err)

	var jobErr *models.StructuredJobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, models.ErrorTypeContract, jobErr.Type)
	assert.Equal(t, "narration-mismatch", jobErr.Code)
	assert.True(t, jobErr.IsPermanent())
	assert.Empty(t, env.renderer.extracts)
}

func TestAssembleRequiresClips(t *testing.T) {
	env := setupTestEnv(t)
	digest := env.seedDigest(t, nil)

	config := &models.DigestConfig{TransitionStyle: models.TransitionSilence}
	_, err := env.newAssembler().Assemble(context.Background(), digest.ID, nil, config)
	require.Error(t, err)

	var jobErr *models.StructuredJobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "no-clips", jobErr.Code)
	assert.True(t, jobErr.IsPermanent())
}

func TestAssembleClampsFinalChapter(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	one := env.seedEpisode(t, "Acme Radio", "Shipping Week", "acme-1")
	two := env.seedEpisode(t, "Acme Radio Extra", "Night Builds", "acme-2")
	three := env.seedEpisode(t, "Zebra Hour", "Night Trains", "zebra-1")

	digest := env.seedDigest(t, []models.DigestClip{
		{EpisodeID: one.ID, StartSec: 100, EndSec: 400, Score: 90, Position: 0},
		{EpisodeID: two.ID, StartSec: 50, EndSec: 290, Score: 84, Position: 1},
		{EpisodeID: three.ID, StartSec: 0, EndSec: 180, Score: 78, Position: 2},
	})
	narrations := env.seedNarrations(t, digest.ID, []float64{20, 30, 28, 32, 18})
	for _, ep := range []*models.Episode{one, two, three} {
		env.cacheEpisodeAudio(t, ep.ID)
	}

	// Encoder overhead shaved the tail below the analytic chapter end
	env.renderer.probed = 830

	config := &models.DigestConfig{TransitionStyle: models.TransitionStinger}
	result, err := env.newAssembler().Assemble(ctx, digest.ID, narrations, config)
	require.NoError(t, err)

	assert.InDelta(t, 830, result.TotalDurationSec, 0.001)
	require.Len(t, result.Chapters, 3)
	assert.InDelta(t, 653.6, result.Chapters[2].StartSec, 0.001)
	assert.InDelta(t, 830, result.Chapters[2].EndSec, 0.001)

	saved, err := env.digests.GetDigest(ctx, digest.ID)
	require.NoError(t, err)
	assert.InDelta(t, 830, saved.TotalDurationSec, 0.001)
}
