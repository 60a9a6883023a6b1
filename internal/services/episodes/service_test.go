package episodes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Podcast{}, &models.Episode{}))

	return NewService(NewRepository(db)), db
}

func seedPodcast(t *testing.T, db *gorm.DB, title string) *models.Podcast {
	t.Helper()
	podcast := &models.Podcast{Title: title, FeedURL: "https://feeds.example.com/" + title + ".xml"}
	require.NoError(t, db.Create(podcast).Error)
	return podcast
}

func TestUpsertEpisodeCreatesThenRefreshes(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	podcast := seedPodcast(t, db, "show")

	episode := &models.Episode{
		PodcastID:   podcast.ID,
		GUID:        "guid-1",
		Title:       "Episode One",
		AudioURL:    "https://cdn.example.com/1.mp3",
		Duration:    1800,
		PublishedAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}

	created, err := service.UpsertEpisode(ctx, episode)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, episode.ID)
	assert.Equal(t, models.TranscriptStatusPending, episode.TranscriptStatus)

	firstID := episode.ID

	// Mark it completed, then re-feed the same guid with refreshed metadata
	require.NoError(t, service.MarkTranscript(ctx, firstID, models.TranscriptStatusProcessing))
	require.NoError(t, service.MarkTranscript(ctx, firstID, models.TranscriptStatusCompleted))

	refreshed := &models.Episode{
		PodcastID:   podcast.ID,
		GUID:        "guid-1",
		Title:       "Episode One (remastered)",
		AudioURL:    "https://cdn.example.com/1-v2.mp3",
		Duration:    1805,
		PublishedAt: episode.PublishedAt,
	}
	created, err = service.UpsertEpisode(ctx, refreshed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, refreshed.ID, "identity is (podcast, guid)")

	stored, err := service.GetEpisode(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "Episode One (remastered)", stored.Title)
	assert.Equal(t, "https://cdn.example.com/1-v2.mp3", stored.AudioURL)
	assert.Equal(t, models.TranscriptStatusCompleted, stored.TranscriptStatus,
		"feed refresh must not clobber the transcript status")
}

func TestUpsertEpisodeScopesGUIDToPodcast(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	showA := seedPodcast(t, db, "show-a")
	showB := seedPodcast(t, db, "show-b")

	a := &models.Episode{PodcastID: showA.ID, GUID: "shared-guid", Title: "A", AudioURL: "https://a/1.mp3", PublishedAt: time.Now().UTC()}
	b := &models.Episode{PodcastID: showB.ID, GUID: "shared-guid", Title: "B", AudioURL: "https://b/1.mp3", PublishedAt: time.Now().UTC()}

	createdA, err := service.UpsertEpisode(ctx, a)
	require.NoError(t, err)
	createdB, err := service.UpsertEpisode(ctx, b)
	require.NoError(t, err)

	assert.True(t, createdA)
	assert.True(t, createdB, "same guid under a different podcast is a different episode")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestUpsertEpisodeValidation(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	_, err := service.UpsertEpisode(ctx, &models.Episode{GUID: "g"})
	require.Error(t, err)

	_, err = service.UpsertEpisode(ctx, &models.Episode{PodcastID: 1})
	require.Error(t, err)
}

func TestListRecentSince(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	podcast := seedPodcast(t, db, "show")
	other := seedPodcast(t, db, "other")

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ep := &models.Episode{
			PodcastID:   podcast.ID,
			GUID:        fmt.Sprintf("guid-%d", i),
			Title:       "ep",
			AudioURL:    "https://cdn.example.com/a.mp3",
			PublishedAt: base.AddDate(0, 0, i*2), // days 0,2,4,6,8
		}
		_, err := service.UpsertEpisode(ctx, ep)
		require.NoError(t, err)
	}
	// Episode of an unrelated podcast inside the window
	_, err := service.UpsertEpisode(ctx, &models.Episode{
		PodcastID: other.ID, GUID: "x", Title: "x", AudioURL: "https://cdn.example.com/x.mp3",
		PublishedAt: base.AddDate(0, 0, 7),
	})
	require.NoError(t, err)

	since := base.AddDate(0, 0, 3) // keeps days 4,6,8
	episodes, err := service.ListRecentSince(ctx, []uint{podcast.ID}, since, 50)
	require.NoError(t, err)

	require.Len(t, episodes, 3)
	assert.True(t, episodes[0].PublishedAt.After(episodes[1].PublishedAt), "most recent first")

	// Limit applies after ordering
	episodes, err = service.ListRecentSince(ctx, []uint{podcast.ID}, since, 2)
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, base.AddDate(0, 0, 8), episodes[0].PublishedAt.UTC())

	// No podcasts means no scan
	episodes, err = service.ListRecentSince(ctx, nil, since, 10)
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestGetEpisodesByIDsPreloadsPodcast(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	podcast := seedPodcast(t, db, "show")

	first := &models.Episode{PodcastID: podcast.ID, GUID: "g1", Title: "1", AudioURL: "https://cdn/1.mp3", PublishedAt: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)}
	second := &models.Episode{PodcastID: podcast.ID, GUID: "g2", Title: "2", AudioURL: "https://cdn/2.mp3", PublishedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	for _, ep := range []*models.Episode{first, second} {
		_, err := service.UpsertEpisode(ctx, ep)
		require.NoError(t, err)
	}

	episodes, err := service.GetEpisodesByIDs(ctx, []uint{first.ID, second.ID, 9999})
	require.NoError(t, err)

	require.Len(t, episodes, 2, "unknown IDs are silently absent")
	assert.Equal(t, "2", episodes[0].Title, "ordered by published_at ascending")
	assert.Equal(t, "show", episodes[0].Podcast.Title, "podcast should be preloaded")
}

func TestMarkTranscriptTransitions(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	podcast := seedPodcast(t, db, "show")

	episode := &models.Episode{PodcastID: podcast.ID, GUID: "g", Title: "t", AudioURL: "https://cdn/1.mp3", PublishedAt: time.Now().UTC()}
	_, err := service.UpsertEpisode(ctx, episode)
	require.NoError(t, err)

	// pending -> processing -> failed -> processing -> completed
	require.NoError(t, service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusProcessing))
	require.NoError(t, service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusFailed))
	require.NoError(t, service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusProcessing),
		"failed episodes may be retried")
	require.NoError(t, service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusCompleted))

	// Completed is sticky
	err = service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusProcessing)
	assert.ErrorIs(t, err, ErrStatusRegression)
	err = service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusPending)
	assert.ErrorIs(t, err, ErrStatusRegression)

	// Same status is a no-op, not a regression
	require.NoError(t, service.MarkTranscript(ctx, episode.ID, models.TranscriptStatusCompleted))

	require.ErrorIs(t, service.MarkTranscript(ctx, 9999, models.TranscriptStatusProcessing), ErrEpisodeNotFound)
}
