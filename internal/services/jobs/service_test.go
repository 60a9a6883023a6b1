package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/poddigest/poddigest/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to test database")

	require.NoError(t, db.AutoMigrate(&models.Job{}), "Failed to migrate test database")

	return db
}

func setupTestService(t *testing.T, retryDelay time.Duration) (Service, *gorm.DB) {
	db := setupTestDB(t)
	repo := NewRepository(db, retryDelay)
	return NewService(repo), db
}

func rewindLastFailedAt(t *testing.T, db *gorm.DB, jobID uint, d time.Duration) {
	err := db.Model(&models.Job{}).
		Where("id = ?", jobID).
		Update("last_failed_at", time.Now().Add(-d)).Error
	require.NoError(t, err)
}

func TestEnqueueAndClaimOrdering(t *testing.T) {
	svc, _ := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-2"})
	require.NoError(t, err)

	urgent, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-3"}, WithPriority(5))
	require.NoError(t, err)

	// Higher priority wins, then FIFO by creation order
	claimed, err := svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, claimed.ID)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.Equal(t, "worker-1", claimed.WorkerID)
	assert.NotNil(t, claimed.StartedAt)

	claimed, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)

	claimed, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)

	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestClaimFiltersByQueue(t *testing.T) {
	svc, _ := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	analyzeJob, err := svc.Enqueue(ctx, models.QueueAnalyze, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	claimed, err := svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueAnalyze})
	require.NoError(t, err)
	assert.Equal(t, analyzeJob.ID, claimed.ID)
	assert.Equal(t, models.QueueAnalyze, claimed.Queue)

	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueAnalyze})
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestEnqueueUniqueDeduplicates(t *testing.T) {
	svc, db := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	payload := models.JobPayload{"digestId": "d-1"}

	t.Run("live job with same key is returned instead of duplicated", func(t *testing.T) {
		original, err := svc.EnqueueUnique(ctx, models.QueueTranscribe, payload, "transcribe-d-1")
		require.NoError(t, err)

		duplicate, err := svc.EnqueueUnique(ctx, models.QueueTranscribe, payload, "transcribe-d-1")
		require.NoError(t, err)
		assert.Equal(t, original.ID, duplicate.ID)

		var count int64
		require.NoError(t, db.Model(&models.Job{}).Where("dedup_key = ?", "transcribe-d-1").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("terminal job does not block a new enqueue", func(t *testing.T) {
		claimed, err := svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueTranscribe})
		require.NoError(t, err)
		require.NoError(t, svc.Complete(ctx, claimed.ID, nil))

		fresh, err := svc.EnqueueUnique(ctx, models.QueueTranscribe, payload, "transcribe-d-1")
		require.NoError(t, err)
		assert.NotEqual(t, claimed.ID, fresh.ID)
		assert.Equal(t, models.JobStatusPending, fresh.Status)
	})

	t.Run("empty dedup key is rejected", func(t *testing.T) {
		_, err := svc.EnqueueUnique(ctx, models.QueueTranscribe, payload, "")
		assert.Error(t, err)
	})
}

func TestFailedJobWaitsForBackoff(t *testing.T) {
	svc, db := setupTestService(t, time.Hour)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, models.QueueNarrate, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	claimed, err := svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueNarrate})
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	failed, err := svc.Fail(ctx, job.ID, models.NewTransientError("tts-timeout", "voice synthesis timed out", "", nil))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.True(t, failed.IsRetryable())

	// Backoff window has not elapsed yet
	_, err = svc.ClaimNext(ctx, "worker-2", []models.JobQueue{models.QueueNarrate})
	assert.ErrorIs(t, err, ErrNoJobsAvailable)

	// Once the failure is old enough the job becomes claimable again,
	// with the retry counted
	rewindLastFailedAt(t, db, job.ID, 2*time.Hour)

	reclaimed, err := svc.ClaimNext(ctx, "worker-2", []models.JobQueue{models.QueueNarrate})
	require.NoError(t, err)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, 1, reclaimed.RetryCount)
	assert.Equal(t, "worker-2", reclaimed.WorkerID)
}

func TestPermanentErrorsSkipRetries(t *testing.T) {
	tests := []struct {
		name   string
		jobErr error
	}{
		{
			name:   "stage error",
			jobErr: models.NewStageError("no-viable-clips", "no clips survived selection", "", nil),
		},
		{
			name:   "contract error",
			jobErr: models.NewContractError("bad-payload", "clip_ids missing from payload", "", nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setupTestService(t, time.Millisecond)
			ctx := context.Background()

			job, err := svc.Enqueue(ctx, models.QueueAnalyze, models.JobPayload{"digestId": "d-1"})
			require.NoError(t, err)

			_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueAnalyze})
			require.NoError(t, err)

			failed, err := svc.Fail(ctx, job.ID, tt.jobErr)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusPermanentlyFailed, failed.Status)
			assert.True(t, failed.IsPermanentlyFailed())
			assert.NotNil(t, failed.CompletedAt)
			assert.Equal(t, 0, failed.RetryCount, "permanent failures should not consume retries")

			_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueAnalyze})
			assert.ErrorIs(t, err, ErrNoJobsAvailable)
		})
	}
}

func TestTransientErrorExhaustsRetries(t *testing.T) {
	svc, db := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, models.QueueDeliver, models.JobPayload{"digestId": "d-1"}, WithMaxRetries(1))
	require.NoError(t, err)

	// First attempt
	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueDeliver})
	require.NoError(t, err)

	failed, err := svc.Fail(ctx, job.ID, models.NewTransientError("upload-5xx", "feed upload returned 503", "", nil))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)

	// Second and final attempt
	rewindLastFailedAt(t, db, job.ID, time.Minute)

	reclaimed, err := svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueDeliver})
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed.RetryCount)

	failed, err = svc.Fail(ctx, job.ID, models.NewTransientError("upload-5xx", "feed upload returned 503", "", nil))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPermanentlyFailed, failed.Status)
	assert.True(t, failed.IsPermanentlyFailed())
}

func TestCancelPendingByDigest(t *testing.T) {
	svc, _ := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	pendingA, err := svc.Enqueue(ctx, models.QueueTranscribe, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	pendingB, err := svc.Enqueue(ctx, models.QueueAnalyze, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	otherDigest, err := svc.Enqueue(ctx, models.QueueAnalyze, models.JobPayload{"digestId": "d-2"})
	require.NoError(t, err)

	// A processing job keeps its lease and is left alone
	inFlight, err := svc.Enqueue(ctx, models.QueueNarrate, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueNarrate})
	require.NoError(t, err)

	count, err := svc.CancelPendingByDigest(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	for _, tc := range []struct {
		jobID uint
		want  models.JobStatus
	}{
		{pendingA.ID, models.JobStatusCancelled},
		{pendingB.ID, models.JobStatusCancelled},
		{otherDigest.ID, models.JobStatusPending},
		{inFlight.ID, models.JobStatusProcessing},
	} {
		got, err := svc.GetJob(ctx, tc.jobID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status, "job %d", tc.jobID)
	}
}

func TestQueueStats(t *testing.T) {
	svc, _ := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-2"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.QueueAssemble, models.JobPayload{"digestId": "d-3"})
	require.NoError(t, err)

	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	require.NoError(t, err)

	stats, err := svc.QueueStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats[models.QueueCrawl][models.JobStatusPending])
	assert.Equal(t, int64(1), stats[models.QueueCrawl][models.JobStatusProcessing])
	assert.Equal(t, int64(1), stats[models.QueueAssemble][models.JobStatusPending])
}

func TestCleanupOldJobsKeepsLiveWork(t *testing.T) {
	svc, db := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	age := func(jobID uint, days int) {
		err := db.Model(&models.Job{}).
			Where("id = ?", jobID).
			Update("created_at", time.Now().AddDate(0, 0, -days)).Error
		require.NoError(t, err)
	}

	oldCompleted, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, oldCompleted.ID, nil))
	age(oldCompleted.ID, 10)

	oldPermanent, err := svc.Enqueue(ctx, models.QueueAnalyze, models.JobPayload{"digestId": "d-2"})
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueAnalyze})
	require.NoError(t, err)
	_, err = svc.Fail(ctx, oldPermanent.ID, models.NewStageError("no-viable-clips", "nothing selectable", "", nil))
	require.NoError(t, err)
	age(oldPermanent.ID, 10)

	oldPending, err := svc.Enqueue(ctx, models.QueueNarrate, models.JobPayload{"digestId": "d-3"})
	require.NoError(t, err)
	age(oldPending.ID, 10)

	recentCompleted, err := svc.Enqueue(ctx, models.QueueDeliver, models.JobPayload{"digestId": "d-4"})
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueDeliver})
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, recentCompleted.ID, nil))

	deleted, err := svc.CleanupOldJobs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = svc.GetJob(ctx, oldCompleted.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.GetJob(ctx, oldPermanent.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	// Pending work and recent history survive, whatever their age
	_, err = svc.GetJob(ctx, oldPending.ID)
	assert.NoError(t, err)
	_, err = svc.GetJob(ctx, recentCompleted.ID)
	assert.NoError(t, err)
}

func TestReleaseStuckJobs(t *testing.T) {
	svc, db := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	stuck, err := svc.Enqueue(ctx, models.QueueAssemble, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueAssemble})
	require.NoError(t, err)

	healthy, err := svc.Enqueue(ctx, models.QueueAssemble, models.JobPayload{"digestId": "d-2"})
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, "worker-2", []models.JobQueue{models.QueueAssemble})
	require.NoError(t, err)

	err = db.Model(&models.Job{}).
		Where("id = ?", stuck.ID).
		Update("started_at", time.Now().Add(-2*time.Hour)).Error
	require.NoError(t, err)

	released, err := svc.ReleaseStuckJobs(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	got, err := svc.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Empty(t, got.WorkerID)
	assert.Nil(t, got.StartedAt)

	got, err = svc.GetJob(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestUpdateProgress(t *testing.T) {
	svc, _ := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, models.QueueTranscribe, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	// Progress only applies to claimed jobs
	err = svc.UpdateProgress(ctx, job.ID, 50)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueTranscribe})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateProgress(ctx, job.ID, 50))

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)

	// Out-of-range values are clamped
	require.NoError(t, svc.UpdateProgress(ctx, job.ID, 150))
	got, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
}

func TestReleaseReturnsJobToQueue(t *testing.T) {
	svc, _ := setupTestService(t, time.Millisecond)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, models.QueueCrawl, models.JobPayload{"digestId": "d-1"})
	require.NoError(t, err)

	_, err = svc.ClaimNext(ctx, "worker-1", []models.JobQueue{models.QueueCrawl})
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, job.ID))

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Empty(t, got.WorkerID)
	assert.Equal(t, 0, got.Progress)

	// Releasing a job nobody holds is an error
	err = svc.Release(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
