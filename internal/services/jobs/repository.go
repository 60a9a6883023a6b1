package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/poddigest/poddigest/internal/models"
)

// Repository errors
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// claimCandidateLimit bounds how many runnable rows a claim inspects when
// filtering retry backoff in Go.
const claimCandidateLimit = 10

// Repository defines the interface for job persistence
type Repository interface {
	// Create operations
	CreateJob(ctx context.Context, job *models.Job) error

	// Read operations
	GetJob(ctx context.Context, id uint) (*models.Job, error)
	GetJobByDedupKey(ctx context.Context, dedupKey string) (*models.Job, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	CountByQueueAndStatus(ctx context.Context) (map[models.JobQueue]map[models.JobStatus]int64, error)

	// Update operations
	ClaimNextJob(ctx context.Context, workerID string, queues []models.JobQueue) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, jobID uint, progress int) error
	CompleteJob(ctx context.Context, jobID uint, result models.JobResult) error
	FailJobWithDetails(ctx context.Context, jobID uint, errorType models.JobErrorType, errorCode, errorMsg, errorDetails string, permanent bool) error
	ReleaseJob(ctx context.Context, jobID uint) error
	CancelPendingByDigest(ctx context.Context, digestID string) (int64, error)
	ReleaseJobsStuckSince(ctx context.Context, startedBefore time.Time) (int64, error)

	// Delete operations
	DeleteOldJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// repository implements Repository interface
type repository struct {
	db         *gorm.DB
	retryDelay time.Duration // base for exponential retry backoff
}

// NewRepository creates a new job repository
func NewRepository(db *gorm.DB, retryDelay time.Duration) Repository {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &repository{
		db:         db,
		retryDelay: retryDelay,
	}
}

// CreateJob creates a new job
func (r *repository) CreateJob(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a job by ID
func (r *repository) GetJob(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).First(&job, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &job, nil
}

// GetJobByDedupKey finds the most recent job carrying the dedup key
func (r *repository) GetJobByDedupKey(ctx context.Context, dedupKey string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("dedup_key = ?", dedupKey).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("getting job by dedup key: %w", err)
	}
	return &job, nil
}

// GetJobsByStatus retrieves jobs by status
func (r *repository) GetJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&jobs).Error
	return jobs, err
}

// CountByQueueAndStatus reports job counts grouped by queue and status
func (r *repository) CountByQueueAndStatus(ctx context.Context) (map[models.JobQueue]map[models.JobStatus]int64, error) {
	var rows []struct {
		Queue  models.JobQueue
		Status models.JobStatus
		Count  int64
	}

	err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("queue, status, COUNT(*) as count").
		Group("queue, status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}

	stats := make(map[models.JobQueue]map[models.JobStatus]int64)
	for _, row := range rows {
		if stats[row.Queue] == nil {
			stats[row.Queue] = make(map[models.JobStatus]int64)
		}
		stats[row.Queue][row.Status] = row.Count
	}
	return stats, nil
}

// ClaimNextJob atomically claims the next runnable job for a worker. Failed
// jobs are only eligible once their exponential backoff window has elapsed.
func (r *repository) ClaimNextJob(ctx context.Context, workerID string, queues []models.JobQueue) (*models.Job, error) {
	var claimed models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.Job

		query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("(status = ? OR (status = ? AND retry_count < max_retries))",
				models.JobStatusPending, models.JobStatusFailed)

		if len(queues) > 0 {
			query = query.Where("queue IN ?", queues)
		}

		err := query.Order("priority DESC, created_at ASC").
			Limit(claimCandidateLimit).
			Find(&candidates).Error
		if err != nil {
			return fmt.Errorf("finding job to claim: %w", err)
		}

		var job *models.Job
		for i := range candidates {
			c := &candidates[i]
			if c.Status == models.JobStatusPending || c.CanRetryNow(r.retryDelay) {
				job = c
				break
			}
		}
		if job == nil {
			return ErrNoJobsAvailable
		}

		wasFailed := job.Status == models.JobStatusFailed

		now := time.Now()
		updates := map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"worker_id":  workerID,
			"started_at": &now,
		}
		if wasFailed {
			updates["retry_count"] = job.RetryCount + 1
		}

		if err := tx.Model(job).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating claimed job: %w", err)
		}

		job.Status = models.JobStatusProcessing
		job.WorkerID = workerID
		job.StartedAt = &now
		if wasFailed {
			job.RetryCount++
		}

		claimed = *job
		return nil
	})

	if err != nil {
		return nil, err
	}

	return &claimed, nil
}

// UpdateJobProgress updates the progress of a job
func (r *repository) UpdateJobProgress(ctx context.Context, jobID uint, progress int) error {
	// Ensure progress is within bounds
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}

	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Update("progress", progress)

	if result.Error != nil {
		return fmt.Errorf("updating job progress: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}

// CompleteJob marks a job as completed with a result
func (r *repository) CompleteJob(ctx context.Context, jobID uint, result models.JobResult) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.JobStatusCompleted,
		"progress":     100,
		"completed_at": &now,
		"result":       result,
	}

	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(updates)

	if res.Error != nil {
		return fmt.Errorf("completing job: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}

// FailJobWithDetails marks a job as failed with error classification. A
// permanent failure, or exhausting max retries, moves the job to
// permanently_failed.
func (r *repository) FailJobWithDetails(ctx context.Context, jobID uint, errorType models.JobErrorType, errorCode, errorMsg, errorDetails string, permanent bool) error {
	now := time.Now()

	// Get current job state
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("finding job to fail: %w", err)
	}

	status := models.JobStatusFailed
	if permanent || job.RetryCount >= job.MaxRetries {
		status = models.JobStatusPermanentlyFailed
	}

	updates := map[string]interface{}{
		"status":         status,
		"error":          errorMsg,
		"error_type":     string(errorType),
		"error_code":     errorCode,
		"error_details":  errorDetails,
		"last_failed_at": &now,
		"worker_id":      "", // Clear worker ID
	}

	// Only set completed_at for permanently failed jobs
	if status == models.JobStatusPermanentlyFailed {
		updates["completed_at"] = &now
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failing job: %w", err)
	}

	return nil
}

// ReleaseJob releases a job back to pending status (e.g., for graceful shutdown)
func (r *repository) ReleaseJob(ctx context.Context, jobID uint) error {
	updates := map[string]interface{}{
		"status":     models.JobStatusPending,
		"worker_id":  "",
		"started_at": nil,
		"progress":   0,
	}

	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("releasing job: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}

// CancelPendingByDigest cancels every not-yet-claimed job belonging to a
// digest. Jobs currently processing keep their lease and finish on their own.
func (r *repository) CancelPendingByDigest(ctx context.Context, digestID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusFailed}).
		Where("json_extract(payload, ?) = ?", "$.digestId", digestID).
		Update("status", models.JobStatusCancelled)

	if result.Error != nil {
		return 0, fmt.Errorf("cancelling jobs for digest %s: %w", digestID, result.Error)
	}

	return result.RowsAffected, nil
}

// ReleaseJobsStuckSince returns processing jobs whose lease started before
// the cutoff to pending, so another worker can claim them.
func (r *repository) ReleaseJobsStuckSince(ctx context.Context, startedBefore time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":     models.JobStatusPending,
		"worker_id":  "",
		"started_at": nil,
		"progress":   0,
	}

	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status = ? AND started_at < ?", models.JobStatusProcessing, startedBefore).
		Updates(updates)

	if result.Error != nil {
		return 0, fmt.Errorf("releasing stuck jobs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// DeleteOldJobs deletes terminal jobs older than the specified time
func (r *repository) DeleteOldJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Where("status IN ?", []models.JobStatus{
			models.JobStatusCompleted,
			models.JobStatusFailed,
			models.JobStatusPermanentlyFailed,
			models.JobStatusCancelled,
		}).
		Delete(&models.Job{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
