package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

const (
	DefaultMaxRetries = 3
	DefaultPriority   = 0
)

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) Enqueue(ctx context.Context, queue models.JobQueue, payload models.JobPayload, opts ...JobOption) (*models.Job, error) {
	cfg := &jobConfig{
		Priority:   DefaultPriority,
		MaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	job := &models.Job{
		Queue:      queue,
		Status:     models.JobStatusPending,
		Payload:    payload,
		Priority:   cfg.Priority,
		MaxRetries: cfg.MaxRetries,
		CreatedBy:  cfg.CreatedBy,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	log.Printf("[DEBUG] Enqueued %s job ID %d with priority %d", queue, job.ID, job.Priority)

	return job, nil
}

// EnqueueUnique creates a job only when no live job carries the same dedup
// key. If a pending, processing, or retryable-failed job with the key exists,
// that job is returned instead. Terminal jobs do not block a new enqueue.
func (s *service) EnqueueUnique(ctx context.Context, queue models.JobQueue, payload models.JobPayload, dedupKey string, opts ...JobOption) (*models.Job, error) {
	if dedupKey == "" {
		return nil, fmt.Errorf("dedup key must not be empty")
	}

	existing, err := s.repo.GetJobByDedupKey(ctx, dedupKey)
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return nil, fmt.Errorf("checking for existing job: %w", err)
	}

	if existing != nil && !existing.IsTerminal() {
		log.Printf("[DEBUG] Job with dedup key %s already live (ID %d, status %s), skipping enqueue",
			dedupKey, existing.ID, existing.Status)
		return existing, nil
	}

	cfg := &jobConfig{
		Priority:   DefaultPriority,
		MaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	job := &models.Job{
		Queue:      queue,
		Status:     models.JobStatusPending,
		DedupKey:   dedupKey,
		Payload:    payload,
		Priority:   cfg.Priority,
		MaxRetries: cfg.MaxRetries,
		CreatedBy:  cfg.CreatedBy,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	log.Printf("[DEBUG] Enqueued %s job ID %d with dedup key %s", queue, job.ID, dedupKey)

	return job, nil
}

func (s *service) GetJob(ctx context.Context, jobID uint) (*models.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *service) GetJobByDedupKey(ctx context.Context, dedupKey string) (*models.Job, error) {
	return s.repo.GetJobByDedupKey(ctx, dedupKey)
}

func (s *service) ClaimNext(ctx context.Context, workerID string, queues []models.JobQueue) (*models.Job, error) {
	job, err := s.repo.ClaimNextJob(ctx, workerID, queues)
	if err != nil {
		if errors.Is(err, ErrNoJobsAvailable) {
			return nil, err
		}
		log.Printf("[ERROR] Worker %s failed to claim job: %v", workerID, err)
		return nil, err
	}

	log.Printf("[DEBUG] Worker %s claimed %s job ID %d (attempt %d of %d)",
		workerID, job.Queue, job.ID, job.RetryCount+1, job.MaxRetries+1)

	return job, nil
}

func (s *service) UpdateProgress(ctx context.Context, jobID uint, progress int) error {
	return s.repo.UpdateJobProgress(ctx, jobID, progress)
}

func (s *service) Complete(ctx context.Context, jobID uint, result models.JobResult) error {
	if err := s.repo.CompleteJob(ctx, jobID, result); err != nil {
		log.Printf("[ERROR] Failed to complete job %d: %v", jobID, err)
		return err
	}

	log.Printf("[DEBUG] Job %d completed", jobID)
	return nil
}

// Fail records a job failure. Stage and contract errors are permanent and
// skip the retry cycle; transient and system errors stay retryable until
// max retries is exhausted. The updated job is returned so callers can see
// whether the job is now permanently failed.
func (s *service) Fail(ctx context.Context, jobID uint, jobErr error) (*models.Job, error) {
	errorType := models.ErrorTypeSystem
	errorCode := ""
	errorMsg := jobErr.Error()
	errorDetails := ""
	permanent := false

	var structured *models.StructuredJobError
	if errors.As(jobErr, &structured) {
		errorType = structured.Type
		errorCode = structured.Code
		errorMsg = structured.Message
		errorDetails = structured.Details
		permanent = structured.IsPermanent()
	}

	if err := s.repo.FailJobWithDetails(ctx, jobID, errorType, errorCode, errorMsg, errorDetails, permanent); err != nil {
		log.Printf("[ERROR] Failed to record failure for job %d: %v", jobID, err)
		return nil, err
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.IsPermanentlyFailed() {
		log.Printf("[ERROR] Job %d permanently failed (%s): %s", jobID, errorType, errorMsg)
	} else {
		log.Printf("[DEBUG] Job %d failed (retry %d of %d): %s", jobID, job.RetryCount, job.MaxRetries, errorMsg)
	}

	return job, nil
}

func (s *service) Release(ctx context.Context, jobID uint) error {
	if err := s.repo.ReleaseJob(ctx, jobID); err != nil {
		return err
	}

	log.Printf("[DEBUG] Job %d released back to queue", jobID)
	return nil
}

func (s *service) CancelPendingByDigest(ctx context.Context, digestID string) (int64, error) {
	count, err := s.repo.CancelPendingByDigest(ctx, digestID)
	if err != nil {
		log.Printf("[ERROR] Failed to cancel jobs for digest %s: %v", digestID, err)
		return 0, err
	}

	if count > 0 {
		log.Printf("[INFO] Cancelled %d pending jobs for digest %s", count, digestID)
	}

	return count, nil
}

func (s *service) QueueStats(ctx context.Context) (map[models.JobQueue]map[models.JobStatus]int64, error) {
	return s.repo.CountByQueueAndStatus(ctx)
}

func (s *service) CleanupOldJobs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	count, err := s.repo.DeleteOldJobs(ctx, cutoff)
	if err != nil {
		log.Printf("[ERROR] Failed to clean up old jobs: %v", err)
		return 0, err
	}

	if count > 0 {
		log.Printf("[INFO] Cleaned up %d jobs older than %d days", count, retentionDays)
	}

	return count, nil
}

func (s *service) ReleaseStuckJobs(ctx context.Context, stuckFor time.Duration) (int64, error) {
	if stuckFor <= 0 {
		stuckFor = 30 * time.Minute
	}

	cutoff := time.Now().Add(-stuckFor)
	count, err := s.repo.ReleaseJobsStuckSince(ctx, cutoff)
	if err != nil {
		log.Printf("[ERROR] Failed to release stuck jobs: %v", err)
		return 0, err
	}

	if count > 0 {
		log.Printf("[WARN] Released %d jobs stuck in processing for over %s", count, stuckFor)
	}

	return count, nil
}
