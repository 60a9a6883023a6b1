package jobs

import (
	"context"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// Service defines the business logic interface for the durable job queues
type Service interface {
	// Enqueue operations
	Enqueue(ctx context.Context, queue models.JobQueue, payload models.JobPayload, opts ...JobOption) (*models.Job, error)
	// EnqueueUnique enqueues unless a non-terminal job already carries the
	// dedup key, in which case the existing job is returned.
	EnqueueUnique(ctx context.Context, queue models.JobQueue, payload models.JobPayload, dedupKey string, opts ...JobOption) (*models.Job, error)

	// Status and retrieval
	GetJob(ctx context.Context, jobID uint) (*models.Job, error)
	GetJobByDedupKey(ctx context.Context, dedupKey string) (*models.Job, error)

	// Worker operations (used by worker pool)
	ClaimNext(ctx context.Context, workerID string, queues []models.JobQueue) (*models.Job, error)
	UpdateProgress(ctx context.Context, jobID uint, progress int) error
	Complete(ctx context.Context, jobID uint, result models.JobResult) error
	// Fail records the failure and returns the updated job so callers can
	// see whether retries are exhausted.
	Fail(ctx context.Context, jobID uint, jobErr error) (*models.Job, error)
	Release(ctx context.Context, jobID uint) error

	// Cancellation (orchestrator cancel path)
	CancelPendingByDigest(ctx context.Context, digestID string) (int64, error)

	// Introspection
	QueueStats(ctx context.Context) (map[models.JobQueue]map[models.JobStatus]int64, error)

	// Maintenance
	CleanupOldJobs(ctx context.Context, retentionDays int) (int64, error)
	ReleaseStuckJobs(ctx context.Context, stuckFor time.Duration) (int64, error)
}

// JobOption is a functional option for configuring jobs
type JobOption func(*jobConfig)

// jobConfig holds configuration for a job
type jobConfig struct {
	Priority   int
	MaxRetries int
	CreatedBy  string
}

// WithPriority sets the priority of a job (higher = more priority)
func WithPriority(priority int) JobOption {
	return func(cfg *jobConfig) {
		cfg.Priority = priority
	}
}

// WithMaxRetries sets the maximum number of retries for a job
func WithMaxRetries(retries int) JobOption {
	return func(cfg *jobConfig) {
		cfg.MaxRetries = retries
	}
}

// WithCreatedBy sets who created the job
func WithCreatedBy(createdBy string) JobOption {
	return func(cfg *jobConfig) {
		cfg.CreatedBy = createdBy
	}
}
