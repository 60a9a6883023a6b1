package orchestrator

import (
	"context"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// Service coordinates the digest pipeline: it starts runs, schedules them,
// and owns every digest status write the stage workers perform.
type Service interface {
	// Trigger starts a digest run for the config covering the trailing
	// seven days and enqueues the crawl stage. Rejected while the config
	// already has a digest in flight.
	Trigger(ctx context.Context, userID string, configID uint) (*models.Digest, error)

	// Retry resets a failed digest to pending and enqueues a fresh crawl
	Retry(ctx context.Context, digestID string) error

	// Cancel discards the pending stage jobs of a non-terminal digest and
	// marks it failed with reason "cancelled"
	Cancel(ctx context.Context, digestID string) error

	// EnqueueSchedulerTick enqueues the pipeline tick job, deduped to the
	// hour so overlapping schedulers collapse to one tick
	EnqueueSchedulerTick(ctx context.Context, now time.Time) error

	// RunSchedulerTick triggers every active config whose delivery day and
	// hour match now in UTC. Returns how many digests were started.
	RunSchedulerTick(ctx context.Context, now time.Time) (int, error)

	// BeginStage moves the digest into the stage's in-progress status.
	// Re-entry by a retried job is a no-op; a digest already past the
	// stage returns ErrStaleStage.
	BeginStage(ctx context.Context, digestID string, stage models.JobQueue) error

	// FinishStage advances the pipeline: enqueue the successor stage with
	// the carried payload, or mark the digest completed after deliver
	FinishStage(ctx context.Context, digestID string, stage models.JobQueue, carry models.JobPayload) error

	// FailStage marks the digest failed with a short reason string
	FailStage(ctx context.Context, digestID string, reason string) error
}
