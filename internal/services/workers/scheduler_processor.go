package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// tickHourLayout matches the dedup key hour the scheduler loop stamps on
// each tick
const tickHourLayout = "2006-01-02T15"

// SchedulerProcessor runs pipeline tick jobs: fan out digest triggers for
// every config whose delivery slot matches the tick hour.
type SchedulerProcessor struct {
	jobService   jobs.Service
	orchestrator orchestrator.Service
}

// NewSchedulerProcessor creates a new scheduler processor
func NewSchedulerProcessor(jobService jobs.Service, orchestratorService orchestrator.Service) *SchedulerProcessor {
	return &SchedulerProcessor{
		jobService:   jobService,
		orchestrator: orchestratorService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *SchedulerProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueuePipeline
}

// ProcessJob processes a pipeline tick job
func (p *SchedulerProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
	if !p.CanProcess(job.Queue) {
		return fmt.Errorf("unsupported queue: %s", job.Queue)
	}

	// A tick delayed by backlog still evaluates the hour it was cut for
	tickTime := time.Now().UTC()
	if stamp, ok := job.GetPayloadString("tick"); ok {
		if parsed, err := time.Parse(tickHourLayout, stamp); err == nil {
			tickTime = parsed
		} else {
			log.Printf("[WARN] Pipeline tick job %d has unparseable stamp %q: %v", job.ID, stamp, err)
		}
	}

	triggered, err := p.orchestrator.RunSchedulerTick(ctx, tickTime)
	if err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{
		"hour":      tickTime.Format(tickHourLayout),
		"triggered": triggered,
	})
}
