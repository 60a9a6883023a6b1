package workers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/deliverer"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// DeliverProcessor runs the deliver stage and completes the digest
type DeliverProcessor struct {
	jobService     jobs.Service
	orchestrator   orchestrator.Service
	deliverService deliverer.Service
	configService  configs.Service
}

// NewDeliverProcessor creates a new deliver processor
func NewDeliverProcessor(jobService jobs.Service, orchestratorService orchestrator.Service, deliverService deliverer.Service, configService configs.Service) *DeliverProcessor {
	return &DeliverProcessor{
		jobService:     jobService,
		orchestrator:   orchestratorService,
		deliverService: deliverService,
		configService:  configService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *DeliverProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueueDeliver
}

// ProcessJob processes a deliver job
func (p *DeliverProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
	if !p.CanProcess(job.Queue) {
		return fmt.Errorf("unsupported queue: %s", job.Queue)
	}

	ref, err := parseStageRef(job)
	if err != nil {
		return err
	}

	if err := p.orchestrator.BeginStage(ctx, ref.DigestID, models.QueueDeliver); err != nil {
		if errors.Is(err, orchestrator.ErrStaleStage) {
			log.Printf("[WARN] Deliver job %d for digest %s is stale, dropping", job.ID, ref.DigestID)
			return p.jobService.Complete(ctx, job.ID, models.JobResult{"skipped": "stale"})
		}
		return err
	}

	config, err := p.configService.GetConfig(ctx, ref.ConfigID)
	if err != nil {
		return fmt.Errorf("loading config %d: %w", ref.ConfigID, err)
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 10); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	if err := p.deliverService.Deliver(ctx, ref.DigestID, config); err != nil {
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 90); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	if err := p.orchestrator.FinishStage(ctx, ref.DigestID, models.QueueDeliver, nil); err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{"method": config.DeliveryMethod})
}
