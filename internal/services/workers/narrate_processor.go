package workers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/narrator"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// NarrateProcessor runs the narrate stage: script and synthesize the
// spoken segments around the selected clips.
type NarrateProcessor struct {
	jobService     jobs.Service
	orchestrator   orchestrator.Service
	narrateService narrator.Service
	configService  configs.Service
}

// NewNarrateProcessor creates a new narrate processor
func NewNarrateProcessor(jobService jobs.Service, orchestratorService orchestrator.Service, narrateService narrator.Service, configService configs.Service) *NarrateProcessor {
	return &NarrateProcessor{
		jobService:     jobService,
		orchestrator:   orchestratorService,
		narrateService: narrateService,
		configService:  configService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *NarrateProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueueNarrate
}

// ProcessJob processes a narrate job
func (p *NarrateProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
	if !p.CanProcess(job.Queue) {
		return fmt.Errorf("unsupported queue: %s", job.Queue)
	}

	ref, err := parseStageRef(job)
	if err != nil {
		return err
	}

	if err := p.orchestrator.BeginStage(ctx, ref.DigestID, models.QueueNarrate); err != nil {
		if errors.Is(err, orchestrator.ErrStaleStage) {
			log.Printf("[WARN] Narrate job %d for digest %s is stale, dropping", job.ID, ref.DigestID)
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

	narrations, err := p.narrateService.ProduceNarration(ctx, ref.DigestID, config)
	if err != nil {
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 90); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	carry := models.JobPayload{"narrationAudios": narrations}
	if err := p.orchestrator.FinishStage(ctx, ref.DigestID, models.QueueNarrate, carry); err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{"segments": len(narrations)})
}
