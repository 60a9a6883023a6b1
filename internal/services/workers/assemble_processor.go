package workers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/assembler"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// AssembleProcessor runs the assemble stage: render the final digest MP3
// from the clips and narration handed over by narrate.
type AssembleProcessor struct {
	jobService      jobs.Service
	orchestrator    orchestrator.Service
	assembleService assembler.Service
	configService   configs.Service
}

// NewAssembleProcessor creates a new assemble processor
func NewAssembleProcessor(jobService jobs.Service, orchestratorService orchestrator.Service, assembleService assembler.Service, configService configs.Service) *AssembleProcessor {
	return &AssembleProcessor{
		jobService:      jobService,
		orchestrator:    orchestratorService,
		assembleService: assembleService,
		configService:   configService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *AssembleProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueueAssemble
}

// ProcessJob processes an assemble job
func (p *AssembleProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
	if !p.CanProcess(job.Queue) {
		return fmt.Errorf("unsupported queue: %s", job.Queue)
	}

	ref, err := parseStageRef(job)
	if err != nil {
		return err
	}

	var narrations []models.NarrationAudio
	if !job.GetPayloadJSON("narrationAudios", &narrations) || len(narrations) == 0 {
		return models.NewContractError("bad-payload", "stage job payload is missing narrationAudios",
			fmt.Sprintf("job %d on queue %s", job.ID, job.Queue), nil)
	}

	if err := p.orchestrator.BeginStage(ctx, ref.DigestID, models.QueueAssemble); err != nil {
		if errors.Is(err, orchestrator.ErrStaleStage) {
			log.Printf("[WARN] Assemble job %d for digest %s is stale, dropping", job.ID, ref.DigestID)
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

	result, err := p.assembleService.Assemble(ctx, ref.DigestID, narrations, config)
	if err != nil {
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 90); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	if err := p.orchestrator.FinishStage(ctx, ref.DigestID, models.QueueAssemble, nil); err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{
		"audioObjectKey":   result.AudioObjectKey,
		"totalDurationSec": result.TotalDurationSec,
		"chapterCount":     len(result.Chapters),
	})
}
