package workers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/analyzer"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// AnalyzeProcessor runs the analyze stage: score transcripts and persist
// the selected clips.
type AnalyzeProcessor struct {
	jobService     jobs.Service
	orchestrator   orchestrator.Service
	analyzeService analyzer.Service
	configService  configs.Service
}

// NewAnalyzeProcessor creates a new analyze processor
func NewAnalyzeProcessor(jobService jobs.Service, orchestratorService orchestrator.Service, analyzeService analyzer.Service, configService configs.Service) *AnalyzeProcessor {
	return &AnalyzeProcessor{
		jobService:     jobService,
		orchestrator:   orchestratorService,
		analyzeService: analyzeService,
		configService:  configService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *AnalyzeProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueueAnalyze
}

// ProcessJob processes an analyze job
func (p *AnalyzeProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
	if !p.CanProcess(job.Queue) {
		return fmt.Errorf("unsupported queue: %s", job.Queue)
	}

	ref, err := parseStageRef(job)
	if err != nil {
		return err
	}
	episodeIDs, err := requireEpisodeIDs(job)
	if err != nil {
		return err
	}

	if err := p.orchestrator.BeginStage(ctx, ref.DigestID, models.QueueAnalyze); err != nil {
		if errors.Is(err, orchestrator.ErrStaleStage) {
			log.Printf("[WARN] Analyze job %d for digest %s is stale, dropping", job.ID, ref.DigestID)
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

	clips, err := p.analyzeService.Analyze(ctx, ref.DigestID, episodeIDs, config)
	if err != nil {
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 90); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	clipIDs := make([]uint, len(clips))
	for i, clip := range clips {
		clipIDs[i] = clip.ID
	}

	carry := models.JobPayload{"clipIds": clipIDs}
	if err := p.orchestrator.FinishStage(ctx, ref.DigestID, models.QueueAnalyze, carry); err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{"clipCount": len(clips)})
}
