package workers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
	"github.com/poddigest/poddigest/internal/services/transcriber"
)

// TranscribeProcessor runs the transcribe stage over the crawled episodes
type TranscribeProcessor struct {
	jobService        jobs.Service
	orchestrator      orchestrator.Service
	transcribeService transcriber.Service
}

// NewTranscribeProcessor creates a new transcribe processor
func NewTranscribeProcessor(jobService jobs.Service, orchestratorService orchestrator.Service, transcribeService transcriber.Service) *TranscribeProcessor {
	return &TranscribeProcessor{
		jobService:        jobService,
		orchestrator:      orchestratorService,
		transcribeService: transcribeService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *TranscribeProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueueTranscribe
}

// ProcessJob processes a transcribe job
func (p *TranscribeProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
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

	if err := p.orchestrator.BeginStage(ctx, ref.DigestID, models.QueueTranscribe); err != nil {
		if errors.Is(err, orchestrator.ErrStaleStage) {
			log.Printf("[WARN] Transcribe job %d for digest %s is stale, dropping", job.ID, ref.DigestID)
			return p.jobService.Complete(ctx, job.ID, models.JobResult{"skipped": "stale"})
		}
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 10); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	transcribed, err := p.transcribeService.TranscribeEpisodes(ctx, episodeIDs)
	if err != nil {
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 90); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	carry := models.JobPayload{"episodeIds": transcribed}
	if err := p.orchestrator.FinishStage(ctx, ref.DigestID, models.QueueTranscribe, carry); err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{
		"requested":   len(episodeIDs),
		"transcribed": len(transcribed),
	})
}
