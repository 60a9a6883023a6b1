package workers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/crawler"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// CrawlProcessor runs the crawl stage: refresh the user's subscriptions
// and hand the fresh episode ids to transcription.
type CrawlProcessor struct {
	jobService    jobs.Service
	orchestrator  orchestrator.Service
	crawlService  crawler.Service
	digestService digests.Service
}

// NewCrawlProcessor creates a new crawl processor
func NewCrawlProcessor(jobService jobs.Service, orchestratorService orchestrator.Service, crawlService crawler.Service, digestService digests.Service) *CrawlProcessor {
	return &CrawlProcessor{
		jobService:    jobService,
		orchestrator:  orchestratorService,
		crawlService:  crawlService,
		digestService: digestService,
	}
}

// CanProcess returns true if this processor can handle the queue
func (p *CrawlProcessor) CanProcess(queue models.JobQueue) bool {
	return queue == models.QueueCrawl
}

// ProcessJob processes a crawl job
func (p *CrawlProcessor) ProcessJob(ctx context.Context, job *models.Job) error {
	if !p.CanProcess(job.Queue) {
		return fmt.Errorf("unsupported queue: %s", job.Queue)
	}

	ref, err := parseStageRef(job)
	if err != nil {
		return err
	}

	if err := p.orchestrator.BeginStage(ctx, ref.DigestID, models.QueueCrawl); err != nil {
		if errors.Is(err, orchestrator.ErrStaleStage) {
			log.Printf("[WARN] Crawl job %d for digest %s is stale, dropping", job.ID, ref.DigestID)
			return p.jobService.Complete(ctx, job.ID, models.JobResult{"skipped": "stale"})
		}
		return err
	}

	digest, err := p.digestService.GetDigest(ctx, ref.DigestID)
	if err != nil {
		return fmt.Errorf("loading digest %s: %w", ref.DigestID, err)
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 10); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	episodeIDs, err := p.crawlService.CrawlForDigest(ctx, ref.UserID, digest.WeekStart)
	if err != nil {
		return err
	}

	if err := p.jobService.UpdateProgress(ctx, job.ID, 90); err != nil {
		log.Printf("[WARN] Failed to update job %d progress: %v", job.ID, err)
	}

	carry := models.JobPayload{"episodeIds": episodeIDs}
	if err := p.orchestrator.FinishStage(ctx, ref.DigestID, models.QueueCrawl, carry); err != nil {
		return err
	}

	return p.jobService.Complete(ctx, job.ID, models.JobResult{"episodeCount": len(episodeIDs)})
}
