package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/jobs"
)

// Sentinel errors for orchestration
var (
	ErrDigestInFlight = errors.New("config already has a digest in flight")
	ErrTerminalDigest = errors.New("digest already finished")
	ErrStaleStage     = errors.New("digest has moved past this stage")
	ErrForeignConfig  = errors.New("config does not belong to user")
)

// stageStatus maps each stage queue to the digest status it runs under
var stageStatus = map[models.JobQueue]string{
	models.QueueCrawl:      models.DigestStatusCrawling,
	models.QueueTranscribe: models.DigestStatusTranscribing,
	models.QueueAnalyze:    models.DigestStatusAnalyzing,
	models.QueueNarrate:    models.DigestStatusNarrating,
	models.QueueAssemble:   models.DigestStatusAssembling,
	models.QueueDeliver:    models.DigestStatusDelivering,
}

// nextStage maps each stage queue to its successor. Deliver has none; the
// pipeline ends there.
var nextStage = map[models.JobQueue]models.JobQueue{
	models.QueueCrawl:      models.QueueTranscribe,
	models.QueueTranscribe: models.QueueAnalyze,
	models.QueueAnalyze:    models.QueueNarrate,
	models.QueueNarrate:    models.QueueAssemble,
	models.QueueAssemble:   models.QueueDeliver,
}

type service struct {
	digests digests.Service
	configs configs.Service
	jobs    jobs.Service
	now     func() time.Time
}

// NewService creates a new orchestrator service
func NewService(digestService digests.Service, configService configs.Service, jobService jobs.Service) Service {
	return &service{
		digests: digestService,
		configs: configService,
		jobs:    jobService,
		now:     time.Now,
	}
}

// Trigger starts a digest run for the config
func (s *service) Trigger(ctx context.Context, userID string, configID uint) (*models.Digest, error) {
	config, err := s.configs.GetConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("loading config %d: %w", configID, err)
	}
	if config.UserID != userID {
		return nil, fmt.Errorf("%w: config %d, user %s", ErrForeignConfig, configID, userID)
	}

	busy, err := s.digests.HasNonTerminalDigest(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("checking in-flight digests for config %d: %w", configID, err)
	}
	if busy {
		return nil, fmt.Errorf("%w: config %d", ErrDigestInFlight, configID)
	}

	now := s.now().UTC()
	digest, err := s.digests.CreateDigest(ctx, userID, configID, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}

	if _, err := s.jobs.EnqueueUnique(ctx, models.QueueCrawl, basePayload(digest), "crawl-"+digest.ID); err != nil {
		// Park the digest in failed so the config is not wedged by a
		// pending row that will never run
		if failErr := s.digests.MarkFailed(ctx, digest.ID, "enqueue-failed"); failErr != nil {
			log.Printf("[ERROR] orchestrator: digest %s stuck pending after enqueue failure: %v", digest.ID, failErr)
		}
		return nil, fmt.Errorf("enqueueing crawl for digest %s: %w", digest.ID, err)
	}

	log.Printf("[INFO] orchestrator: triggered digest %s for config %d (week %s to %s)",
		digest.ID, configID,
		digest.WeekStart.UTC().Format("2006-01-02"), digest.WeekEnd.UTC().Format("2006-01-02"))
	return digest, nil
}

// Retry resets a failed digest and enqueues a fresh crawl
func (s *service) Retry(ctx context.Context, digestID string) error {
	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return fmt.Errorf("loading digest %s: %w", digestID, err)
	}

	if err := s.digests.ResetForRetry(ctx, digestID); err != nil {
		return err
	}

	// The nonce makes each retry its own job; the original crawl dedup key
	// may still sit on a permanently failed row
	key := fmt.Sprintf("crawl-retry-%s-%s", digestID, uuid.NewString()[:8])
	if _, err := s.jobs.EnqueueUnique(ctx, models.QueueCrawl, basePayload(digest), key); err != nil {
		return fmt.Errorf("enqueueing retry crawl for digest %s: %w", digestID, err)
	}

	log.Printf("[INFO] orchestrator: digest %s queued for retry", digestID)
	return nil
}

// Cancel stops a non-terminal digest
func (s *service) Cancel(ctx context.Context, digestID string) error {
	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return fmt.Errorf("loading digest %s: %w", digestID, err)
	}
	if digest.IsTerminal() {
		return fmt.Errorf("%w: digest %s is %s", ErrTerminalDigest, digestID, digest.Status)
	}

	removed, err := s.jobs.CancelPendingByDigest(ctx, digestID)
	if err != nil {
		return fmt.Errorf("cancelling pending jobs for digest %s: %w", digestID, err)
	}
	if err := s.digests.MarkFailed(ctx, digestID, "cancelled"); err != nil {
		return err
	}

	log.Printf("[INFO] orchestrator: digest %s cancelled, %d pending jobs removed", digestID, removed)
	return nil
}

// EnqueueSchedulerTick enqueues the hourly pipeline tick
func (s *service) EnqueueSchedulerTick(ctx context.Context, now time.Time) error {
	hour := now.UTC().Format("2006-01-02T15")
	payload := models.JobPayload{"tick": hour}
	if _, err := s.jobs.EnqueueUnique(ctx, models.QueuePipeline, payload, "pipeline-tick-"+hour); err != nil {
		return fmt.Errorf("enqueueing scheduler tick %s: %w", hour, err)
	}
	return nil
}

// RunSchedulerTick triggers matching active configs
func (s *service) RunSchedulerTick(ctx context.Context, now time.Time) (int, error) {
	active, err := s.configs.ListActiveConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active configs: %w", err)
	}

	now = now.UTC()
	triggered := 0
	for i := range active {
		config := &active[i]
		if !deliverySlotMatches(config, now) {
			continue
		}
		if _, err := s.Trigger(ctx, config.UserID, config.ID); err != nil {
			if errors.Is(err, ErrDigestInFlight) {
				log.Printf("[DEBUG] orchestrator: config %d skipped, digest in flight", config.ID)
			} else {
				log.Printf("[WARN] orchestrator: triggering config %d: %v", config.ID, err)
			}
			continue
		}
		triggered++
	}

	if triggered > 0 {
		log.Printf("[INFO] orchestrator: scheduler tick %s triggered %d digests", now.Format("2006-01-02T15"), triggered)
	}
	return triggered, nil
}

// deliverySlotMatches reports whether the config's delivery day and hour
// match now in UTC
func deliverySlotMatches(config *models.DigestConfig, now time.Time) bool {
	if !strings.EqualFold(config.DeliveryDay, now.Weekday().String()) {
		return false
	}
	hour, err := config.DeliveryHour()
	if err != nil {
		log.Printf("[WARN] orchestrator: config %d has unusable delivery time %q: %v", config.ID, config.DeliveryTime, err)
		return false
	}
	return hour == now.Hour()
}

// BeginStage moves the digest into the stage's in-progress status
func (s *service) BeginStage(ctx context.Context, digestID string, stage models.JobQueue) error {
	status, ok := stageStatus[stage]
	if !ok {
		return fmt.Errorf("queue %s is not a pipeline stage", stage)
	}

	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return fmt.Errorf("loading digest %s: %w", digestID, err)
	}
	if digest.Status == status {
		// a retried job re-enters its own stage
		return nil
	}
	if !digest.CanTransitionTo(status) {
		return fmt.Errorf("%w: digest %s is %s, stage %s", ErrStaleStage, digestID, digest.Status, stage)
	}
	return s.digests.TransitionTo(ctx, digestID, status)
}

// FinishStage advances to the next stage or completes the digest
func (s *service) FinishStage(ctx context.Context, digestID string, stage models.JobQueue, carry models.JobPayload) error {
	if _, ok := stageStatus[stage]; !ok {
		return fmt.Errorf("queue %s is not a pipeline stage", stage)
	}

	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return fmt.Errorf("loading digest %s: %w", digestID, err)
	}
	if digest.IsTerminal() {
		// A cancel won the race while this stage held its lease
		log.Printf("[INFO] orchestrator: digest %s is %s, dropping %s advance", digestID, digest.Status, stage)
		return nil
	}

	next, ok := nextStage[stage]
	if !ok {
		if err := s.digests.TransitionTo(ctx, digestID, models.DigestStatusCompleted); err != nil {
			return err
		}
		log.Printf("[INFO] orchestrator: digest %s completed", digestID)
		return nil
	}

	payload := basePayload(digest)
	for k, v := range carry {
		payload[k] = v
	}

	key := fmt.Sprintf("%s-%s", next, digestID)
	if _, err := s.jobs.EnqueueUnique(ctx, next, payload, key); err != nil {
		return fmt.Errorf("enqueueing %s for digest %s: %w", next, digestID, err)
	}

	log.Printf("[DEBUG] orchestrator: digest %s advanced %s -> %s", digestID, stage, next)
	return nil
}

// FailStage marks the digest failed
func (s *service) FailStage(ctx context.Context, digestID string, reason string) error {
	return s.digests.MarkFailed(ctx, digestID, reason)
}

// basePayload carries the identifiers every stage job needs
func basePayload(digest *models.Digest) models.JobPayload {
	return models.JobPayload{
		"digestId": digest.ID,
		"configId": digest.ConfigID,
		"userId":   digest.UserID,
	}
}
