package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/poddigest/poddigest/internal/metrics"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

// JobProcessor defines the interface for processing jobs from the stage queues
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *models.Job) error
	CanProcess(queue models.JobQueue) bool
}

// Worker represents a background worker draining a set of queues
type Worker struct {
	id           string
	jobService   jobs.Service
	orchestrator orchestrator.Service
	queues       []models.JobQueue
	processors   []JobProcessor
	stopChan     chan struct{}
	wg           sync.WaitGroup
	pollInterval time.Duration
}

// NewWorker creates a new worker instance serving the given queues
func NewWorker(id string, jobService jobs.Service, orchestratorService orchestrator.Service, queues []models.JobQueue, pollInterval time.Duration) *Worker {
	return &Worker{
		id:           id,
		jobService:   jobService,
		orchestrator: orchestratorService,
		queues:       queues,
		processors:   make([]JobProcessor, 0),
		stopChan:     make(chan struct{}),
		pollInterval: pollInterval,
	}
}

// RegisterProcessor registers a job processor
func (w *Worker) RegisterProcessor(processor JobProcessor) {
	w.processors = append(w.processors, processor)
}

// Start starts the worker in a goroutine
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

// run is the main worker loop
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log.Printf("[DEBUG] Worker %s starting", w.id)
	defer log.Printf("[DEBUG] Worker %s stopped", w.id)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.processNextJob(ctx); err != nil {
				log.Printf("[WARN] Worker %s: %v", w.id, err)
			}
		}
	}
}

// processNextJob claims and processes the next available job
func (w *Worker) processNextJob(ctx context.Context) error {
	// Claim only from queues some registered processor can serve
	var supported []models.JobQueue
	seen := make(map[models.JobQueue]bool)
	for _, queue := range w.queues {
		for _, p := range w.processors {
			if p.CanProcess(queue) && !seen[queue] {
				supported = append(supported, queue)
				seen[queue] = true
			}
		}
	}

	if len(supported) == 0 {
		return fmt.Errorf("no job processors registered")
	}

	job, err := w.jobService.ClaimNext(ctx, w.id, supported)
	if err != nil {
		if errors.Is(err, jobs.ErrNoJobsAvailable) {
			return nil
		}
		return fmt.Errorf("claiming job: %w", err)
	}

	var processor JobProcessor
	for _, p := range w.processors {
		if p.CanProcess(job.Queue) {
			processor = p
			break
		}
	}
	if processor == nil {
		return fmt.Errorf("no processor for queue %s", job.Queue)
	}

	done := metrics.TimeStage(string(job.Queue))

	if err := processor.ProcessJob(ctx, job); err != nil {
		failed, failErr := w.jobService.Fail(ctx, job.ID, err)
		if failErr != nil {
			done(metrics.OutcomeFailed)
			log.Printf("[ERROR] Worker %s: recording failure for job %d: %v", w.id, job.ID, failErr)
			return fmt.Errorf("job %d failed: %w", job.ID, err)
		}
		if failed.IsPermanentlyFailed() {
			done(metrics.OutcomeFailed)
			w.parkDigest(ctx, job, failed)
		} else {
			done(metrics.OutcomeRetried)
		}
		return fmt.Errorf("job %d failed: %w", job.ID, err)
	}

	done(metrics.OutcomeCompleted)
	return nil
}

// parkDigest fails the digest once its job is out of retries. Pipeline
// ticks carry no digest and are skipped.
func (w *Worker) parkDigest(ctx context.Context, job *models.Job, failed *models.Job) {
	if w.orchestrator == nil {
		return
	}
	digestID, ok := job.GetPayloadString("digestId")
	if !ok || digestID == "" {
		return
	}

	reason := failed.ErrorCode
	if reason == "" {
		reason = failed.Error
	}

	if err := w.orchestrator.FailStage(ctx, digestID, reason); err != nil {
		if errors.Is(err, digests.ErrInvalidTransition) {
			// Already terminal; a cancel or a competing worker got there first
			log.Printf("[DEBUG] Worker %s: digest %s already terminal", w.id, digestID)
			return
		}
		log.Printf("[ERROR] Worker %s: marking digest %s failed: %v", w.id, digestID, err)
	}
}

// WorkerPool manages per-stage worker sets
type WorkerPool struct {
	workers    []*Worker
	jobService jobs.Service
	mu         sync.RWMutex
	started    bool
}

// StagePools maps each queue to its worker count. Queues absent from the
// map get no workers.
type StagePools map[models.JobQueue]int

// DefaultStagePools gives every stage queue the same worker count and the
// pipeline tick queue a single worker.
func DefaultStagePools(workers int) StagePools {
	if workers <= 0 {
		workers = 1
	}
	pools := make(StagePools, len(models.AllQueues))
	for _, queue := range models.AllQueues {
		pools[queue] = workers
	}
	pools[models.QueuePipeline] = 1
	return pools
}

// NewWorkerPool creates one worker set per queue
func NewWorkerPool(jobService jobs.Service, orchestratorService orchestrator.Service, pools StagePools, pollInterval time.Duration) *WorkerPool {
	pool := &WorkerPool{
		jobService: jobService,
	}

	for _, queue := range models.AllQueues {
		count := pools[queue]
		for i := 0; i < count; i++ {
			workerID := fmt.Sprintf("%s-worker-%d", queue, i+1)
			worker := NewWorker(workerID, jobService, orchestratorService, []models.JobQueue{queue}, pollInterval)
			pool.workers = append(pool.workers, worker)
		}
	}

	return pool
}

// RegisterProcessor registers a processor with every worker serving a
// queue it can process
func (p *WorkerPool) RegisterProcessor(processor JobProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, worker := range p.workers {
		for _, queue := range worker.queues {
			if processor.CanProcess(queue) {
				worker.RegisterProcessor(processor)
				break
			}
		}
	}
}

// Start starts all workers
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}

	log.Printf("[INFO] Starting worker pool with %d workers", len(p.workers))

	for _, worker := range p.workers {
		worker.Start(ctx)
	}

	p.started = true
	return nil
}

// Stop stops all workers gracefully
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	log.Printf("[INFO] Stopping worker pool")

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.started = false
}
