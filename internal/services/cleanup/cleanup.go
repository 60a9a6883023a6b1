package cleanup

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poddigest/poddigest/internal/services/assembler"
	"github.com/poddigest/poddigest/internal/services/jobs"
)

// Config bounds what the periodic sweep may touch
type Config struct {
	Interval      time.Duration
	JobRetention  time.Duration
	ScratchMaxAge time.Duration
	StuckJobAfter time.Duration
}

// Service enforces terminal-job retention, releases leases held by dead
// workers and sweeps scratch left behind by interrupted renders
type Service struct {
	jobs        jobs.Service
	scratchRoot string
	cfg         Config
	cancel      context.CancelFunc
}

// NewService creates a new cleanup service
func NewService(jobService jobs.Service, scratchRoot string, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 7 * 24 * time.Hour
	}
	if cfg.ScratchMaxAge <= 0 {
		cfg.ScratchMaxAge = 24 * time.Hour
	}
	if cfg.StuckJobAfter <= 0 {
		cfg.StuckJobAfter = 30 * time.Minute
	}
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	return &Service{
		jobs:        jobService,
		scratchRoot: scratchRoot,
		cfg:         cfg,
	}
}

// Start begins the periodic sweep
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				log.Println("[INFO] Cleanup service stopped")
				return
			}
		}
	}()

	log.Printf("[INFO] Cleanup service started (interval: %v, job retention: %v, scratch max age: %v)",
		s.cfg.Interval, s.cfg.JobRetention, s.cfg.ScratchMaxAge)
}

// Stop stops the cleanup service
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// sweep runs one pass over everything the service owns
func (s *Service) sweep(ctx context.Context) {
	// Retention is day-granular at the job layer; round partial days up
	retentionDays := int((s.cfg.JobRetention + 23*time.Hour) / (24 * time.Hour))
	if _, err := s.jobs.CleanupOldJobs(ctx, retentionDays); err != nil {
		log.Printf("[WARN] cleanup: job retention pass: %v", err)
	}

	if _, err := s.jobs.ReleaseStuckJobs(ctx, s.cfg.StuckJobAfter); err != nil {
		log.Printf("[WARN] cleanup: stuck job release: %v", err)
	}

	s.sweepScratch()
}

// sweepScratch removes aged render scratch. Normal runs delete their own
// scratch on the way out; this pass catches what a killed worker left.
func (s *Service) sweepScratch() {
	entries, err := os.ReadDir(s.scratchRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] cleanup: reading scratch root %s: %v", s.scratchRoot, err)
		}
		return
	}

	cutoff := time.Now().Add(-s.cfg.ScratchMaxAge)
	for _, entry := range entries {
		if !ownsScratchEntry(entry.Name(), entry.IsDir()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.scratchRoot, entry.Name())
		log.Printf("[DEBUG] cleanup: removing stale scratch %s", path)
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[WARN] cleanup: removing %s: %v", path, err)
		}
	}
}

// ownsScratchEntry reports whether a scratch-root entry belongs to the
// pipeline: per-digest render directories and narration probe files
func ownsScratchEntry(name string, isDir bool) bool {
	if isDir {
		return strings.HasPrefix(name, assembler.ScratchPrefix)
	}
	return strings.HasPrefix(name, "narration-") && strings.HasSuffix(name, ".mp3")
}
