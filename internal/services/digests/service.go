package digests

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// Sentinel errors for digest operations
var (
	ErrInvalidTransition = errors.New("invalid digest status transition")
	ErrInvalidSelection  = errors.New("invalid clip selection")
	ErrInvalidFeedback   = errors.New("invalid feedback tag")
)

// maxErrorLength matches the size of the digests error column
const maxErrorLength = 500

// service implements the Service interface
type service struct {
	repo Repository
}

var _ Service = (*service)(nil)

// NewService creates a new digest service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// CreateDigest creates a pending digest covering [weekStart, weekEnd)
func (s *service) CreateDigest(ctx context.Context, userID string, configID uint, weekStart, weekEnd time.Time) (*models.Digest, error) {
	if userID == "" {
		return nil, errors.New("digest requires a user ID")
	}
	if configID == 0 {
		return nil, errors.New("digest requires a config ID")
	}
	if !weekEnd.After(weekStart) {
		return nil, fmt.Errorf("digest window end %s is not after start %s", weekEnd.Format(time.RFC3339), weekStart.Format(time.RFC3339))
	}

	digest := &models.Digest{
		UserID:    userID,
		ConfigID:  configID,
		Title:     fmt.Sprintf("Weekly Digest for %s", weekEnd.UTC().Format("January 2, 2006")),
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		Status:    models.DigestStatusPending,
	}
	if err := s.repo.CreateDigest(ctx, digest); err != nil {
		return nil, err
	}

	log.Printf("[INFO] Created digest %s for user %s (config %d, week %s to %s)",
		digest.ID, userID, configID,
		weekStart.UTC().Format("2006-01-02"), weekEnd.UTC().Format("2006-01-02"))
	return digest, nil
}

// GetDigest retrieves a digest with its clips ordered by position
func (s *service) GetDigest(ctx context.Context, id string) (*models.Digest, error) {
	return s.repo.GetDigestByID(ctx, id)
}

// HasNonTerminalDigest reports whether the config has a digest in flight
func (s *service) HasNonTerminalDigest(ctx context.Context, configID uint) (bool, error) {
	return s.repo.HasNonTerminalDigest(ctx, configID)
}

// ListDigestsByUser retrieves a user's digests, newest first
func (s *service) ListDigestsByUser(ctx context.Context, userID string, limit int) ([]models.Digest, error) {
	return s.repo.ListDigestsByUser(ctx, userID, limit)
}

// ListCompletedForUser retrieves a user's completed digests with audio
func (s *service) ListCompletedForUser(ctx context.Context, userID string, limit int) ([]models.Digest, error) {
	return s.repo.ListCompletedForUser(ctx, userID, limit)
}

// TransitionTo advances the digest status by one pipeline stage, or to failed
func (s *service) TransitionTo(ctx context.Context, digestID, next string) error {
	return s.transition(ctx, digestID, next, "")
}

// MarkFailed moves the digest to failed and records the reason
func (s *service) MarkFailed(ctx context.Context, digestID, reason string) error {
	return s.transition(ctx, digestID, models.DigestStatusFailed, truncate(reason, maxErrorLength))
}

func (s *service) transition(ctx context.Context, digestID, next, errMsg string) error {
	digest, err := s.repo.GetDigestByID(ctx, digestID)
	if err != nil {
		return err
	}
	if !digest.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s for digest %s", ErrInvalidTransition, digest.Status, next, digestID)
	}

	if err := s.repo.UpdateStatusVersioned(ctx, digestID, digest.Version, next, errMsg); err != nil {
		return err
	}

	if next == models.DigestStatusFailed {
		log.Printf("[WARN] Digest %s failed: %s", digestID, errMsg)
	} else {
		log.Printf("[DEBUG] Digest %s moved %s -> %s", digestID, digest.Status, next)
	}
	return nil
}

// ResetForRetry returns a failed digest to pending for a fresh run
func (s *service) ResetForRetry(ctx context.Context, digestID string) error {
	digest, err := s.repo.GetDigestByID(ctx, digestID)
	if err != nil {
		return err
	}
	if digest.Status != models.DigestStatusFailed {
		return fmt.Errorf("%w: only failed digests can be retried, digest %s is %s", ErrInvalidTransition, digestID, digest.Status)
	}

	if err := s.repo.ResetDigestVersioned(ctx, digestID, digest.Version); err != nil {
		return err
	}

	log.Printf("[INFO] Digest %s reset for retry (was failed: %s)", digestID, digest.Error)
	return nil
}

// SaveSelection stores the analyzer's chosen clips
func (s *service) SaveSelection(ctx context.Context, digestID string, clips []models.DigestClip) error {
	if len(clips) == 0 {
		return fmt.Errorf("%w: selection is empty", ErrInvalidSelection)
	}

	if err := validateSelection(clips); err != nil {
		return err
	}
	return s.repo.ReplaceClips(ctx, digestID, clips)
}

// SetAudioMetadata stores the rendered audio key, duration and chapters
func (s *service) SetAudioMetadata(ctx context.Context, digestID string, audioKey string, totalDurationSec float64, chapters models.ChapterList) error {
	if audioKey == "" {
		return errors.New("audio object key is required")
	}
	if totalDurationSec <= 0 {
		return fmt.Errorf("total duration must be positive, got %.3f", totalDurationSec)
	}

	digest, err := s.repo.GetDigestByID(ctx, digestID)
	if err != nil {
		return err
	}
	if err := validateChapters(chapters, digest.ClipCount, totalDurationSec); err != nil {
		return err
	}

	return s.repo.SetAudioMetadata(ctx, digestID, audioKey, totalDurationSec, chapters)
}

// GetClip retrieves a single clip
func (s *service) GetClip(ctx context.Context, clipID uint) (*models.DigestClip, error) {
	return s.repo.GetClipByID(ctx, clipID)
}

// SetClipFeedback tags a clip with listener feedback
func (s *service) SetClipFeedback(ctx context.Context, clipID uint, tag string) error {
	switch tag {
	case "", models.FeedbackUp, models.FeedbackDown:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, tag)
	}

	clip, err := s.repo.GetClipByID(ctx, clipID)
	if err != nil {
		return err
	}
	if clip.FeedbackTag == tag {
		return nil
	}

	clip.FeedbackTag = tag
	return s.repo.SaveClip(ctx, clip)
}

// validateSelection checks that positions are dense from zero and that clips
// of the same episode never overlap
func validateSelection(clips []models.DigestClip) error {
	seen := make(map[int]bool, len(clips))
	for i := range clips {
		clip := &clips[i]
		if clip.EpisodeID == 0 {
			return fmt.Errorf("%w: clip at position %d has no episode", ErrInvalidSelection, clip.Position)
		}
		if clip.StartSec < 0 || clip.EndSec <= clip.StartSec {
			return fmt.Errorf("%w: clip at position %d has span [%.1f, %.1f]", ErrInvalidSelection, clip.Position, clip.StartSec, clip.EndSec)
		}
		if clip.Position < 0 || clip.Position >= len(clips) {
			return fmt.Errorf("%w: position %d out of range for %d clips", ErrInvalidSelection, clip.Position, len(clips))
		}
		if seen[clip.Position] {
			return fmt.Errorf("%w: duplicate position %d", ErrInvalidSelection, clip.Position)
		}
		seen[clip.Position] = true

		for j := range clips[:i] {
			if clip.Overlaps(&clips[j]) {
				return fmt.Errorf("%w: clips at positions %d and %d overlap within episode %d",
					ErrInvalidSelection, clips[j].Position, clip.Position, clip.EpisodeID)
			}
		}
	}
	return nil
}

// validateChapters checks the chapter index against the stored clip count
// and the rendered duration
func validateChapters(chapters models.ChapterList, clipCount int, totalDurationSec float64) error {
	if len(chapters) == 0 {
		return nil
	}
	if clipCount > 0 && len(chapters) != clipCount {
		return fmt.Errorf("chapter count %d does not match clip count %d", len(chapters), clipCount)
	}

	for i, chapter := range chapters {
		if chapter.EndSec <= chapter.StartSec {
			return fmt.Errorf("chapter %d has span [%.3f, %.3f]", i, chapter.StartSec, chapter.EndSec)
		}
		if i > 0 && chapter.StartSec <= chapters[i-1].StartSec {
			return fmt.Errorf("chapter %d starts at %.3f before chapter %d at %.3f", i, chapter.StartSec, i-1, chapters[i-1].StartSec)
		}
	}

	last := chapters[len(chapters)-1]
	if last.EndSec > totalDurationSec+0.001 {
		return fmt.Errorf("last chapter ends at %.3f beyond audio duration %.3f", last.EndSec, totalDurationSec)
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
