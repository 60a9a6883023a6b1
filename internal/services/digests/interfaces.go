package digests

import (
	"context"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// Repository defines the interface for digest and clip persistence
type Repository interface {
	// CreateDigest creates a new digest row
	CreateDigest(ctx context.Context, digest *models.Digest) error

	// GetDigestByID retrieves a digest with its clips ordered by position
	GetDigestByID(ctx context.Context, id string) (*models.Digest, error)

	// HasNonTerminalDigest reports whether any digest for the config is
	// still in flight (neither completed nor failed)
	HasNonTerminalDigest(ctx context.Context, configID uint) (bool, error)

	// ListDigestsByUser retrieves a user's digests, newest first
	ListDigestsByUser(ctx context.Context, userID string, limit int) ([]models.Digest, error)

	// ListCompletedForUser retrieves a user's completed digests that have
	// rendered audio, newest first
	ListCompletedForUser(ctx context.Context, userID string, limit int) ([]models.Digest, error)

	// UpdateStatusVersioned performs the optimistic status write. The update
	// applies only when the stored version still matches fromVersion;
	// otherwise ErrVersionConflict is returned.
	UpdateStatusVersioned(ctx context.Context, digestID string, fromVersion int64, status, errMsg string) error

	// ResetDigestVersioned returns a failed digest to pending, clearing its
	// error, rendered audio metadata and clips. Guarded by fromVersion.
	ResetDigestVersioned(ctx context.Context, digestID string, fromVersion int64) error

	// ReplaceClips atomically swaps the digest's clip set and updates its
	// clip count
	ReplaceClips(ctx context.Context, digestID string, clips []models.DigestClip) error

	// SetAudioMetadata stores the rendered audio key, duration and chapter
	// index for a digest
	SetAudioMetadata(ctx context.Context, digestID string, audioKey string, totalDurationSec float64, chapters models.ChapterList) error

	// GetClipByID retrieves a single clip
	GetClipByID(ctx context.Context, clipID uint) (*models.DigestClip, error)

	// SaveClip updates an existing clip
	SaveClip(ctx context.Context, clip *models.DigestClip) error
}

// Service defines the interface for digest operations
type Service interface {
	// CreateDigest creates a pending digest covering [weekStart, weekEnd)
	CreateDigest(ctx context.Context, userID string, configID uint, weekStart, weekEnd time.Time) (*models.Digest, error)

	// GetDigest retrieves a digest with its clips ordered by position
	GetDigest(ctx context.Context, id string) (*models.Digest, error)

	// HasNonTerminalDigest reports whether the config has a digest in flight
	HasNonTerminalDigest(ctx context.Context, configID uint) (bool, error)

	// ListDigestsByUser retrieves a user's digests, newest first
	ListDigestsByUser(ctx context.Context, userID string, limit int) ([]models.Digest, error)

	// ListCompletedForUser retrieves a user's completed digests with audio
	ListCompletedForUser(ctx context.Context, userID string, limit int) ([]models.Digest, error)

	// TransitionTo advances the digest status by one pipeline stage, or to
	// failed. Rejected when the move violates the stage order or another
	// writer got there first.
	TransitionTo(ctx context.Context, digestID, next string) error

	// MarkFailed moves the digest to failed and records the reason
	MarkFailed(ctx context.Context, digestID, reason string) error

	// ResetForRetry returns a failed digest to pending for a fresh run
	ResetForRetry(ctx context.Context, digestID string) error

	// SaveSelection stores the analyzer's chosen clips. Positions must be
	// dense from zero and clips of one episode must not overlap.
	SaveSelection(ctx context.Context, digestID string, clips []models.DigestClip) error

	// SetAudioMetadata stores the rendered audio key, duration and chapters
	SetAudioMetadata(ctx context.Context, digestID string, audioKey string, totalDurationSec float64, chapters models.ChapterList) error

	// GetClip retrieves a single clip
	GetClip(ctx context.Context, clipID uint) (*models.DigestClip, error)

	// SetClipFeedback tags a clip with listener feedback (up, down or empty
	// to clear)
	SetClipFeedback(ctx context.Context, clipID uint, tag string) error
}
