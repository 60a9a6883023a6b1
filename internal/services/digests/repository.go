package digests

import (
	"context"
	"errors"
	"fmt"

	"github.com/poddigest/poddigest/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors for digest persistence
var (
	ErrDigestNotFound  = errors.New("digest not found")
	ErrClipNotFound    = errors.New("digest clip not found")
	ErrVersionConflict = errors.New("digest was modified by another writer")
)

// defaultListLimit bounds user-facing digest listings
const defaultListLimit = 50

// repository implements the Repository interface using GORM
type repository struct {
	db *gorm.DB
}

var _ Repository = (*repository)(nil)

// NewRepository creates a new digest repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreateDigest creates a new digest row
func (r *repository) CreateDigest(ctx context.Context, digest *models.Digest) error {
	if err := r.db.WithContext(ctx).Create(digest).Error; err != nil {
		return fmt.Errorf("creating digest: %w", err)
	}
	return nil
}

// GetDigestByID retrieves a digest with its clips ordered by position
func (r *repository) GetDigestByID(ctx context.Context, id string) (*models.Digest, error) {
	var digest models.Digest
	err := r.db.WithContext(ctx).
		Preload("Clips", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&digest, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDigestNotFound
		}
		return nil, fmt.Errorf("getting digest %s: %w", id, err)
	}
	return &digest, nil
}

// HasNonTerminalDigest reports whether any digest for the config is in flight
func (r *repository) HasNonTerminalDigest(ctx context.Context, configID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("config_id = ? AND status NOT IN ?", configID, []string{models.DigestStatusCompleted, models.DigestStatusFailed}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("counting active digests for config %d: %w", configID, err)
	}
	return count > 0, nil
}

// ListDigestsByUser retrieves a user's digests, newest first
func (r *repository) ListDigestsByUser(ctx context.Context, userID string, limit int) ([]models.Digest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var digests []models.Digest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&digests).Error
	if err != nil {
		return nil, fmt.Errorf("listing digests for user %s: %w", userID, err)
	}
	return digests, nil
}

// ListCompletedForUser retrieves completed digests that have rendered audio
func (r *repository) ListCompletedForUser(ctx context.Context, userID string, limit int) ([]models.Digest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var digests []models.Digest
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND audio_object_key <> ''", userID, models.DigestStatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&digests).Error
	if err != nil {
		return nil, fmt.Errorf("listing completed digests for user %s: %w", userID, err)
	}
	return digests, nil
}

// UpdateStatusVersioned performs the optimistic status write
func (r *repository) UpdateStatusVersioned(ctx context.Context, digestID string, fromVersion int64, status, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id = ? AND version = ?", digestID, fromVersion).
		Updates(map[string]interface{}{
			"status":  status,
			"error":   errMsg,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("updating digest %s status: %w", digestID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("digest %s version %d: %w", digestID, fromVersion, ErrVersionConflict)
	}
	return nil
}

// ResetDigestVersioned returns a failed digest to pending and clears the
// artifacts of the failed run
func (r *repository) ResetDigestVersioned(ctx context.Context, digestID string, fromVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Digest{}).
			Where("id = ? AND version = ?", digestID, fromVersion).
			Updates(map[string]interface{}{
				"status":             models.DigestStatusPending,
				"error":              "",
				"audio_object_key":   "",
				"total_duration_sec": 0,
				"clip_count":         0,
				"chapters":           nil,
				"version":            gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("resetting digest %s: %w", digestID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("digest %s version %d: %w", digestID, fromVersion, ErrVersionConflict)
		}

		// Hard delete so the (digest, position) unique index frees up for
		// the next run's clips
		if err := tx.Unscoped().Where("digest_id = ?", digestID).Delete(&models.DigestClip{}).Error; err != nil {
			return fmt.Errorf("clearing clips for digest %s: %w", digestID, err)
		}
		return nil
	})
}

// ReplaceClips atomically swaps the digest's clip set
func (r *repository) ReplaceClips(ctx context.Context, digestID string, clips []models.DigestClip) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Hard delete, same reason as in ResetDigestVersioned
		if err := tx.Unscoped().Where("digest_id = ?", digestID).Delete(&models.DigestClip{}).Error; err != nil {
			return fmt.Errorf("clearing clips for digest %s: %w", digestID, err)
		}

		if len(clips) > 0 {
			for i := range clips {
				clips[i].DigestID = digestID
			}
			if err := tx.Create(&clips).Error; err != nil {
				return fmt.Errorf("inserting %d clips for digest %s: %w", len(clips), digestID, err)
			}
		}

		result := tx.Model(&models.Digest{}).
			Where("id = ?", digestID).
			Update("clip_count", len(clips))
		if result.Error != nil {
			return fmt.Errorf("updating clip count for digest %s: %w", digestID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDigestNotFound
		}
		return nil
	})
}

// SetAudioMetadata stores the rendered audio key, duration and chapter index
func (r *repository) SetAudioMetadata(ctx context.Context, digestID string, audioKey string, totalDurationSec float64, chapters models.ChapterList) error {
	result := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id = ?", digestID).
		Updates(map[string]interface{}{
			"audio_object_key":   audioKey,
			"total_duration_sec": totalDurationSec,
			"chapters":           chapters,
		})
	if result.Error != nil {
		return fmt.Errorf("storing audio metadata for digest %s: %w", digestID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDigestNotFound
	}
	return nil
}

// GetClipByID retrieves a single clip
func (r *repository) GetClipByID(ctx context.Context, clipID uint) (*models.DigestClip, error) {
	var clip models.DigestClip
	err := r.db.WithContext(ctx).First(&clip, clipID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClipNotFound
		}
		return nil, fmt.Errorf("getting clip %d: %w", clipID, err)
	}
	return &clip, nil
}

// SaveClip updates an existing clip
func (r *repository) SaveClip(ctx context.Context, clip *models.DigestClip) error {
	if err := r.db.WithContext(ctx).Save(clip).Error; err != nil {
		return fmt.Errorf("saving clip %d: %w", clip.ID, err)
	}
	return nil
}
