package configs

import (
	"context"
	"errors"
	"fmt"

	"github.com/poddigest/poddigest/internal/models"
	"gorm.io/gorm"
)

// ErrConfigNotFound is returned when a digest config does not exist
var ErrConfigNotFound = errors.New("digest config not found")

// repository implements the Repository interface using GORM
type repository struct {
	db *gorm.DB
}

var _ Repository = (*repository)(nil)

// NewRepository creates a new digest config repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreateConfig creates a new digest config
func (r *repository) CreateConfig(ctx context.Context, config *models.DigestConfig) error {
	if err := r.db.WithContext(ctx).Create(config).Error; err != nil {
		return fmt.Errorf("creating digest config: %w", err)
	}
	return nil
}

// SaveConfig updates an existing digest config
func (r *repository) SaveConfig(ctx context.Context, config *models.DigestConfig) error {
	if err := r.db.WithContext(ctx).Save(config).Error; err != nil {
		return fmt.Errorf("saving digest config %d: %w", config.ID, err)
	}
	return nil
}

// GetConfigByID retrieves a digest config by its ID
func (r *repository) GetConfigByID(ctx context.Context, id uint) (*models.DigestConfig, error) {
	var config models.DigestConfig
	err := r.db.WithContext(ctx).First(&config, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("getting digest config %d: %w", id, err)
	}
	return &config, nil
}

// ListConfigsByUser retrieves all configs owned by a user, oldest first
func (r *repository) ListConfigsByUser(ctx context.Context, userID string) ([]models.DigestConfig, error) {
	var configs []models.DigestConfig
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("listing digest configs for user %s: %w", userID, err)
	}
	return configs, nil
}

// ListActiveConfigs retrieves every active config across all users
func (r *repository) ListActiveConfigs(ctx context.Context) ([]models.DigestConfig, error) {
	var configs []models.DigestConfig
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("listing active digest configs: %w", err)
	}
	return configs, nil
}
