package configs

import (
	"context"

	"github.com/poddigest/poddigest/internal/models"
)

// Repository defines the interface for digest config persistence
type Repository interface {
	// CreateConfig creates a new digest config
	CreateConfig(ctx context.Context, config *models.DigestConfig) error

	// SaveConfig updates an existing digest config
	SaveConfig(ctx context.Context, config *models.DigestConfig) error

	// GetConfigByID retrieves a digest config by its ID
	GetConfigByID(ctx context.Context, id uint) (*models.DigestConfig, error)

	// ListConfigsByUser retrieves all configs owned by a user, oldest first
	ListConfigsByUser(ctx context.Context, userID string) ([]models.DigestConfig, error)

	// ListActiveConfigs retrieves every active config across all users
	ListActiveConfigs(ctx context.Context) ([]models.DigestConfig, error)
}

// Service defines the interface for digest config operations
type Service interface {
	// CreateConfig validates, applies defaults and stores a new config
	CreateConfig(ctx context.Context, config *models.DigestConfig) error

	// UpdateConfig validates and stores changes to an existing config. The
	// owner and creation time of the stored row are preserved.
	UpdateConfig(ctx context.Context, config *models.DigestConfig) error

	// GetConfig retrieves a digest config by its ID
	GetConfig(ctx context.Context, id uint) (*models.DigestConfig, error)

	// ListConfigsByUser retrieves all configs owned by a user
	ListConfigsByUser(ctx context.Context, userID string) ([]models.DigestConfig, error)

	// ListActiveConfigs retrieves every active config, for the scheduler
	ListActiveConfigs(ctx context.Context) ([]models.DigestConfig, error)

	// Deactivate turns a config off so the scheduler no longer considers it
	Deactivate(ctx context.Context, id uint) error
}
