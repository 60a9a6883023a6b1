package configs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/poddigest/poddigest/internal/models"
)

// ErrInvalidConfig is returned when a digest config fails validation
var ErrInvalidConfig = errors.New("invalid digest config")

// service implements the Service interface
type service struct {
	repo Repository
}

var _ Service = (*service)(nil)

// NewService creates a new digest config service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// CreateConfig validates, applies defaults and stores a new config
func (s *service) CreateConfig(ctx context.Context, config *models.DigestConfig) error {
	if config == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	config.UserID = strings.TrimSpace(config.UserID)
	if config.UserID == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidConfig)
	}

	applyDefaults(config)
	if err := validateConfig(config); err != nil {
		return err
	}

	config.Active = true
	if err := s.repo.CreateConfig(ctx, config); err != nil {
		return err
	}

	log.Printf("[INFO] Created digest config %d for user %s (%d min, %s)",
		config.ID, config.UserID, config.TargetLengthMinutes, config.Structure)
	return nil
}

// UpdateConfig validates and stores changes to an existing config
func (s *service) UpdateConfig(ctx context.Context, config *models.DigestConfig) error {
	if config == nil || config.ID == 0 {
		return fmt.Errorf("%w: config ID is required", ErrInvalidConfig)
	}

	existing, err := s.repo.GetConfigByID(ctx, config.ID)
	if err != nil {
		return err
	}

	// The owner and creation time never change on update
	config.UserID = existing.UserID
	config.CreatedAt = existing.CreatedAt

	applyDefaults(config)
	if err := validateConfig(config); err != nil {
		return err
	}

	return s.repo.SaveConfig(ctx, config)
}

// GetConfig retrieves a digest config by its ID
func (s *service) GetConfig(ctx context.Context, id uint) (*models.DigestConfig, error) {
	return s.repo.GetConfigByID(ctx, id)
}

// ListConfigsByUser retrieves all configs owned by a user
func (s *service) ListConfigsByUser(ctx context.Context, userID string) ([]models.DigestConfig, error) {
	return s.repo.ListConfigsByUser(ctx, userID)
}

// ListActiveConfigs retrieves every active config, for the scheduler
func (s *service) ListActiveConfigs(ctx context.Context) ([]models.DigestConfig, error) {
	return s.repo.ListActiveConfigs(ctx)
}

// Deactivate turns a config off so the scheduler no longer considers it
func (s *service) Deactivate(ctx context.Context, id uint) error {
	config, err := s.repo.GetConfigByID(ctx, id)
	if err != nil {
		return err
	}
	if !config.Active {
		return nil
	}

	config.Active = false
	if err := s.repo.SaveConfig(ctx, config); err != nil {
		return err
	}

	log.Printf("[INFO] Deactivated digest config %d for user %s", config.ID, config.UserID)
	return nil
}

// applyDefaults fills zero values with the documented defaults
func applyDefaults(config *models.DigestConfig) {
	if config.TargetLengthMinutes == 0 {
		config.TargetLengthMinutes = 60
	}
	if config.ClipLengthPreference == "" {
		config.ClipLengthPreference = models.ClipLengthMedium
	}
	if config.Structure == "" {
		config.Structure = models.StructureByScore
	}
	if config.NarrationDepth == "" {
		config.NarrationDepth = models.NarrationStandard
	}
	if config.TransitionStyle == "" {
		config.TransitionStyle = models.TransitionStinger
	}
	if config.DeliveryDay == "" {
		config.DeliveryDay = "Friday"
	}
	if config.DeliveryTime == "" {
		config.DeliveryTime = "08:00"
	}
	if config.DeliveryMethod == "" {
		config.DeliveryMethod = models.DeliverySyndication
	}
}

// validateConfig checks every constrained field against its allowed values
func validateConfig(config *models.DigestConfig) error {
	switch config.TargetLengthMinutes {
	case 30, 60, 90, 120:
	default:
		return fmt.Errorf("%w: target length must be 30, 60, 90 or 120 minutes, got %d", ErrInvalidConfig, config.TargetLengthMinutes)
	}

	switch config.ClipLengthPreference {
	case models.ClipLengthShort, models.ClipLengthMedium, models.ClipLengthLong, models.ClipLengthMixed:
	default:
		return fmt.Errorf("%w: unknown clip length preference %q", ErrInvalidConfig, config.ClipLengthPreference)
	}

	switch config.Structure {
	case models.StructureByScore, models.StructureByShow, models.StructureByTopic, models.StructureChronological:
	default:
		return fmt.Errorf("%w: unknown structure %q", ErrInvalidConfig, config.Structure)
	}

	if config.BreadthDepth < 0 || config.BreadthDepth > 100 {
		return fmt.Errorf("%w: breadth/depth must be between 0 and 100, got %d", ErrInvalidConfig, config.BreadthDepth)
	}

	switch config.NarrationDepth {
	case models.NarrationBrief, models.NarrationStandard, models.NarrationDetailed:
	default:
		return fmt.Errorf("%w: unknown narration depth %q", ErrInvalidConfig, config.NarrationDepth)
	}

	switch config.TransitionStyle {
	case models.TransitionStinger, models.TransitionSoftFade, models.TransitionWhoosh, models.TransitionSilence:
	default:
		return fmt.Errorf("%w: unknown transition style %q", ErrInvalidConfig, config.TransitionStyle)
	}

	if !validWeekday(config.DeliveryDay) {
		return fmt.Errorf("%w: unknown delivery day %q", ErrInvalidConfig, config.DeliveryDay)
	}

	if _, err := time.Parse("15:04", config.DeliveryTime); err != nil {
		return fmt.Errorf("%w: delivery time must be HH:MM, got %q", ErrInvalidConfig, config.DeliveryTime)
	}

	switch config.DeliveryMethod {
	case models.DeliverySyndication, models.DeliveryPush, models.DeliveryEmail, models.DeliveryInApp:
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrInvalidConfig, config.DeliveryMethod)
	}

	return nil
}

// validWeekday is case-insensitive so stored days always match the
// scheduler's weekday comparison
func validWeekday(name string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(name, d.String()) {
			return true
		}
	}
	return false
}
