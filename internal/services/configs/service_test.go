package configs

import (
	"context"
	"testing"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestService(t *testing.T) Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DigestConfig{}))

	return NewService(NewRepository(db))
}

func TestCreateConfigAppliesDefaults(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	config := &models.DigestConfig{UserID: "user-1", BreadthDepth: 50}
	require.NoError(t, service.CreateConfig(ctx, config))
	require.NotZero(t, config.ID)

	saved, err := service.GetConfig(ctx, config.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, saved.TargetLengthMinutes)
	assert.Equal(t, models.ClipLengthMedium, saved.ClipLengthPreference)
	assert.Equal(t, models.StructureByScore, saved.Structure)
	assert.Equal(t, models.NarrationStandard, saved.NarrationDepth)
	assert.Equal(t, models.TransitionStinger, saved.TransitionStyle)
	assert.Equal(t, "Friday", saved.DeliveryDay)
	assert.Equal(t, "08:00", saved.DeliveryTime)
	assert.Equal(t, models.DeliverySyndication, saved.DeliveryMethod)
	assert.True(t, saved.Active)
}

func TestCreateConfigValidation(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		config models.DigestConfig
	}{
		{"missing user", models.DigestConfig{}},
		{"bad target length", models.DigestConfig{UserID: "u", TargetLengthMinutes: 45}},
		{"bad clip preference", models.DigestConfig{UserID: "u", ClipLengthPreference: "gigantic"}},
		{"bad structure", models.DigestConfig{UserID: "u", Structure: "random"}},
		{"breadth depth too high", models.DigestConfig{UserID: "u", BreadthDepth: 101}},
		{"breadth depth negative", models.DigestConfig{UserID: "u", BreadthDepth: -1}},
		{"bad narration depth", models.DigestConfig{UserID: "u", NarrationDepth: "verbose"}},
		{"bad transition style", models.DigestConfig{UserID: "u", TransitionStyle: "airhorn"}},
		{"bad delivery day", models.DigestConfig{UserID: "u", DeliveryDay: "Funday"}},
		{"bad delivery time", models.DigestConfig{UserID: "u", DeliveryTime: "8am"}},
		{"bad delivery method", models.DigestConfig{UserID: "u", DeliveryMethod: "carrier-pigeon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.config
			err := service.CreateConfig(ctx, &config)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCreateConfigAcceptsAllTargetLengths(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	for _, minutes := range []int{30, 60, 90, 120} {
		config := &models.DigestConfig{UserID: "user-1", TargetLengthMinutes: minutes}
		assert.NoError(t, service.CreateConfig(ctx, config))
	}
}

func TestUpdateConfigPreservesOwner(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	config := &models.DigestConfig{UserID: "user-1"}
	require.NoError(t, service.CreateConfig(ctx, config))

	updated := *config
	updated.UserID = "intruder"
	updated.TargetLengthMinutes = 90
	updated.Structure = models.StructureByShow
	require.NoError(t, service.UpdateConfig(ctx, &updated))

	saved, err := service.GetConfig(ctx, config.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", saved.UserID)
	assert.Equal(t, 90, saved.TargetLengthMinutes)
	assert.Equal(t, models.StructureByShow, saved.Structure)
}

func TestUpdateConfigValidation(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	err := service.UpdateConfig(ctx, &models.DigestConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	missing := models.DigestConfig{UserID: "u"}
	missing.ID = 999
	err = service.UpdateConfig(ctx, &missing)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	config := &models.DigestConfig{UserID: "user-1"}
	require.NoError(t, service.CreateConfig(ctx, config))
	config.DeliveryTime = "25:99"
	err = service.UpdateConfig(ctx, config)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDeactivateRemovesFromActiveList(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	first := &models.DigestConfig{UserID: "user-1"}
	second := &models.DigestConfig{UserID: "user-2"}
	require.NoError(t, service.CreateConfig(ctx, first))
	require.NoError(t, service.CreateConfig(ctx, second))

	active, err := service.ListActiveConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, service.Deactivate(ctx, first.ID))
	// Deactivating twice is a no-op
	require.NoError(t, service.Deactivate(ctx, first.ID))

	active, err = service.ListActiveConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	assert.ErrorIs(t, service.Deactivate(ctx, 999), ErrConfigNotFound)
}

func TestListConfigsByUser(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.CreateConfig(ctx, &models.DigestConfig{UserID: "user-1", Name: "weekly tech"}))
	require.NoError(t, service.CreateConfig(ctx, &models.DigestConfig{UserID: "user-1", Name: "weekend longform"}))
	require.NoError(t, service.CreateConfig(ctx, &models.DigestConfig{UserID: "user-2"}))

	configs, err := service.ListConfigsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "weekly tech", configs[0].Name)
	assert.Equal(t, "weekend longform", configs[1].Name)
}
