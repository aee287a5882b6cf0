package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vodarr/vodarr/internal/models"
)

func setupClientReliabilityTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.ClientReliability{})
	require.NoError(t, err)

	return db
}

func TestClientReliabilityRepo_UpsertCreates(t *testing.T) {
	db := setupClientReliabilityTestDB(t)
	repo := NewClientReliabilityRepository(db)
	ctx := context.Background()

	rec := &models.ClientReliability{
		UserAgent:     "VLC/3.0.20 LibVLC/3.0.20",
		Verdict:       models.VerdictTrusted,
		Samples:       42,
		LastSessionID: "3f1c9a92-0003-4000-8000-000000000001",
		LastSeenAt:    time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	found, err := repo.GetByUserAgent(ctx, rec.UserAgent)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.VerdictTrusted, found.Verdict)
	assert.Equal(t, int64(42), found.Samples)
}

func TestClientReliabilityRepo_UpsertUpdates(t *testing.T) {
	db := setupClientReliabilityTestDB(t)
	repo := NewClientReliabilityRepository(db)
	ctx := context.Background()

	const ua = "Lavf/60.3.100"

	require.NoError(t, repo.Upsert(ctx, &models.ClientReliability{
		UserAgent:  ua,
		Verdict:    models.VerdictTrusted,
		Samples:    25,
		LastSeenAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, repo.Upsert(ctx, &models.ClientReliability{
		UserAgent:     ua,
		Verdict:       models.VerdictUntrusted,
		Samples:       90,
		LastSessionID: "3f1c9a92-0003-4000-8000-000000000002",
		LastSeenAt:    time.Now(),
	}))

	var count int64
	require.NoError(t, db.Model(&models.ClientReliability{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	found, err := repo.GetByUserAgent(ctx, ua)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.VerdictUntrusted, found.Verdict)
	assert.Equal(t, int64(90), found.Samples)
	assert.True(t, found.Unreliable())
}

func TestClientReliabilityRepo_UpsertInvalid(t *testing.T) {
	db := setupClientReliabilityTestDB(t)
	repo := NewClientReliabilityRepository(db)
	ctx := context.Background()

	err := repo.Upsert(ctx, &models.ClientReliability{Verdict: models.VerdictTrusted})
	assert.ErrorIs(t, err, models.ErrUserAgentRequired)

	err = repo.Upsert(ctx, &models.ClientReliability{UserAgent: "x", Verdict: "flaky"})
	assert.ErrorIs(t, err, models.ErrInvalidVerdict)
}

func TestClientReliabilityRepo_GetByUserAgentNotFound(t *testing.T) {
	db := setupClientReliabilityTestDB(t)
	repo := NewClientReliabilityRepository(db)

	found, err := repo.GetByUserAgent(context.Background(), "never seen")
	require.NoError(t, err)
	assert.Nil(t, found)
}
