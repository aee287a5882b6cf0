package repository

import (
	"context"
	"fmt"

	"github.com/vodarr/vodarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// clientReliabilityRepo implements ClientReliabilityRepository using GORM.
type clientReliabilityRepo struct {
	db *gorm.DB
}

// NewClientReliabilityRepository creates a new ClientReliabilityRepository.
func NewClientReliabilityRepository(db *gorm.DB) *clientReliabilityRepo {
	return &clientReliabilityRepo{db: db}
}

// Upsert records the latest verdict for a client, creating the row on
// first sight.
func (r *clientReliabilityRepo) Upsert(ctx context.Context, verdict *models.ClientReliability) error {
	if err := verdict.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_agent"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"verdict", "samples", "last_session_id", "last_seen_at", "updated_at",
		}),
	}).Create(verdict).Error; err != nil {
		return fmt.Errorf("upserting client reliability: %w", err)
	}
	return nil
}

// GetByUserAgent retrieves the verdict for a client, or nil when the
// client has no history.
func (r *clientReliabilityRepo) GetByUserAgent(ctx context.Context, userAgent string) (*models.ClientReliability, error) {
	var rec models.ClientReliability
	if err := r.db.WithContext(ctx).Where("user_agent = ?", userAgent).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting client reliability: %w", err)
	}
	return &rec, nil
}
