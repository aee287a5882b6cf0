package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vodarr/vodarr/internal/models"
	"gorm.io/gorm"
)

// sessionRecordRepo implements SessionRecordRepository using GORM.
type sessionRecordRepo struct {
	db *gorm.DB
}

// NewSessionRecordRepository creates a new SessionRecordRepository.
func NewSessionRecordRepository(db *gorm.DB) *sessionRecordRepo {
	return &sessionRecordRepo{db: db}
}

// Create persists a terminal session record.
func (r *sessionRecordRepo) Create(ctx context.Context, record *models.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

// GetBySessionID retrieves a record by its live session identifier.
func (r *sessionRecordRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var record models.SessionRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session record: %w", err)
	}
	return &record, nil
}

// GetRecent retrieves the most recent records, newest first.
func (r *sessionRecordRepo) GetRecent(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*models.SessionRecord
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting recent session records: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes records whose session ended before the cutoff.
func (r *sessionRecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("ended_at IS NOT NULL AND ended_at < ?", cutoff).
		Delete(&models.SessionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old session records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
