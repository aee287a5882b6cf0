// Package repository defines data access interfaces for vodarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/vodarr/vodarr/internal/models"
)

// DeviceProfileRepository defines operations for device profile persistence.
type DeviceProfileRepository interface {
	// Create creates a new device profile.
	Create(ctx context.Context, profile *models.DeviceProfile) error
	// GetByID retrieves a device profile by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.DeviceProfile, error)
	// GetAll retrieves all device profiles ordered by priority.
	GetAll(ctx context.Context) ([]*models.DeviceProfile, error)
	// Match returns the highest-priority enabled profile matching the
	// User-Agent, or nil when none matches.
	Match(ctx context.Context, userAgent string) (*models.DeviceProfile, error)
	// Update updates an existing device profile.
	Update(ctx context.Context, profile *models.DeviceProfile) error
	// Delete deletes a device profile by ID. System profiles are refused.
	Delete(ctx context.Context, id models.ULID) error
}

// SessionRecordRepository defines operations for session history persistence.
type SessionRecordRepository interface {
	// Create persists a terminal session record.
	Create(ctx context.Context, record *models.SessionRecord) error
	// GetBySessionID retrieves a record by its live session identifier.
	GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	// GetRecent retrieves the most recent records, newest first.
	GetRecent(ctx context.Context, limit int) ([]*models.SessionRecord, error)
	// DeleteOlderThan removes records whose session ended before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClientReliabilityRepository defines operations for per-client range
// reliability verdicts.
type ClientReliabilityRepository interface {
	// Upsert records the latest verdict for a client, creating the row on
	// first sight.
	Upsert(ctx context.Context, verdict *models.ClientReliability) error
	// GetByUserAgent retrieves the verdict for a client, or nil when the
	// client has no history.
	GetByUserAgent(ctx context.Context, userAgent string) (*models.ClientReliability, error)
}
