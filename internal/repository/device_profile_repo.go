package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vodarr/vodarr/internal/models"
	"gorm.io/gorm"
)

// ErrSystemProfile indicates an attempt to delete a built-in profile.
var ErrSystemProfile = errors.New("system profiles cannot be deleted")

// deviceProfileRepo implements DeviceProfileRepository using GORM.
type deviceProfileRepo struct {
	db *gorm.DB
}

// NewDeviceProfileRepository creates a new DeviceProfileRepository.
func NewDeviceProfileRepository(db *gorm.DB) *deviceProfileRepo {
	return &deviceProfileRepo{db: db}
}

// Create creates a new device profile.
func (r *deviceProfileRepo) Create(ctx context.Context, profile *models.DeviceProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("creating device profile: %w", err)
	}
	return nil
}

// GetByID retrieves a device profile by ID.
func (r *deviceProfileRepo) GetByID(ctx context.Context, id models.ULID) (*models.DeviceProfile, error) {
	var profile models.DeviceProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting device profile by ID: %w", err)
	}
	return &profile, nil
}

// GetAll retrieves all device profiles ordered by priority.
func (r *deviceProfileRepo) GetAll(ctx context.Context) ([]*models.DeviceProfile, error) {
	var profiles []*models.DeviceProfile
	if err := r.db.WithContext(ctx).Order("priority ASC, name ASC").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("getting device profiles: %w", err)
	}
	return profiles, nil
}

// Match returns the highest-priority enabled profile whose User-Agent
// pattern matches. Matching is case-insensitive substring matching done
// in memory, since profile counts are small and patterns are not valid
// SQL LIKE expressions.
func (r *deviceProfileRepo) Match(ctx context.Context, userAgent string) (*models.DeviceProfile, error) {
	var profiles []*models.DeviceProfile
	if err := r.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("priority ASC").
		Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("matching device profile: %w", err)
	}

	for _, p := range profiles {
		if p.Matches(userAgent) {
			return p, nil
		}
	}
	return nil, nil
}

// Update updates an existing device profile.
func (r *deviceProfileRepo) Update(ctx context.Context, profile *models.DeviceProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("updating device profile: %w", err)
	}
	return nil
}

// Delete deletes a device profile by ID. System profiles are refused.
func (r *deviceProfileRepo) Delete(ctx context.Context, id models.ULID) error {
	profile, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	if profile.IsSystem {
		return ErrSystemProfile
	}
	if err := r.db.WithContext(ctx).Delete(&models.DeviceProfile{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting device profile: %w", err)
	}
	return nil
}
