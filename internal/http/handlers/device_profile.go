package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/repository"
)

// DeviceProfileHandler handles device profile management endpoints.
type DeviceProfileHandler struct {
	profiles repository.DeviceProfileRepository
}

// NewDeviceProfileHandler creates a device profile handler.
func NewDeviceProfileHandler(profiles repository.DeviceProfileRepository) *DeviceProfileHandler {
	return &DeviceProfileHandler{profiles: profiles}
}

// DeviceProfileBody is the writable part of a device profile.
type DeviceProfileBody struct {
	Name             string `json:"name" required:"true"`
	Description      string `json:"description,omitempty"`
	UserAgentPattern string `json:"user_agent_pattern" required:"true" doc:"Case-insensitive substring matched against the User-Agent"`
	Priority         int    `json:"priority,omitempty" doc:"Lower values are evaluated first"`
	IsEnabled        *bool  `json:"is_enabled,omitempty"`

	VideoCodecs string `json:"video_codecs,omitempty" doc:"JSON array of decodable video codecs"`
	AudioCodecs string `json:"audio_codecs,omitempty" doc:"JSON array of decodable audio codecs"`
	Containers  string `json:"containers,omitempty" doc:"JSON array of direct-playable containers"`

	MaxWidth   int   `json:"max_width,omitempty"`
	MaxHeight  int   `json:"max_height,omitempty"`
	MaxBitrate int64 `json:"max_bitrate,omitempty"`

	SupportsHDR10       bool  `json:"supports_hdr10,omitempty"`
	SupportsDolbyVision bool  `json:"supports_dolby_vision,omitempty"`
	SupportsFMP4        *bool `json:"supports_fmp4,omitempty"`
	SupportsMPEGTS      *bool `json:"supports_mpegts,omitempty"`
}

func (b *DeviceProfileBody) apply(p *models.DeviceProfile) {
	p.Name = b.Name
	p.Description = b.Description
	p.UserAgentPattern = b.UserAgentPattern
	p.Priority = b.Priority
	p.IsEnabled = b.IsEnabled
	p.VideoCodecs = b.VideoCodecs
	p.AudioCodecs = b.AudioCodecs
	p.Containers = b.Containers
	p.MaxWidth = b.MaxWidth
	p.MaxHeight = b.MaxHeight
	p.MaxBitrate = b.MaxBitrate
	p.SupportsHDR10 = b.SupportsHDR10
	p.SupportsDolbyVision = b.SupportsDolbyVision
	p.SupportsFMP4 = b.SupportsFMP4
	p.SupportsMPEGTS = b.SupportsMPEGTS
}

// DeviceProfileOutput is the output for single-profile operations.
type DeviceProfileOutput struct {
	Body models.DeviceProfile
}

// DeviceProfileListOutput is the output for listing profiles.
type DeviceProfileListOutput struct {
	Body struct {
		Profiles []*models.DeviceProfile `json:"profiles"`
	}
}

// DeviceProfileIDInput selects a profile by ID.
type DeviceProfileIDInput struct {
	ID string `path:"id" doc:"Profile ULID"`
}

// Register registers the device profile routes with the API.
func (h *DeviceProfileHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDeviceProfiles",
		Method:      "GET",
		Path:        "/api/v1/profiles",
		Summary:     "List device profiles",
		Tags:        []string{"Device Profiles"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "createDeviceProfile",
		Method:        "POST",
		Path:          "/api/v1/profiles",
		Summary:       "Create a device profile",
		Tags:          []string{"Device Profiles"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getDeviceProfile",
		Method:      "GET",
		Path:        "/api/v1/profiles/{id}",
		Summary:     "Get a device profile",
		Tags:        []string{"Device Profiles"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateDeviceProfile",
		Method:      "PUT",
		Path:        "/api/v1/profiles/{id}",
		Summary:     "Update a device profile",
		Tags:        []string{"Device Profiles"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteDeviceProfile",
		Method:      "DELETE",
		Path:        "/api/v1/profiles/{id}",
		Summary:     "Delete a device profile",
		Description: "Deletes a profile. Built-in system profiles cannot be deleted.",
		Tags:        []string{"Device Profiles"},
	}, h.Delete)
}

// List returns all profiles ordered by priority.
func (h *DeviceProfileHandler) List(ctx context.Context, _ *struct{}) (*DeviceProfileListOutput, error) {
	profiles, err := h.profiles.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list device profiles", err)
	}
	out := &DeviceProfileListOutput{}
	out.Body.Profiles = profiles
	return out, nil
}

// CreateDeviceProfileInput is the input for creating a profile.
type CreateDeviceProfileInput struct {
	Body DeviceProfileBody
}

// Create creates a device profile.
func (h *DeviceProfileHandler) Create(ctx context.Context, input *CreateDeviceProfileInput) (*DeviceProfileOutput, error) {
	var profile models.DeviceProfile
	input.Body.apply(&profile)

	if err := h.profiles.Create(ctx, &profile); err != nil {
		if errors.Is(err, models.ErrNameRequired) || errors.Is(err, models.ErrInvalidCodecList) {
			return nil, huma.Error422UnprocessableEntity("invalid device profile", err)
		}
		return nil, huma.Error500InternalServerError("failed to create device profile", err)
	}
	return &DeviceProfileOutput{Body: profile}, nil
}

// Get returns one profile.
func (h *DeviceProfileHandler) Get(ctx context.Context, input *DeviceProfileIDInput) (*DeviceProfileOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid profile ID", err)
	}

	profile, err := h.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get device profile", err)
	}
	if profile == nil {
		return nil, huma.Error404NotFound("device profile not found")
	}
	return &DeviceProfileOutput{Body: *profile}, nil
}

// UpdateDeviceProfileInput is the input for updating a profile.
type UpdateDeviceProfileInput struct {
	ID   string `path:"id" doc:"Profile ULID"`
	Body DeviceProfileBody
}

// Update updates a device profile.
func (h *DeviceProfileHandler) Update(ctx context.Context, input *UpdateDeviceProfileInput) (*DeviceProfileOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid profile ID", err)
	}

	profile, err := h.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get device profile", err)
	}
	if profile == nil {
		return nil, huma.Error404NotFound("device profile not found")
	}

	input.Body.apply(profile)
	if err := h.profiles.Update(ctx, profile); err != nil {
		if errors.Is(err, models.ErrNameRequired) || errors.Is(err, models.ErrInvalidCodecList) {
			return nil, huma.Error422UnprocessableEntity("invalid device profile", err)
		}
		return nil, huma.Error500InternalServerError("failed to update device profile", err)
	}
	return &DeviceProfileOutput{Body: *profile}, nil
}

// Delete deletes a device profile.
func (h *DeviceProfileHandler) Delete(ctx context.Context, input *DeviceProfileIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid profile ID", err)
	}

	if err := h.profiles.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSystemProfile) {
			return nil, huma.Error403Forbidden("system profiles cannot be deleted")
		}
		return nil, huma.Error500InternalServerError("failed to delete device profile", err)
	}
	return &struct{}{}, nil
}
