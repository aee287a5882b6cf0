package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/streaming"
	"github.com/vodarr/vodarr/internal/version"
)

// SystemHandler handles version and server capability endpoints.
type SystemHandler struct {
	caps streaming.CapabilitySource
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(caps streaming.CapabilitySource) *SystemHandler {
	return &SystemHandler{caps: caps}
}

// VersionOutput is the output for the version endpoint.
type VersionOutput struct {
	Body version.Info
}

// CapabilitiesOutput is the output for the server capabilities endpoint.
type CapabilitiesOutput struct {
	Body capabilities.ServerCapabilities
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/version",
		Summary:     "Get version information",
		Tags:        []string{"System"},
	}, h.GetVersion)

	huma.Register(api, huma.Operation{
		OperationID: "getCapabilities",
		Method:      "GET",
		Path:        "/api/v1/capabilities",
		Summary:     "Get server transcoding capabilities",
		Description: "Returns what the local ffmpeg build supports: encoders, filters, bitstream filters, and hardware pipelines. Detected once and cached.",
		Tags:        []string{"System"},
	}, h.GetCapabilities)
}

// GetVersion returns build version information.
func (h *SystemHandler) GetVersion(ctx context.Context, _ *struct{}) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}

// GetCapabilities returns the detected server capabilities.
func (h *SystemHandler) GetCapabilities(ctx context.Context, _ *struct{}) (*CapabilitiesOutput, error) {
	caps, err := h.caps.Detect(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("capability detection failed")
	}
	return &CapabilitiesOutput{Body: *caps}, nil
}
