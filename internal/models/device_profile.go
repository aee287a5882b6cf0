package models

import (
	"encoding/json"
	"strings"

	"github.com/vodarr/vodarr/internal/codec"
)

// DeviceProfile represents a stored capability profile for a class of client
// devices. Profiles are matched against the User-Agent of incoming playback
// requests and seed the client capabilities used by playback planning when the
// client does not declare its own.
type DeviceProfile struct {
	BaseModel

	// Name is a human-readable name for this profile.
	Name string `gorm:"size:255;not null;uniqueIndex" json:"name"`

	// Description provides additional details about what this profile covers.
	Description string `gorm:"size:1024" json:"description,omitempty"`

	// UserAgentPattern is a substring matched case-insensitively against the
	// request User-Agent.
	UserAgentPattern string `gorm:"size:255" json:"user_agent_pattern"`

	// Priority determines matching order (lower = evaluated first).
	Priority int `gorm:"default:0;index" json:"priority"`

	// IsEnabled determines if the profile is active.
	// Pointer distinguishes "not set" (nil, default true) from "explicitly false".
	IsEnabled *bool `gorm:"default:true" json:"is_enabled"`

	// IsSystem indicates this is a built-in default that cannot be deleted.
	IsSystem bool `gorm:"default:false" json:"is_system"`

	// VideoCodecs is a JSON array of video codecs this device can decode.
	// Example: ["h264","h265"]
	VideoCodecs string `gorm:"size:255" json:"video_codecs"`

	// AudioCodecs is a JSON array of audio codecs this device can decode.
	// Example: ["aac","mp3","ac3"]
	AudioCodecs string `gorm:"size:255" json:"audio_codecs"`

	// Containers is a JSON array of container formats the device can direct play.
	// Example: ["mp4","mkv"]
	Containers string `gorm:"size:255" json:"containers"`

	// MaxWidth and MaxHeight cap the resolution the device can decode (0 = no cap).
	MaxWidth  int `gorm:"default:0" json:"max_width"`
	MaxHeight int `gorm:"default:0" json:"max_height"`

	// MaxBitrate caps the stream bitrate in bits per second (0 = no cap).
	MaxBitrate int64 `gorm:"default:0" json:"max_bitrate"`

	// SupportsHDR10 indicates the device can display HDR10 content.
	SupportsHDR10 bool `gorm:"default:false" json:"supports_hdr10"`

	// SupportsDolbyVision indicates the device can display Dolby Vision content.
	SupportsDolbyVision bool `gorm:"default:false" json:"supports_dolby_vision"`

	// SupportsFMP4 indicates the device can handle fMP4 HLS segments.
	// Pointer distinguishes "not set" (nil, default true) from "explicitly false".
	SupportsFMP4 *bool `gorm:"default:true" json:"supports_fmp4"`

	// SupportsMPEGTS indicates the device can handle MPEG-TS HLS segments.
	SupportsMPEGTS *bool `gorm:"default:true" json:"supports_mpegts"`
}

// TableName returns the database table name.
func (DeviceProfile) TableName() string {
	return "device_profiles"
}

// Validate checks the profile for consistency.
func (p *DeviceProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	for _, field := range []string{p.VideoCodecs, p.AudioCodecs, p.Containers} {
		if field == "" {
			continue
		}
		var list []string
		if err := json.Unmarshal([]byte(field), &list); err != nil {
			return ErrInvalidCodecList
		}
	}
	return nil
}

// Matches reports whether this profile applies to the given User-Agent.
func (p *DeviceProfile) Matches(userAgent string) bool {
	if !BoolVal(p.IsEnabled) {
		return false
	}
	if p.UserAgentPattern == "" {
		return false
	}
	return strings.Contains(strings.ToLower(userAgent), strings.ToLower(p.UserAgentPattern))
}

// VideoCodecList decodes the VideoCodecs JSON array, normalizing each entry.
func (p *DeviceProfile) VideoCodecList() []string {
	return decodeCodecList(p.VideoCodecs)
}

// AudioCodecList decodes the AudioCodecs JSON array, normalizing each entry.
func (p *DeviceProfile) AudioCodecList() []string {
	return decodeCodecList(p.AudioCodecs)
}

// ContainerList decodes the Containers JSON array.
func (p *DeviceProfile) ContainerList() []string {
	if p.Containers == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(p.Containers), &list); err != nil {
		return nil
	}
	for i, c := range list {
		list[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return list
}

func decodeCodecList(field string) []string {
	if field == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(field), &list); err != nil {
		return nil
	}
	for i, c := range list {
		list[i] = codec.Normalize(strings.TrimSpace(c))
	}
	return list
}
