package capabilities

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vodarr/vodarr/internal/models"
)

func TestDefaultClientCapabilities(t *testing.T) {
	caps := DefaultClientCapabilities()

	assert.True(t, caps.SupportsVideoCodec("h264"))
	assert.True(t, caps.SupportsVideoCodec("avc1.640028"))
	assert.False(t, caps.SupportsVideoCodec("hevc"))
	assert.True(t, caps.SupportsAudioCodec("aac"))
	assert.False(t, caps.SupportsAudioCodec("eac3"))
	assert.True(t, caps.SupportsContainer("mp4"))
	assert.False(t, caps.SupportsContainer("mkv"))
	assert.True(t, caps.SupportsFMP4)
	assert.True(t, caps.SupportsMPEGTS)
}

func TestFromProfile(t *testing.T) {
	profile := &models.DeviceProfile{
		Name:          "Living Room TV",
		VideoCodecs:   `["h264","hevc"]`,
		AudioCodecs:   `["aac","ac3","eac3"]`,
		Containers:    `["mp4","mkv"]`,
		MaxWidth:      3840,
		MaxHeight:     2160,
		MaxBitrate:    40_000_000,
		SupportsHDR10: true,
		SupportsFMP4:  models.BoolPtr(true),
	}

	caps := FromProfile(profile, "SmartTV/1.0")

	assert.Equal(t, "SmartTV/1.0", caps.UserAgent)
	assert.True(t, caps.SupportsVideoCodec("h265"))
	assert.True(t, caps.SupportsAudioCodec("eac3"))
	assert.True(t, caps.SupportsContainer("mkv"))
	assert.True(t, caps.SupportsHDR10)
	assert.False(t, caps.SupportsDolbyVision)
	assert.True(t, caps.SupportsFMP4)
	assert.True(t, caps.FitsResolution(3840, 2160))
	assert.False(t, caps.FitsResolution(7680, 4320))
}

func TestFromProfile_EmptyCodecLists(t *testing.T) {
	caps := FromProfile(&models.DeviceProfile{Name: "Bare"}, "")

	assert.Equal(t, []string{"h264"}, caps.VideoCodecs)
	assert.Equal(t, []string{"aac", "mp3"}, caps.AudioCodecs)
}

func TestSupportsContainer_EmptyListMeansNoConstraint(t *testing.T) {
	caps := ClientCapabilities{}

	assert.True(t, caps.SupportsContainer("mkv"))
	assert.True(t, caps.SupportsContainer("avi"))

	caps.Containers = []string{"mp4"}
	assert.False(t, caps.SupportsContainer("mkv"))
}

func TestFromRequest_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET",
		"/session?videoCodecs=hev1.1.6.L120,avc1.640028&audioCodecs=ec-3&containers=mkv,mp4&maxHeight=1080&maxBitrate=8000000&hdr10=true&fmp4=false",
		nil)
	r.Header.Set("User-Agent", "TestPlayer/2.1")

	caps := FromRequest(r, DefaultClientCapabilities())

	assert.Equal(t, "TestPlayer/2.1", caps.UserAgent)
	assert.Equal(t, []string{"h265", "h264"}, caps.VideoCodecs)
	assert.True(t, caps.SupportsAudioCodec("eac3"))
	assert.False(t, caps.SupportsAudioCodec("aac"))
	assert.True(t, caps.SupportsContainer("mkv"))
	assert.Equal(t, 1080, caps.MaxHeight)
	assert.Equal(t, int64(8_000_000), caps.MaxBitrate)
	assert.True(t, caps.SupportsHDR10)
	assert.False(t, caps.SupportsFMP4)
	assert.True(t, caps.SupportsMPEGTS)
}

func TestFromRequest_NoParamsKeepsBase(t *testing.T) {
	r := httptest.NewRequest("GET", "/session", nil)
	base := DefaultClientCapabilities()

	caps := FromRequest(r, base)

	assert.Equal(t, base.VideoCodecs, caps.VideoCodecs)
	assert.Equal(t, base.AudioCodecs, caps.AudioCodecs)
	assert.True(t, caps.SupportsFMP4)
}

func TestClientCapabilities_Fits(t *testing.T) {
	caps := ClientCapabilities{MaxWidth: 1920, MaxHeight: 1080, MaxBitrate: 10_000_000}

	assert.True(t, caps.FitsResolution(1920, 1080))
	assert.False(t, caps.FitsResolution(1920, 1088))
	assert.True(t, caps.FitsBitrate(10_000_000))
	assert.False(t, caps.FitsBitrate(10_000_001))

	unbounded := ClientCapabilities{}
	assert.True(t, unbounded.FitsResolution(7680, 4320))
	assert.True(t, unbounded.FitsBitrate(1<<40))
}
