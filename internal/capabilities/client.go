package capabilities

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vodarr/vodarr/internal/codec"
	"github.com/vodarr/vodarr/internal/models"
)

// ClientCapabilities describes what a playback client can decode and display.
// Zero-value fields mean "no constraint" except the codec lists, where an
// empty list falls back to a conservative baseline.
type ClientCapabilities struct {
	UserAgent string `json:"user_agent,omitempty"`

	VideoCodecs []string `json:"video_codecs,omitempty"`
	AudioCodecs []string `json:"audio_codecs,omitempty"`
	Containers  []string `json:"containers,omitempty"`

	MaxWidth   int   `json:"max_width,omitempty"`
	MaxHeight  int   `json:"max_height,omitempty"`
	MaxBitrate int64 `json:"max_bitrate,omitempty"`

	SupportsHDR10       bool `json:"supports_hdr10,omitempty"`
	SupportsHLG         bool `json:"supports_hlg,omitempty"`
	SupportsDolbyVision bool `json:"supports_dolby_vision,omitempty"`

	SupportsFMP4   bool `json:"supports_fmp4"`
	SupportsMPEGTS bool `json:"supports_mpegts"`

	// RangeUnreliable is a hint from the reliability tracker that this
	// client has misbehaved on byte-range requests in a prior session and
	// should be steered toward the HLS transport.
	RangeUnreliable bool `json:"range_unreliable,omitempty"`
}

// DefaultClientCapabilities returns the baseline assumed for clients that
// declare nothing and match no device profile. Deliberately conservative:
// codecs every HLS-capable player handles.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		VideoCodecs:    []string{"h264"},
		AudioCodecs:    []string{"aac", "mp3"},
		Containers:     []string{"mp4"},
		SupportsFMP4:   true,
		SupportsMPEGTS: true,
	}
}

// FromProfile builds client capabilities from a matched device profile.
func FromProfile(p *models.DeviceProfile, userAgent string) ClientCapabilities {
	caps := ClientCapabilities{
		UserAgent:           userAgent,
		VideoCodecs:         p.VideoCodecList(),
		AudioCodecs:         p.AudioCodecList(),
		Containers:          p.ContainerList(),
		MaxWidth:            p.MaxWidth,
		MaxHeight:           p.MaxHeight,
		MaxBitrate:          p.MaxBitrate,
		SupportsHDR10:       p.SupportsHDR10,
		SupportsDolbyVision: p.SupportsDolbyVision,
		SupportsFMP4:        models.BoolValDefault(p.SupportsFMP4, true),
		SupportsMPEGTS:      models.BoolValDefault(p.SupportsMPEGTS, true),
	}
	if len(caps.VideoCodecs) == 0 {
		caps.VideoCodecs = []string{"h264"}
	}
	if len(caps.AudioCodecs) == 0 {
		caps.AudioCodecs = []string{"aac", "mp3"}
	}
	return caps
}

// FromRequest derives client capabilities from request headers and query
// parameters, overlaying any declared values on top of the given base
// (typically a device-profile match or the default baseline).
//
// Recognised query parameters:
//
//	videoCodecs / audioCodecs / containers  comma-separated lists
//	maxWidth / maxHeight                    pixels
//	maxBitrate                              bits per second
//	hdr10 / hlg / dolbyVision               booleans
//	fmp4 / mpegts                           booleans
func FromRequest(r *http.Request, base ClientCapabilities) ClientCapabilities {
	caps := base
	caps.UserAgent = r.UserAgent()
	q := r.URL.Query()

	if list := parseCodecList(q, "videoCodecs"); list != nil {
		caps.VideoCodecs = list
	}
	if list := parseCodecList(q, "audioCodecs"); list != nil {
		caps.AudioCodecs = list
	}
	if raw := q.Get("containers"); raw != "" {
		caps.Containers = splitList(raw)
	}
	if v, ok := parseIntParam(q, "maxWidth"); ok {
		caps.MaxWidth = v
	}
	if v, ok := parseIntParam(q, "maxHeight"); ok {
		caps.MaxHeight = v
	}
	if raw := q.Get("maxBitrate"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			caps.MaxBitrate = v
		}
	}
	if v, ok := parseBoolParam(q, "hdr10"); ok {
		caps.SupportsHDR10 = v
	}
	if v, ok := parseBoolParam(q, "hlg"); ok {
		caps.SupportsHLG = v
	}
	if v, ok := parseBoolParam(q, "dolbyVision"); ok {
		caps.SupportsDolbyVision = v
	}
	if v, ok := parseBoolParam(q, "fmp4"); ok {
		caps.SupportsFMP4 = v
	}
	if v, ok := parseBoolParam(q, "mpegts"); ok {
		caps.SupportsMPEGTS = v
	}
	return caps
}

// SupportsVideoCodec returns true if the client can decode the codec. Accepts
// both plain names and RFC 6381 strings.
func (c *ClientCapabilities) SupportsVideoCodec(name string) bool {
	want := codec.NormalizeRFC6381(name)
	for _, have := range c.VideoCodecs {
		if codec.VideoMatch(have, want) {
			return true
		}
	}
	return false
}

// SupportsAudioCodec returns true if the client can decode the codec.
func (c *ClientCapabilities) SupportsAudioCodec(name string) bool {
	want := codec.NormalizeRFC6381(name)
	for _, have := range c.AudioCodecs {
		if codec.AudioMatch(have, want) {
			return true
		}
	}
	return false
}

// SupportsContainer returns true if the client can direct play the container.
// An empty container list means the client declared no container constraint.
func (c *ClientCapabilities) SupportsContainer(name string) bool {
	if len(c.Containers) == 0 {
		return true
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, have := range c.Containers {
		if strings.EqualFold(have, name) {
			return true
		}
	}
	return false
}

// FitsResolution returns true if the given dimensions are within the client's
// declared limits.
func (c *ClientCapabilities) FitsResolution(width, height int) bool {
	if c.MaxWidth > 0 && width > c.MaxWidth {
		return false
	}
	if c.MaxHeight > 0 && height > c.MaxHeight {
		return false
	}
	return true
}

// FitsBitrate returns true if the given bitrate is within the client's limit.
func (c *ClientCapabilities) FitsBitrate(bitrate int64) bool {
	return c.MaxBitrate <= 0 || bitrate <= c.MaxBitrate
}

func parseCodecList(q url.Values, key string) []string {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	items := splitList(raw)
	for i, item := range items {
		items[i] = codec.NormalizeRFC6381(item)
	}
	return items
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseIntParam(q url.Values, key string) (int, bool) {
	raw := q.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func parseBoolParam(q url.Values, key string) (bool, bool) {
	raw := q.Get(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
