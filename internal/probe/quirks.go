package probe

import (
	"math"
	"strconv"
	"strings"
)

// Quirks captures content properties that force extra pipeline stages or
// change the playback decision: HDR metadata, interlacing, frame rate
// anomalies, and stream timing drift.
type Quirks struct {
	// HDR10 indicates PQ transfer with BT.2020 primaries.
	HDR10 bool `json:"hdr10"`

	// HLG indicates hybrid log-gamma transfer.
	HLG bool `json:"hlg"`

	// DolbyVision indicates a Dolby Vision layer is present.
	DolbyVision bool `json:"dolby_vision"`

	// DolbyVisionProfile is the DOVI configuration profile number, zero
	// when the probe did not report one. Profiles 7 and 8 carry an
	// extractable HDR10 base layer; profile 5 does not.
	DolbyVisionProfile int `json:"dolby_vision_profile,omitempty"`

	// Interlaced indicates the video needs deinterlacing before encode.
	Interlaced bool `json:"interlaced"`

	// Telecine indicates 3:2 pulldown content that needs inverse telecine
	// before encode.
	Telecine bool `json:"telecine"`

	// VariableFrameRate indicates the stream's real frame rate differs from
	// its average, so output needs a fixed fps filter.
	VariableFrameRate bool `json:"variable_frame_rate"`

	// AudioSyncOffset is how far the default audio stream's start time
	// leads (negative) or trails (positive) the video's, in seconds.
	// Zero when the streams start together or timing is unknown.
	AudioSyncOffset float64 `json:"audio_sync_offset,omitempty"`
}

// IsHDR returns true for any high dynamic range content.
func (q Quirks) IsHDR() bool {
	return q.HDR10 || q.HLG || q.DolbyVision
}

// audioSyncThreshold is the stream start drift below which offsets are
// treated as container rounding rather than a real sync problem.
const audioSyncThreshold = 0.1

// detectQuirks inspects the raw probe streams for content quirks.
func detectQuirks(result *probeResult) Quirks {
	var q Quirks
	videoStart := math.NaN()
	audioStart := math.NaN()

	for _, stream := range result.Streams {
		if stream.CodecType == "audio" {
			if math.IsNaN(audioStart) {
				audioStart = parseStartTime(stream.StartTime)
			}
			continue
		}
		if stream.CodecType != "video" {
			continue
		}
		// Skip cover art
		if isImageCodec(stream.CodecName) {
			continue
		}
		if math.IsNaN(videoStart) {
			videoStart = parseStartTime(stream.StartTime)
		}

		transfer := strings.ToLower(stream.ColorTransfer)
		primaries := strings.ToLower(stream.ColorPrimaries)

		if transfer == "smpte2084" && primaries == "bt2020" {
			q.HDR10 = true
		}
		if transfer == "arib-std-b67" {
			q.HLG = true
		}

		if isDolbyVision(&stream) {
			q.DolbyVision = true
			q.DolbyVisionProfile = dolbyVisionProfile(&stream)
		}

		switch stream.FieldOrder {
		case "tt", "bb", "tb", "bt":
			q.Interlaced = true
		}

		// Telecine shows the same real/average divergence as VFR, so it
		// is checked first and claims the stream.
		if isTelecine(&stream) {
			q.Telecine = true
		} else if isVFR(&stream) {
			q.VariableFrameRate = true
		}
	}

	if !math.IsNaN(videoStart) && !math.IsNaN(audioStart) {
		if offset := audioStart - videoStart; math.Abs(offset) >= audioSyncThreshold {
			q.AudioSyncOffset = offset
		}
	}

	return q
}

// isDolbyVision checks codec tag and side data for a Dolby Vision layer.
func isDolbyVision(stream *probeStream) bool {
	tag := strings.ToLower(stream.CodecTag)
	if tag == "dvh1" || tag == "dvhe" || tag == "dav1" {
		return true
	}
	for _, sd := range stream.SideDataList {
		if strings.Contains(strings.ToLower(sd.SideDataType), "dovi") ||
			strings.Contains(strings.ToLower(sd.SideDataType), "dolby vision") {
			return true
		}
	}
	return false
}

// dolbyVisionProfile pulls the profile number from the DOVI configuration
// record, when ffprobe exposed one.
func dolbyVisionProfile(stream *probeStream) int {
	for _, sd := range stream.SideDataList {
		if sd.DVProfile > 0 {
			return sd.DVProfile
		}
	}
	return 0
}

// isTelecine spots the 3:2 pulldown signature: the container advertises a
// real frame rate 25% above the average, the 24000/1001 film rate pulled
// down to 30000/1001.
func isTelecine(stream *probeStream) bool {
	real := parseFramerate(stream.RFrameRate)
	avg := parseFramerate(stream.AvgFrameRate)
	if real == 0 || avg == 0 {
		return false
	}
	ratio := real / avg
	return ratio > 1.24 && ratio < 1.26
}

// isVFR reports whether the real frame rate diverges from the average frame
// rate by more than rounding noise. 1000/1001 NTSC pairs are not VFR.
func isVFR(stream *probeStream) bool {
	if stream.RFrameRate == "" || stream.AvgFrameRate == "" {
		return false
	}
	real := parseFramerate(stream.RFrameRate)
	avg := parseFramerate(stream.AvgFrameRate)
	if real == 0 || avg == 0 {
		return false
	}

	diff := real - avg
	if diff < 0 {
		diff = -diff
	}
	return diff/real > 0.01
}

func parseStartTime(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
