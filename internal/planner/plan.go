// Package planner decides, per playback session, how media is delivered:
// unmodified over byte ranges, repackaged, or transcoded. Planning is a pure
// function of the media probe, the client and server capabilities, and the
// user preferences. The resulting plan is immutable for the session lifetime.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vodarr/vodarr/internal/codec"
)

// Transport is the delivery mechanism for a session.
type Transport string

const (
	// TransportRange serves a file (source or progressive remux output)
	// over HTTP byte ranges.
	TransportRange Transport = "range"

	// TransportHLS serves segmented output via an HLS playlist.
	TransportHLS Transport = "hls"
)

// Mode is the delivery tier chosen for a session. Tiers are ordered from
// least to most processing; the planner picks the first viable one.
type Mode string

const (
	ModeDirect                 Mode = "direct"
	ModeDirectAudioTranscode   Mode = "direct_audio_transcode"
	ModeRemux                  Mode = "remux"
	ModeRemuxAudioTranscode    Mode = "remux_audio_transcode"
	ModeRemuxHLS               Mode = "remux_hls"
	ModeRemuxHLSAudioTranscode Mode = "remux_hls_audio_transcode"
	ModeTranscodeHLS           Mode = "transcode_hls"
)

// tierOrder is the fixed decision hierarchy.
var tierOrder = []Mode{
	ModeDirect,
	ModeDirectAudioTranscode,
	ModeRemux,
	ModeRemuxAudioTranscode,
	ModeRemuxHLS,
	ModeRemuxHLSAudioTranscode,
	ModeTranscodeHLS,
}

// Transport returns the transport this mode is delivered over.
func (m Mode) Transport() Transport {
	switch m {
	case ModeDirect, ModeDirectAudioTranscode, ModeRemux, ModeRemuxAudioTranscode:
		return TransportRange
	default:
		return TransportHLS
	}
}

// UsesProcess returns true if the mode needs an ffmpeg process. Only plain
// direct play serves source bytes without one.
func (m Mode) UsesProcess() bool {
	return m != ModeDirect
}

// TranscodesAudio returns true if the mode re-encodes the audio track.
func (m Mode) TranscodesAudio() bool {
	switch m {
	case ModeDirectAudioTranscode, ModeRemuxAudioTranscode, ModeRemuxHLSAudioTranscode, ModeTranscodeHLS:
		return true
	}
	return false
}

// TranscodesVideo returns true if the mode re-encodes the video track.
func (m Mode) TranscodesVideo() bool {
	return m == ModeTranscodeHLS
}

// TrackAction says whether a track is stream-copied or re-encoded.
type TrackAction string

const (
	ActionCopy   TrackAction = "copy"
	ActionEncode TrackAction = "encode"
)

// HDRMode is the planned handling of high-dynamic-range content.
type HDRMode string

const (
	// HDRModeNone means the source is SDR; nothing to do.
	HDRModeNone HDRMode = "none"

	// HDRModePassthrough preserves the source dynamic range untouched.
	HDRModePassthrough HDRMode = "passthrough"

	// HDRModeConvertHDR10 strips Dolby Vision metadata down to the HDR10
	// base layer without re-encoding.
	HDRModeConvertHDR10 HDRMode = "convert_hdr10"

	// HDRModeTonemapSDR tonemaps to SDR during a full transcode.
	HDRModeTonemapSDR HDRMode = "tonemap_sdr"
)

// SubtitleMode is the planned subtitle delivery.
type SubtitleMode string

const (
	SubtitleNone    SubtitleMode = "none"
	SubtitleSidecar SubtitleMode = "sidecar"
	SubtitleBurn    SubtitleMode = "burn"
)

// Filter chain tokens, translated to concrete ffmpeg filters by the command
// builder. Order in VideoTrackPlan.Filters is the order they must be applied.
const (
	FilterDeinterlace = "deinterlace"
	FilterDetelecine  = "detelecine"
	FilterCFR         = "cfr"
	FilterTonemap     = "tonemap"
	FilterScale       = "scale"
	FilterBurnIn      = "burnin"
)

// VideoTrackPlan describes how the selected video stream is handled.
type VideoTrackPlan struct {
	StreamIndex  int           `json:"stream_index"`
	Action       TrackAction   `json:"action"`
	TargetCodec  string        `json:"target_codec,omitempty"`
	Encoder      string        `json:"encoder,omitempty"`
	HWAccel      codec.HWAccel `json:"hw_accel,omitempty"`
	Filters      []string      `json:"filters,omitempty"`
	TargetWidth  int           `json:"target_width,omitempty"`
	TargetHeight int           `json:"target_height,omitempty"`
	Bitrate      int64         `json:"bitrate,omitempty"`
	Profile      string        `json:"profile,omitempty"`
	Level        string        `json:"level,omitempty"`
}

// AudioTrackPlan describes how the selected audio stream is handled.
type AudioTrackPlan struct {
	StreamIndex int         `json:"stream_index"`
	Action      TrackAction `json:"action"`
	TargetCodec string      `json:"target_codec,omitempty"`
	Encoder     string      `json:"encoder,omitempty"`
	Bitrate     int64       `json:"bitrate,omitempty"`
	Channels    int         `json:"channels,omitempty"`
	Language    string      `json:"language,omitempty"`
}

// SubtitlePlan describes subtitle delivery for the session.
type SubtitlePlan struct {
	Mode        SubtitleMode `json:"mode"`
	StreamIndex int          `json:"stream_index,omitempty"`
	Language    string       `json:"language,omitempty"`
}

// HDRPlan records the source dynamic range and the planned handling.
type HDRPlan struct {
	// Source is one of "sdr", "hdr10", "hlg", "dolby_vision".
	Source string  `json:"source"`
	Mode   HDRMode `json:"mode"`
}

// QuirksPlan lists corrective processing to apply while encoding. Each field
// is independent; the video fixes are no-ops for stream-copied video and the
// audio sync re-stamp requires an audio encode.
type QuirksPlan struct {
	Deinterlace  bool `json:"deinterlace,omitempty"`
	Detelecine   bool `json:"detelecine,omitempty"`
	ForceCFR     bool `json:"force_cfr,omitempty"`
	ContainerFix bool `json:"container_fix,omitempty"`

	// AudioSyncOffset is the source audio lead/trail in seconds that the
	// encode corrects for.
	AudioSyncOffset float64 `json:"audio_sync_offset,omitempty"`
}

// PlaybackPlan is the single source of truth for how a session is delivered.
// It is computed once at session creation and never mutated; seeks and track
// switches start a new epoch within the session, not a new plan.
type PlaybackPlan struct {
	Transport Transport `json:"transport"`
	Mode      Mode      `json:"mode"`

	// Container is the output container: the source container for direct
	// play, the remux/transcode target otherwise.
	Container string `json:"container"`

	Video    VideoTrackPlan `json:"video"`
	Audio    AudioTrackPlan `json:"audio"`
	Subtitle SubtitlePlan   `json:"subtitle"`
	HDR      HDRPlan        `json:"hdr"`
	Quirks   QuirksPlan     `json:"quirks"`

	SegmentDuration  int `json:"segment_duration_seconds,omitempty"`
	SegmentLookahead int `json:"segment_lookahead,omitempty"`

	// Reasons and DecisionPath are an audit trail for operators. They must
	// never drive runtime behavior.
	Reasons      []string `json:"reasons"`
	DecisionPath []string `json:"decision_path"`

	// Guarantees lists properties the plan claims to satisfy, for
	// debugging and admin display.
	Guarantees []string `json:"guarantees,omitempty"`

	CacheKey string `json:"cache_key"`
}

func (p *PlaybackPlan) reason(format string, args ...any) {
	p.Reasons = append(p.Reasons, fmt.Sprintf(format, args...))
}

func (p *PlaybackPlan) trace(tier Mode, verdict string) {
	p.DecisionPath = append(p.DecisionPath, string(tier)+": "+verdict)
}

// computeCacheKey derives a stable key from the plan-shaping inputs so
// identical decisions for the same media and client can be reused.
func computeCacheKey(mediaPath string, sizeBytes int64, mode Mode, parts ...string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s", mediaPath, sizeBytes, mode, strings.Join(parts, "|"))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
