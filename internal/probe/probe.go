// Package probe inspects media files with ffprobe and reduces the output to
// the facts playback planning needs: tracks, codecs, container, duration, and
// content quirks like HDR metadata, interlacing, and variable frame rate.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vodarr/vodarr/internal/codec"
)

// probeResult contains the raw ffprobe output.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// probeFormat contains container format information.
type probeFormat struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// probeStream contains raw stream information.
type probeStream struct {
	Index          int               `json:"index"`
	CodecName      string            `json:"codec_name"`
	Profile        string            `json:"profile"`
	CodecType      string            `json:"codec_type"` // video, audio, subtitle, data
	CodecTag       string            `json:"codec_tag_string"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	PixFmt         string            `json:"pix_fmt,omitempty"`
	Level          int               `json:"level,omitempty"`
	ColorRange     string            `json:"color_range,omitempty"`
	ColorSpace     string            `json:"color_space,omitempty"`
	ColorTransfer  string            `json:"color_transfer,omitempty"`
	ColorPrimaries string            `json:"color_primaries,omitempty"`
	FieldOrder     string            `json:"field_order,omitempty"`
	SampleRate     string            `json:"sample_rate,omitempty"`
	Channels       int               `json:"channels,omitempty"`
	ChannelLayout  string            `json:"channel_layout,omitempty"`
	RFrameRate     string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate   string            `json:"avg_frame_rate,omitempty"`
	StartTime      string            `json:"start_time,omitempty"`
	Duration       string            `json:"duration,omitempty"`
	BitRate        string            `json:"bit_rate,omitempty"`
	Disposition    probeDisposition  `json:"disposition,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	SideDataList   []probeSideData   `json:"side_data_list,omitempty"`
}

// probeDisposition contains stream disposition flags.
type probeDisposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

// probeSideData carries packet side data entries (Dolby Vision configuration,
// mastering display metadata).
type probeSideData struct {
	SideDataType string `json:"side_data_type"`
	DVProfile    int    `json:"dv_profile,omitempty"`
}

// VideoTrack contains information about a video track.
type VideoTrack struct {
	Index          int     `json:"index"`
	Codec          string  `json:"codec"`
	Profile        string  `json:"profile,omitempty"`
	Level          string  `json:"level,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Framerate      float64 `json:"framerate,omitempty"`
	Bitrate        int     `json:"bitrate,omitempty"`
	PixFmt         string  `json:"pix_fmt,omitempty"`
	ColorTransfer  string  `json:"color_transfer,omitempty"`
	ColorPrimaries string  `json:"color_primaries,omitempty"`
	IsDefault      bool    `json:"is_default"`
	Language       string  `json:"language,omitempty"`
}

// AudioTrack contains information about an audio track.
type AudioTrack struct {
	Index         int    `json:"index"`
	Codec         string `json:"codec"`
	Profile       string `json:"profile,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	Bitrate       int    `json:"bitrate,omitempty"`
	IsDefault     bool   `json:"is_default"`
	Language      string `json:"language,omitempty"`
}

// SubtitleTrack contains information about a subtitle track.
type SubtitleTrack struct {
	Index     int    `json:"index"`
	Codec     string `json:"codec"`
	IsDefault bool   `json:"is_default"`
	IsForced  bool   `json:"is_forced"`
	Language  string `json:"language,omitempty"`
}

// IsTextBased returns true for subtitle codecs that can be rendered without
// burn-in (extracted as WebVTT side files).
func (s *SubtitleTrack) IsTextBased() bool {
	switch s.Codec {
	case "subrip", "srt", "ass", "ssa", "webvtt", "mov_text", "text":
		return true
	default:
		return false
	}
}

// MediaInfo is the simplified probe result used by playback planning.
type MediaInfo struct {
	Path      string  `json:"path"`
	Container string  `json:"container"`
	Duration  float64 `json:"duration"` // seconds
	SizeBytes int64   `json:"size_bytes"`
	Bitrate   int     `json:"bitrate,omitempty"` // bits per second

	VideoTracks    []VideoTrack    `json:"video_tracks,omitempty"`
	AudioTracks    []AudioTrack    `json:"audio_tracks,omitempty"`
	SubtitleTracks []SubtitleTrack `json:"subtitle_tracks,omitempty"`

	Quirks Quirks `json:"quirks"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new media prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe inspects a media file and returns simplified information.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return ParseOutput(output)
}

// ParseOutput parses raw ffprobe JSON into MediaInfo.
func ParseOutput(data []byte) (*MediaInfo, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return simplify(&result), nil
}

// simplify converts the raw probe result to MediaInfo.
func simplify(result *probeResult) *MediaInfo {
	info := &MediaInfo{
		Path:      result.Format.Filename,
		Container: primaryContainer(result.Format.FormatName),
	}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			info.Duration = dur
		}
	}
	if result.Format.Size != "" {
		if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
			info.SizeBytes = size
		}
	}
	if result.Format.BitRate != "" {
		if br, err := strconv.Atoi(result.Format.BitRate); err == nil {
			info.Bitrate = br
		}
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			// Cover art is attached as a video stream in some containers
			if stream.Disposition.Default == 0 && isImageCodec(stream.CodecName) {
				continue
			}
			track := VideoTrack{
				Index:          stream.Index,
				Codec:          codec.Normalize(stream.CodecName),
				Profile:        stream.Profile,
				Width:          stream.Width,
				Height:         stream.Height,
				PixFmt:         stream.PixFmt,
				ColorTransfer:  stream.ColorTransfer,
				ColorPrimaries: stream.ColorPrimaries,
				IsDefault:      stream.Disposition.Default == 1,
			}
			if stream.Level > 0 {
				track.Level = fmt.Sprintf("%.1f", float64(stream.Level)/10)
			}
			if stream.AvgFrameRate != "" {
				track.Framerate = parseFramerate(stream.AvgFrameRate)
			} else if stream.RFrameRate != "" {
				track.Framerate = parseFramerate(stream.RFrameRate)
			}
			if stream.BitRate != "" {
				if br, err := strconv.Atoi(stream.BitRate); err == nil {
					track.Bitrate = br
				}
			}
			if lang, ok := stream.Tags["language"]; ok {
				track.Language = lang
			}
			info.VideoTracks = append(info.VideoTracks, track)

		case "audio":
			track := AudioTrack{
				Index:         stream.Index,
				Codec:         codec.Normalize(stream.CodecName),
				Profile:       stream.Profile,
				Channels:      stream.Channels,
				ChannelLayout: stream.ChannelLayout,
				IsDefault:     stream.Disposition.Default == 1,
			}
			if stream.SampleRate != "" {
				if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
					track.SampleRate = sr
				}
			}
			if stream.BitRate != "" {
				if br, err := strconv.Atoi(stream.BitRate); err == nil {
					track.Bitrate = br
				}
			}
			if lang, ok := stream.Tags["language"]; ok {
				track.Language = lang
			}
			info.AudioTracks = append(info.AudioTracks, track)

		case "subtitle":
			track := SubtitleTrack{
				Index:     stream.Index,
				Codec:     stream.CodecName,
				IsDefault: stream.Disposition.Default == 1,
				IsForced:  stream.Disposition.Forced == 1,
			}
			if lang, ok := stream.Tags["language"]; ok {
				track.Language = lang
			}
			info.SubtitleTracks = append(info.SubtitleTracks, track)
		}
	}

	info.Quirks = detectQuirks(result)

	return info
}

// primaryContainer reduces ffprobe's comma-separated format name list to a
// single canonical container name.
func primaryContainer(formatName string) string {
	switch {
	case strings.Contains(formatName, "matroska"):
		return "mkv"
	case strings.Contains(formatName, "mp4"):
		return "mp4"
	case strings.Contains(formatName, "webm"):
		return "webm"
	case strings.Contains(formatName, "avi"):
		return "avi"
	case strings.Contains(formatName, "mpegts"):
		return "ts"
	default:
		if idx := strings.IndexByte(formatName, ','); idx > 0 {
			return formatName[:idx]
		}
		return formatName
	}
}

func isImageCodec(name string) bool {
	switch name {
	case "mjpeg", "png", "bmp", "gif", "tiff", "webp":
		return true
	default:
		return false
	}
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}

// DefaultVideoTrack returns the default video track, or the first one.
// Returns nil when the file has no video.
func (m *MediaInfo) DefaultVideoTrack() *VideoTrack {
	for i := range m.VideoTracks {
		if m.VideoTracks[i].IsDefault {
			return &m.VideoTracks[i]
		}
	}
	if len(m.VideoTracks) > 0 {
		return &m.VideoTracks[0]
	}
	return nil
}

// DefaultAudioTrack returns the default audio track, or the first one.
// Returns nil when the file has no audio.
func (m *MediaInfo) DefaultAudioTrack() *AudioTrack {
	for i := range m.AudioTracks {
		if m.AudioTracks[i].IsDefault {
			return &m.AudioTracks[i]
		}
	}
	if len(m.AudioTracks) > 0 {
		return &m.AudioTracks[0]
	}
	return nil
}

// BestAudioTrack returns the audio track that best matches the given language,
// breaking ties by channel count and then bitrate.
func (m *MediaInfo) BestAudioTrack(preferredLanguage string) *AudioTrack {
	if len(m.AudioTracks) == 0 {
		return nil
	}

	var best *AudioTrack
	for i := range m.AudioTracks {
		track := &m.AudioTracks[i]

		if best == nil {
			best = track
			continue
		}

		if preferredLanguage != "" {
			trackMatches := track.Language == preferredLanguage
			bestMatches := best.Language == preferredLanguage
			if trackMatches && !bestMatches {
				best = track
				continue
			}
			if !trackMatches && bestMatches {
				continue
			}
		}

		if track.Channels > best.Channels {
			best = track
			continue
		}
		if track.Channels == best.Channels && track.Bitrate > best.Bitrate {
			best = track
		}
	}

	return best
}

// HasVideo returns true if the file has at least one video track.
func (m *MediaInfo) HasVideo() bool {
	return len(m.VideoTracks) > 0
}

// HasAudio returns true if the file has at least one audio track.
func (m *MediaInfo) HasAudio() bool {
	return len(m.AudioTracks) > 0
}
