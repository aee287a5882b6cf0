package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/hls"
	"github.com/vodarr/vodarr/internal/planner"
)

// ProgressiveFileName is the output file for range-transport remux modes.
// The range server serves this file while ffmpeg is still writing it.
const ProgressiveFileName = "stream.mp4"

// BuildOptions carries the per-epoch path and timing context that is not
// part of the immutable plan.
type BuildOptions struct {
	MediaPath string
	OutputDir string

	// StartOffset is the source seek position in seconds.
	StartOffset float64

	// EpochIndex namespaces segment filenames so a seek never collides
	// with output from a previous process.
	EpochIndex int

	SegmentDuration int

	// StartNumber is the per-epoch index the first new segment should get,
	// used when a process restarts partway through an epoch.
	StartNumber int

	// Framerate is the source frame rate, used when normalizing variable
	// frame rate content.
	Framerate float64

	// SubtitleStream is the position of the burn-in track among the
	// source's subtitle streams.
	SubtitleStream int
}

// BuildSessionArgs turns a playback plan into the ffmpeg argument list for
// one epoch. Every encoder, filter, and bitstream filter is validated
// against the capability manifest before being emitted.
func BuildSessionArgs(plan *planner.PlaybackPlan, caps *capabilities.ServerCapabilities, opts BuildOptions) ([]string, error) {
	if !plan.Mode.UsesProcess() {
		return nil, fmt.Errorf("mode %s does not use ffmpeg", plan.Mode)
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = plan.SegmentDuration
	}

	b := NewCommandBuilder("").
		Stats().
		Overwrite().
		SeekTo(opts.StartOffset).
		Input(opts.MediaPath)

	if plan.Video.HWAccel != "" && plan.Video.HWAccel != "none" && caps.HasHWAccel(plan.Video.HWAccel) {
		b.HWAccel(string(plan.Video.HWAccel))
	}

	// Map only the streams the plan selected. A zero-value track plan
	// (no action) means the media has no such stream.
	if plan.Video.Action != "" {
		b.Map(plan.Video.StreamIndex)
	}
	if plan.Audio.Action != "" {
		b.Map(plan.Audio.StreamIndex)
	}

	if plan.Video.Action != "" {
		if err := applyVideo(b, plan, caps, opts); err != nil {
			return nil, err
		}
	}
	if plan.Audio.Action != "" {
		applyAudio(b, plan)
	}

	bsf := selectBitstreamFilters(plan, caps)
	if bsf.Video != "" {
		b.VideoBSF(bsf.Video)
	}
	if bsf.Audio != "" {
		b.AudioBSF(bsf.Audio)
	}

	switch plan.Transport {
	case planner.TransportRange:
		b.ProgressiveMP4(filepath.Join(opts.OutputDir, ProgressiveFileName))
	case planner.TransportHLS:
		pattern := filepath.Join(opts.OutputDir, hls.SegmentPattern(opts.EpochIndex, plan.Container))
		playlist := filepath.Join(opts.OutputDir, hls.EpochPlaylistName(opts.EpochIndex))
		b.HLSArgs(opts.SegmentDuration, pattern, playlist)
		b.StartNumber(opts.StartNumber)
		if plan.Container == "fmp4" {
			b.FMP4Segments(hls.InitFileName(opts.EpochIndex))
		}
	}

	return b.BuildArgs(), nil
}

func applyVideo(b *CommandBuilder, plan *planner.PlaybackPlan, caps *capabilities.ServerCapabilities, opts BuildOptions) error {
	if plan.Video.Action == planner.ActionCopy {
		b.VideoCodec("copy")
		return nil
	}

	encoder := plan.Video.Encoder
	if encoder == "" || (len(caps.Encoders) > 0 && !caps.HasEncoder(encoder)) {
		return fmt.Errorf("encoder %q not available on this host", encoder)
	}
	b.VideoCodec(encoder)
	b.VideoProfile(plan.Video.Profile, plan.Video.Level)
	if strings.HasPrefix(encoder, "lib") {
		b.VideoPreset("veryfast")
	}
	if plan.Video.Bitrate > 0 {
		b.VideoBitrate(fmt.Sprintf("%dk", plan.Video.Bitrate/1000))
	}
	if plan.Transport == planner.TransportHLS {
		b.ForceKeyframes(segmentSeconds(plan, opts))
	}

	for _, filter := range videoFilterChain(plan, caps, opts) {
		b.VideoFilter(filter)
	}
	return nil
}

// videoFilterChain translates the plan's abstract filter tokens into concrete
// ffmpeg filters, preserving the deinterlace, frame rate, tonemap, scale,
// burn-in order. Tonemap runs before scale so already-resampled pixels are
// never tonemapped; burn-in runs last so overlaid text is never resized.
func videoFilterChain(plan *planner.PlaybackPlan, caps *capabilities.ServerCapabilities, opts BuildOptions) []string {
	var chain []string
	scaleOnly := len(plan.Video.Filters) == 1 && plan.Video.Filters[0] == planner.FilterScale

	for _, token := range plan.Video.Filters {
		switch token {
		case planner.FilterDeinterlace:
			if caps.HasFilter("bwdif") {
				chain = append(chain, "bwdif")
			} else if caps.HasFilter("yadif") {
				chain = append(chain, "yadif")
			}
		case planner.FilterDetelecine:
			if caps.HasFilter("fieldmatch") && caps.HasFilter("decimate") {
				chain = append(chain, "fieldmatch", "decimate")
			}
		case planner.FilterCFR:
			if opts.Framerate > 0 && caps.HasFilter("fps") {
				chain = append(chain, fmt.Sprintf("fps=%.3f", opts.Framerate))
			}
		case planner.FilterTonemap:
			if caps.CanTonemap() {
				chain = append(chain,
					"zscale=t=linear:npl=100",
					"tonemap=hable:desat=0",
					"zscale=p=bt709:t=bt709:m=bt709:r=tv",
					"format=yuv420p",
				)
			} else if caps.HasFilter("format") {
				// No tonemap chain on this host; at least force
				// 8-bit output the encoder can take.
				chain = append(chain, "format=yuv420p")
			}
		case planner.FilterScale:
			name := "scale"
			if scaleOnly && plan.Video.HWAccel != "" && plan.Video.HWAccel != "none" {
				name = caps.ScaleFilterFor(plan.Video.HWAccel)
			}
			chain = append(chain, fmt.Sprintf("%s=%d:%d", name, plan.Video.TargetWidth, plan.Video.TargetHeight))
		case planner.FilterBurnIn:
			if caps.HasFilter("subtitles") {
				chain = append(chain, fmt.Sprintf("subtitles=%s:si=%d", escapeFilterPath(opts.MediaPath), opts.SubtitleStream))
			}
		}
	}
	return chain
}

func applyAudio(b *CommandBuilder, plan *planner.PlaybackPlan) {
	if plan.Audio.Action == planner.ActionCopy {
		b.AudioCodec("copy")
		return
	}
	encoder := plan.Audio.Encoder
	if encoder == "" {
		encoder = "aac"
	}
	b.AudioCodec(encoder)
	if plan.Audio.Channels > 0 {
		b.AudioChannels(plan.Audio.Channels)
	}
	if plan.Audio.Bitrate > 0 {
		b.AudioBitrate(fmt.Sprintf("%dk", plan.Audio.Bitrate/1000))
	}
	if off := plan.Quirks.AudioSyncOffset; off != 0 {
		b.AudioFilter(audioSyncFilter(off))
	}
}

// audioSyncFilter builds the filter that re-creates a source audio offset in
// the re-stamped output. The encode rebases all timestamps to zero, so audio
// that started after video gets its gap refilled with leading silence, and
// audio that started early gets the head trimmed off.
func audioSyncFilter(offset float64) string {
	if offset > 0 {
		ms := int(offset * 1000)
		return fmt.Sprintf("adelay=delays=%d:all=1", ms)
	}
	return fmt.Sprintf("atrim=start=%.3f,asetpts=PTS-STARTPTS", -offset)
}

func segmentSeconds(plan *planner.PlaybackPlan, opts BuildOptions) int {
	if opts.SegmentDuration > 0 {
		return opts.SegmentDuration
	}
	if plan.SegmentDuration > 0 {
		return plan.SegmentDuration
	}
	return 4
}

// escapeFilterPath quotes a path for use inside a filter argument. Colons
// and quotes are significant to the filter graph parser.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `'`, `\'`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	return "'" + path + "'"
}
