package ffmpeg

import (
	"fmt"
	"strings"
)

// CommandBuilder assembles ffmpeg argument lists with a fluent API. Argument
// groups are emitted in the fixed order global, input, mapping, codec,
// filter, output so callers cannot produce an invalid ordering.
type CommandBuilder struct {
	binary       string
	logLevel     string
	overwrite    bool
	globalArgs   []string
	inputArgs    []string
	input        string
	mapArgs      []string
	codecArgs    []string
	filters      []string
	audioFilters []string
	outputArgs   []string
	output       string
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// Overwrite allows ffmpeg to replace existing output files.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats keeps the periodic progress line on stderr even at quiet log levels.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// HWAccel requests hardware-assisted decoding.
func (b *CommandBuilder) HWAccel(accel string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-hwaccel", accel)
	return b
}

// SeekTo places a fast input seek before -i.
func (b *CommandBuilder) SeekTo(seconds float64) *CommandBuilder {
	if seconds > 0 {
		b.inputArgs = append(b.inputArgs, "-ss", fmt.Sprintf("%.3f", seconds))
	}
	return b
}

// Input sets the input path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs appends raw input-side arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Map selects one input stream by absolute index.
func (b *CommandBuilder) Map(streamIndex int) *CommandBuilder {
	b.mapArgs = append(b.mapArgs, "-map", fmt.Sprintf("0:%d", streamIndex))
	return b
}

// VideoCodec sets the video codec or "copy".
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec or "copy".
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-c:a", codec)
	return b
}

// VideoBitrate caps video bitrate, e.g. "8000k".
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-b:v", bitrate, "-maxrate", bitrate)
	return b
}

// AudioBitrate sets audio bitrate, e.g. "192k".
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-b:a", bitrate)
	return b
}

// AudioChannels sets the output channel count.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-ac", fmt.Sprintf("%d", channels))
	return b
}

// VideoProfile sets the encoder profile and level.
func (b *CommandBuilder) VideoProfile(profile, level string) *CommandBuilder {
	if profile != "" {
		b.codecArgs = append(b.codecArgs, "-profile:v", profile)
	}
	if level != "" {
		b.codecArgs = append(b.codecArgs, "-level:v", level)
	}
	return b
}

// VideoPreset sets the encoder speed preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-preset", preset)
	return b
}

// VideoBSF appends a video bitstream filter.
func (b *CommandBuilder) VideoBSF(filter string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-bsf:v", filter)
	return b
}

// AudioBSF appends an audio bitstream filter.
func (b *CommandBuilder) AudioBSF(filter string) *CommandBuilder {
	b.codecArgs = append(b.codecArgs, "-bsf:a", filter)
	return b
}

// VideoFilter appends one element to the video filter chain. Filters render
// in append order, joined with commas.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filters = append(b.filters, filter)
	return b
}

// AudioFilter appends one element to the audio filter chain. Filters render
// in append order, joined with commas.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.audioFilters = append(b.audioFilters, filter)
	return b
}

// ForceKeyframes pins keyframes to segment boundaries so segment cuts land
// exactly on the configured duration.
func (b *CommandBuilder) ForceKeyframes(segmentSeconds int) *CommandBuilder {
	expr := fmt.Sprintf("expr:gte(t,n_forced*%d)", segmentSeconds)
	b.codecArgs = append(b.codecArgs, "-force_key_frames", expr)
	return b
}

// OutputArgs appends raw output-side arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// HLSArgs configures the HLS muxer: segment length, unbounded playlist, and
// the segment filename pattern shared with the HTTP surface.
func (b *CommandBuilder) HLSArgs(segmentSeconds int, segmentPattern, playlistPath string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "event",
		"-hls_segment_filename", segmentPattern,
	)
	b.output = playlistPath
	return b
}

// StartNumber sets the first segment index the HLS muxer emits, so a
// restarted process continues an epoch's numbering instead of colliding
// with segments already on disk.
func (b *CommandBuilder) StartNumber(n int) *CommandBuilder {
	if n > 0 {
		b.outputArgs = append(b.outputArgs, "-start_number", fmt.Sprintf("%d", n))
	}
	return b
}

// FMP4Segments switches HLS segments to fragmented MP4 with the given init
// segment name.
func (b *CommandBuilder) FMP4Segments(initName string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-hls_segment_type", "fmp4",
		"-hls_fmp4_init_filename", initName,
	)
	return b
}

// ProgressiveMP4 configures a growing fragmented MP4 output readable while
// it is still being written.
func (b *CommandBuilder) ProgressiveMP4(outputPath string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "mp4",
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
	)
	b.output = outputPath
	return b
}

// Output sets the output path when no format helper already did.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// BuildArgs assembles the final ordered argument list.
func (b *CommandBuilder) BuildArgs() []string {
	var args []string
	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.mapArgs...)
	args = append(args, b.codecArgs...)
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	if len(b.audioFilters) > 0 {
		args = append(args, "-af", strings.Join(b.audioFilters, ","))
	}
	args = append(args, b.outputArgs...)
	args = append(args, b.output)
	return args
}

// Build assembles the argument list and wraps it in a supervised Command.
func (b *CommandBuilder) Build() *Command {
	return NewCommand(b.binary, b.BuildArgs())
}
