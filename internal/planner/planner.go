package planner

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/codec"
	"github.com/vodarr/vodarr/internal/probe"
)

// Preferences carries per-request user choices into planning.
type Preferences struct {
	// AudioLanguage selects the audio track by ISO language code. Empty
	// means the source default track.
	AudioLanguage string

	// SubtitleLanguage selects a subtitle track. Empty means none.
	SubtitleLanguage string

	// BurnSubtitles forces the selected subtitle track to be rendered into
	// the video, which in turn forces a full transcode.
	BurnSubtitles bool

	// HWAccel requests a hardware pipeline. HWAccelAuto picks the first
	// working one, HWAccelNone forces software.
	HWAccel codec.HWAccel

	// MaxBitrate caps the transcode bitrate in bits per second (0 = no
	// cap beyond the client's own limit).
	MaxBitrate int64

	SegmentDuration  int
	SegmentLookahead int
}

// Planner produces playback plans. It holds no mutable state; the struct
// exists so a logger can ride along.
type Planner struct {
	logger *slog.Logger
}

// New creates a planner with an optional logger.
func New(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Planner{logger: logger}
}

// Plan decides how a session will be delivered. Tiers are attempted in fixed
// order and the first viable one wins. Plan never fails: when nothing better
// is viable it degrades to a conservative full transcode, so every caller is
// guaranteed a usable plan.
func (p *Planner) Plan(
	media *probe.MediaInfo,
	client capabilities.ClientCapabilities,
	server *capabilities.ServerCapabilities,
	prefs Preferences,
) *PlaybackPlan {
	plan := &PlaybackPlan{
		SegmentDuration:  prefs.SegmentDuration,
		SegmentLookahead: prefs.SegmentLookahead,
		Reasons:          make([]string, 0),
		DecisionPath:     make([]string, 0),
	}

	video := media.DefaultVideoTrack()
	audio := p.selectAudio(media, prefs)
	plan.HDR = p.planHDR(media, client, plan)
	p.planSubtitles(plan, media, prefs)

	videoCopyOK, videoWhy := p.videoCopyViable(media, video, client, plan.HDR)
	audioCopyOK, audioWhy := p.audioCopyViable(media, audio, client)
	containerOK := client.SupportsContainer(media.Container)
	rangeOK := !client.RangeUnreliable

	if videoCopyOK {
		plan.reason("video %s playable by client, stream copy possible", trackCodec(video))
	} else {
		plan.reason("%s", videoWhy)
	}
	if audioCopyOK {
		plan.reason("audio %s playable by client, stream copy possible", audioCodec(audio))
	} else {
		plan.reason("%s", audioWhy)
	}
	if !containerOK {
		plan.reason("container %s not accepted by client", media.Container)
	}
	if !rangeOK {
		plan.reason("client flagged unreliable for byte-range requests")
	}

	// HDR handling that rewrites stream metadata needs an ffmpeg pass,
	// which rules out serving raw source bytes.
	needsProcessing := plan.HDR.Mode == HDRModeConvertHDR10

	mode := p.selectTier(plan, tierInputs{
		videoCopyOK:     videoCopyOK,
		audioCopyOK:     audioCopyOK,
		containerOK:     containerOK,
		rangeOK:         rangeOK,
		needsProcessing: needsProcessing,
		burnSubtitles:   plan.Subtitle.Mode == SubtitleBurn,
	})
	plan.Mode = mode
	plan.Transport = mode.Transport()

	p.planVideo(plan, media, video, client, server, prefs)
	p.planAudio(plan, audio, client, server)
	p.planQuirks(plan, media)
	plan.Container = p.planContainer(plan, media, client)
	p.recordGuarantees(plan)

	plan.CacheKey = computeCacheKey(media.Path, media.SizeBytes, plan.Mode,
		string(plan.Video.Action), plan.Video.TargetCodec,
		string(plan.Audio.Action), plan.Audio.TargetCodec,
		plan.Container, string(plan.HDR.Mode), string(plan.Subtitle.Mode),
	)

	p.logger.Debug("playback plan computed",
		slog.String("media", media.Path),
		slog.String("mode", string(plan.Mode)),
		slog.String("transport", string(plan.Transport)),
		slog.String("container", plan.Container),
		slog.String("hdr", string(plan.HDR.Mode)),
		slog.Any("reasons", plan.Reasons),
	)
	return plan
}

type tierInputs struct {
	videoCopyOK     bool
	audioCopyOK     bool
	containerOK     bool
	rangeOK         bool
	needsProcessing bool
	burnSubtitles   bool
}

// selectTier walks the tier hierarchy in order and returns the first viable
// mode, recording a verdict for every tier considered.
func (p *Planner) selectTier(plan *PlaybackPlan, in tierInputs) Mode {
	if in.burnSubtitles {
		// Burn-in renders text into pixels, so every copy tier is out.
		for _, tier := range tierOrder[:len(tierOrder)-1] {
			plan.trace(tier, "rejected: subtitle burn-in requires video encode")
		}
		plan.trace(ModeTranscodeHLS, "selected")
		plan.reason("subtitle burn-in required, full transcode")
		return ModeTranscodeHLS
	}

	for _, tier := range tierOrder {
		if verdict := p.tierViable(tier, in); verdict != "" {
			plan.trace(tier, "rejected: "+verdict)
			continue
		}
		plan.trace(tier, "selected")
		return tier
	}
	// Unreachable: transcode_hls never rejects.
	plan.trace(ModeTranscodeHLS, "selected")
	return ModeTranscodeHLS
}

// tierViable returns an empty string when the tier works, or the reason it
// does not.
func (p *Planner) tierViable(tier Mode, in tierInputs) string {
	switch tier {
	case ModeDirect:
		switch {
		case in.needsProcessing:
			return "stream metadata rewrite needed"
		case !in.videoCopyOK:
			return "video not playable by client"
		case !in.audioCopyOK:
			return "audio not playable by client"
		case !in.containerOK:
			return "container not accepted by client"
		case !in.rangeOK:
			return "byte-range delivery unreliable for client"
		}
		return ""
	case ModeDirectAudioTranscode:
		switch {
		case in.needsProcessing:
			return "stream metadata rewrite needed"
		case !in.videoCopyOK:
			return "video not playable by client"
		case in.audioCopyOK:
			return "audio already playable, tier unnecessary"
		case !in.containerOK:
			return "container not accepted by client"
		case !in.rangeOK:
			return "byte-range delivery unreliable for client"
		}
		return ""
	case ModeRemux:
		switch {
		case !in.videoCopyOK:
			return "video not playable by client"
		case !in.audioCopyOK:
			return "audio not playable by client"
		case in.containerOK && !in.needsProcessing:
			return "container already accepted, tier unnecessary"
		case !in.rangeOK:
			return "byte-range delivery unreliable for client"
		}
		return ""
	case ModeRemuxAudioTranscode:
		switch {
		case !in.videoCopyOK:
			return "video not playable by client"
		case in.audioCopyOK:
			return "audio already playable, tier unnecessary"
		case !in.rangeOK:
			return "byte-range delivery unreliable for client"
		}
		return ""
	case ModeRemuxHLS:
		switch {
		case !in.videoCopyOK:
			return "video not playable by client"
		case !in.audioCopyOK:
			return "audio not playable by client"
		}
		return ""
	case ModeRemuxHLSAudioTranscode:
		if !in.videoCopyOK {
			return "video not playable by client"
		}
		return ""
	case ModeTranscodeHLS:
		return ""
	}
	return "unknown tier"
}

// planHDR makes the secondary HDR decision: passthrough when the client
// declares support, strip Dolby Vision to its HDR10 base layer when the
// client handles HDR10, otherwise tonemap to SDR.
func (p *Planner) planHDR(media *probe.MediaInfo, client capabilities.ClientCapabilities, plan *PlaybackPlan) HDRPlan {
	q := media.Quirks
	switch {
	case q.DolbyVision:
		if client.SupportsDolbyVision {
			plan.reason("dolby vision passed through, client declares support")
			return HDRPlan{Source: "dolby_vision", Mode: HDRModePassthrough}
		}
		// Stripping to the HDR10 base layer only works for profiles that
		// carry one. Profile 5 is single-layer IPTPQc2 and unknown
		// profiles cannot be trusted to decode, so both tonemap instead.
		if client.SupportsHDR10 && dolbyVisionHasHDR10Base(q.DolbyVisionProfile) {
			plan.reason("dolby vision profile %d converted to hdr10 base layer, client lacks dolby vision support", q.DolbyVisionProfile)
			return HDRPlan{Source: "dolby_vision", Mode: HDRModeConvertHDR10}
		}
		plan.reason("dolby vision tonemapped to sdr, no extractable base layer for this client")
		return HDRPlan{Source: "dolby_vision", Mode: HDRModeTonemapSDR}
	case q.HDR10:
		if client.SupportsHDR10 {
			plan.reason("hdr10 passed through, client declares support")
			return HDRPlan{Source: "hdr10", Mode: HDRModePassthrough}
		}
		plan.reason("hdr10 tonemapped to sdr, client lacks hdr10 support")
		return HDRPlan{Source: "hdr10", Mode: HDRModeTonemapSDR}
	case q.HLG:
		if client.SupportsHLG {
			plan.reason("hlg passed through, client declares support")
			return HDRPlan{Source: "hlg", Mode: HDRModePassthrough}
		}
		plan.reason("hlg tonemapped to sdr, client lacks hlg support")
		return HDRPlan{Source: "hlg", Mode: HDRModeTonemapSDR}
	default:
		return HDRPlan{Source: "sdr", Mode: HDRModeNone}
	}
}

// dolbyVisionHasHDR10Base reports whether a DOVI profile carries a
// backwards-compatible HDR10 base layer.
func dolbyVisionHasHDR10Base(profile int) bool {
	return profile == 7 || profile == 8
}

// videoCopyViable reports whether the source video stream can be sent to the
// client unmodified.
func (p *Planner) videoCopyViable(media *probe.MediaInfo, video *probe.VideoTrack, client capabilities.ClientCapabilities, hdr HDRPlan) (bool, string) {
	if video == nil {
		return true, "" // audio-only media
	}
	if !client.SupportsVideoCodec(video.Codec) {
		return false, fmt.Sprintf("client cannot decode video codec %s", video.Codec)
	}
	if !client.FitsResolution(video.Width, video.Height) {
		return false, fmt.Sprintf("resolution %dx%d exceeds client limit", video.Width, video.Height)
	}
	if client.MaxBitrate > 0 && !client.FitsBitrate(int64(media.Bitrate)) {
		return false, fmt.Sprintf("source bitrate %d exceeds client limit %d", media.Bitrate, client.MaxBitrate)
	}
	if hdr.Mode == HDRModeTonemapSDR {
		return false, "tonemapping to sdr requires video encode"
	}
	return true, ""
}

func (p *Planner) audioCopyViable(media *probe.MediaInfo, audio *probe.AudioTrack, client capabilities.ClientCapabilities) (bool, string) {
	if audio == nil {
		return true, "" // video-only media
	}
	if !client.SupportsAudioCodec(audio.Codec) {
		return false, fmt.Sprintf("client cannot decode audio codec %s", audio.Codec)
	}
	if off := media.Quirks.AudioSyncOffset; off != 0 {
		return false, fmt.Sprintf("audio starts %.2fs off video, re-stamping timestamps", off)
	}
	return true, ""
}

// selectAudio picks the audio track: preferred language when requested,
// otherwise the source default.
func (p *Planner) selectAudio(media *probe.MediaInfo, prefs Preferences) *probe.AudioTrack {
	if prefs.AudioLanguage != "" {
		return media.BestAudioTrack(prefs.AudioLanguage)
	}
	return media.DefaultAudioTrack()
}

func (p *Planner) planVideo(plan *PlaybackPlan, media *probe.MediaInfo, video *probe.VideoTrack, client capabilities.ClientCapabilities, server *capabilities.ServerCapabilities, prefs Preferences) {
	if video == nil {
		return
	}
	plan.Video.StreamIndex = video.Index

	if !plan.Mode.TranscodesVideo() {
		plan.Video.Action = ActionCopy
		plan.Video.TargetCodec = codec.Normalize(video.Codec)
		return
	}

	plan.Video.Action = ActionEncode
	target, encoder, accel := p.selectVideoEncoder(client, server, prefs)
	plan.Video.TargetCodec = string(target)
	plan.Video.Encoder = encoder
	plan.Video.HWAccel = accel

	var filters []string
	if media.Quirks.Interlaced {
		filters = append(filters, FilterDeinterlace)
	}
	if media.Quirks.Telecine {
		filters = append(filters, FilterDetelecine)
	}
	if media.Quirks.VariableFrameRate {
		filters = append(filters, FilterCFR)
	}
	if plan.HDR.Mode == HDRModeTonemapSDR {
		filters = append(filters, FilterTonemap)
	}
	if w, h, scale := p.targetResolution(video, client); scale {
		filters = append(filters, FilterScale)
		plan.Video.TargetWidth = w
		plan.Video.TargetHeight = h
		plan.reason("scaling to %dx%d to fit client limits", w, h)
	}
	if plan.Subtitle.Mode == SubtitleBurn {
		filters = append(filters, FilterBurnIn)
	}
	plan.Video.Filters = filters

	bitrate := int64(media.Bitrate)
	if bitrate == 0 {
		bitrate = int64(video.Bitrate)
	}
	plan.Video.Bitrate = capBitrate(bitrate, client.MaxBitrate, prefs.MaxBitrate)

	if target == codec.VideoH264 {
		plan.Video.Profile = "high"
		plan.Video.Level = "4.1"
	}
}

// selectVideoEncoder picks the target codec and encoder. The target is the
// best codec the client can decode for which this server has an encoder,
// degrading to h264/libx264 as the floor every install is assumed to have.
func (p *Planner) selectVideoEncoder(client capabilities.ClientCapabilities, server *capabilities.ServerCapabilities, prefs Preferences) (codec.Video, string, codec.HWAccel) {
	accel := p.resolveHWAccel(server, prefs.HWAccel)

	candidates := []codec.Video{codec.VideoH265, codec.VideoH264}
	for _, target := range candidates {
		if !client.SupportsVideoCodec(string(target)) {
			continue
		}
		if enc, ok := server.EncoderFor(target, accel); ok {
			if !strings.HasSuffix(enc, suffixFor(accel)) && accel != codec.HWAccelNone {
				// Hardware requested but only a software encoder
				// exists for this codec; run software.
				return target, enc, codec.HWAccelNone
			}
			return target, enc, accel
		}
	}
	// Conservative floor.
	if enc, ok := server.EncoderFor(codec.VideoH264, accel); ok {
		if accel != codec.HWAccelNone && !strings.HasSuffix(enc, suffixFor(accel)) {
			return codec.VideoH264, enc, codec.HWAccelNone
		}
		return codec.VideoH264, enc, accel
	}
	return codec.VideoH264, "libx264", codec.HWAccelNone
}

func suffixFor(accel codec.HWAccel) string {
	switch accel {
	case codec.HWAccelCUDA:
		return "_nvenc"
	case codec.HWAccelQSV:
		return "_qsv"
	case codec.HWAccelVAAPI:
		return "_vaapi"
	case codec.HWAccelVT:
		return "_videotoolbox"
	default:
		return ""
	}
}

// resolveHWAccel maps the requested accel to what the server can actually do.
func (p *Planner) resolveHWAccel(server *capabilities.ServerCapabilities, requested codec.HWAccel) codec.HWAccel {
	switch requested {
	case codec.HWAccelNone:
		return codec.HWAccelNone
	case codec.HWAccelAuto, "":
		for _, accel := range []codec.HWAccel{codec.HWAccelCUDA, codec.HWAccelQSV, codec.HWAccelVAAPI, codec.HWAccelVT} {
			if server.HasHWAccel(accel) {
				return accel
			}
		}
		return codec.HWAccelNone
	default:
		if server.HasHWAccel(requested) {
			return requested
		}
		return codec.HWAccelNone
	}
}

// targetResolution computes the scaled dimensions needed to fit the client's
// limits, preserving aspect ratio. Returns scale=false when the source fits.
func (p *Planner) targetResolution(video *probe.VideoTrack, client capabilities.ClientCapabilities) (int, int, bool) {
	if client.FitsResolution(video.Width, video.Height) || video.Width == 0 || video.Height == 0 {
		return 0, 0, false
	}
	w, h := video.Width, video.Height
	if client.MaxWidth > 0 && w > client.MaxWidth {
		h = h * client.MaxWidth / w
		w = client.MaxWidth
	}
	if client.MaxHeight > 0 && h > client.MaxHeight {
		w = w * client.MaxHeight / h
		h = client.MaxHeight
	}
	// Encoders want even dimensions.
	return w &^ 1, h &^ 1, true
}

func capBitrate(source int64, limits ...int64) int64 {
	out := source
	for _, limit := range limits {
		if limit > 0 && (out == 0 || out > limit) {
			out = limit
		}
	}
	return out
}

func (p *Planner) planAudio(plan *PlaybackPlan, audio *probe.AudioTrack, client capabilities.ClientCapabilities, server *capabilities.ServerCapabilities) {
	if audio == nil {
		return
	}
	plan.Audio.StreamIndex = audio.Index
	plan.Audio.Language = audio.Language

	if !plan.Mode.TranscodesAudio() {
		plan.Audio.Action = ActionCopy
		plan.Audio.TargetCodec = codec.Normalize(audio.Codec)
		return
	}

	plan.Audio.Action = ActionEncode
	plan.Audio.TargetCodec = string(codec.AudioAAC)
	plan.Audio.Encoder = codec.GetAudioEncoder(codec.AudioAAC)
	plan.Audio.Channels = audio.Channels
	if plan.Audio.Channels > 6 || plan.Audio.Channels == 0 {
		plan.Audio.Channels = 2
	}
	plan.Audio.Bitrate = int64(128_000 * max(1, plan.Audio.Channels/2))
}

func (p *Planner) planSubtitles(plan *PlaybackPlan, media *probe.MediaInfo, prefs Preferences) {
	if prefs.SubtitleLanguage == "" {
		plan.Subtitle = SubtitlePlan{Mode: SubtitleNone}
		return
	}
	var selected *probe.SubtitleTrack
	for i := range media.SubtitleTracks {
		if strings.EqualFold(media.SubtitleTracks[i].Language, prefs.SubtitleLanguage) {
			selected = &media.SubtitleTracks[i]
			break
		}
	}
	if selected == nil {
		plan.Subtitle = SubtitlePlan{Mode: SubtitleNone}
		plan.reason("no subtitle track for language %q", prefs.SubtitleLanguage)
		return
	}
	if prefs.BurnSubtitles || !selected.IsTextBased() {
		plan.Subtitle = SubtitlePlan{Mode: SubtitleBurn, StreamIndex: selected.Index, Language: selected.Language}
		return
	}
	plan.Subtitle = SubtitlePlan{Mode: SubtitleSidecar, StreamIndex: selected.Index, Language: selected.Language}
}

func (p *Planner) planQuirks(plan *PlaybackPlan, media *probe.MediaInfo) {
	if plan.Mode.TranscodesVideo() {
		plan.Quirks.Deinterlace = media.Quirks.Interlaced
		plan.Quirks.Detelecine = media.Quirks.Telecine
		plan.Quirks.ForceCFR = media.Quirks.VariableFrameRate
	}
	if plan.Audio.Action == ActionEncode && media.Quirks.AudioSyncOffset != 0 {
		plan.Quirks.AudioSyncOffset = media.Quirks.AudioSyncOffset
	}
	// Legacy containers get their index/timestamp problems fixed by any
	// remux or transcode pass.
	if plan.Mode.UsesProcess() && (media.Container == "avi" || media.Container == "wmv") {
		plan.Quirks.ContainerFix = true
	}
}

// planContainer picks the output container for the chosen mode.
func (p *Planner) planContainer(plan *PlaybackPlan, media *probe.MediaInfo, client capabilities.ClientCapabilities) string {
	switch plan.Mode {
	case ModeDirect, ModeDirectAudioTranscode:
		return media.Container
	case ModeRemux, ModeRemuxAudioTranscode:
		return "mp4"
	default:
		// HLS segment container. Codecs that cannot ride MPEG-TS force
		// fMP4, as does a client that only handles one of the two.
		videoForcesFMP4 := codec.VideoRequiresFMP4(plan.Video.TargetCodec)
		audioForcesFMP4 := codec.AudioRequiresFMP4(plan.Audio.TargetCodec)
		if videoForcesFMP4 || audioForcesFMP4 || !client.SupportsMPEGTS {
			return string(codec.ContainerFMP4)
		}
		if !client.SupportsFMP4 {
			return string(codec.ContainerMPEGTS)
		}
		return string(codec.ContainerFMP4)
	}
}

func (p *Planner) recordGuarantees(plan *PlaybackPlan) {
	if plan.Video.Action == ActionCopy {
		plan.Guarantees = append(plan.Guarantees, "video stream copied bit-exact")
	}
	if plan.Audio.Action == ActionCopy {
		plan.Guarantees = append(plan.Guarantees, "audio stream copied bit-exact")
	}
	if plan.HDR.Mode == HDRModePassthrough {
		plan.Guarantees = append(plan.Guarantees, "dynamic range preserved")
	}
	plan.Guarantees = append(plan.Guarantees, "single external process per epoch")
}

func trackCodec(v *probe.VideoTrack) string {
	if v == nil {
		return "none"
	}
	return v.Codec
}

func audioCodec(a *probe.AudioTrack) string {
	if a == nil {
		return "none"
	}
	return a.Codec
}
