package ffmpeg

import (
	"strings"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/planner"
)

// BitstreamFilters holds the filters a copy pipeline needs for the target
// container, with the reason kept for logging.
type BitstreamFilters struct {
	Video  string
	Audio  string
	Reason string
}

// selectBitstreamFilters decides which bitstream filters a stream-copy
// pipeline needs. Every filter is checked against the capability manifest;
// a missing filter is skipped rather than assumed present.
func selectBitstreamFilters(plan *planner.PlaybackPlan, caps *capabilities.ServerCapabilities) BitstreamFilters {
	var out BitstreamFilters
	var reasons []string

	if plan.Video.Action == planner.ActionCopy {
		// MPEG-TS wants Annex B H.264/HEVC; MP4-family sources carry
		// length-prefixed NAL units.
		if plan.Container == "mpegts" {
			filter := annexBFilter(plan.Video.TargetCodec)
			if filter != "" && caps.HasBSF(filter) {
				out.Video = filter
				reasons = append(reasons, "mpegts needs annex b bitstream")
			}
		}
		if plan.HDR.Mode == planner.HDRModeConvertHDR10 && caps.HasBSF("dovi_rpu") {
			out.Video = joinBSF(out.Video, "dovi_rpu=strip=1")
			reasons = append(reasons, "dolby vision metadata stripped to hdr10 base layer")
		}
	}

	if plan.Audio.Action == planner.ActionCopy && plan.Audio.TargetCodec == "aac" {
		// AAC in ADTS framing (TS/MKV sources) must be repacked for
		// MP4-family output.
		if (plan.Container == "fmp4" || plan.Container == "mp4") && caps.HasBSF("aac_adtstoasc") {
			out.Audio = "aac_adtstoasc"
			reasons = append(reasons, "aac repacked from adts for mp4 output")
		}
	}

	out.Reason = strings.Join(reasons, "; ")
	return out
}

func annexBFilter(videoCodec string) string {
	switch videoCodec {
	case "h264":
		return "h264_mp4toannexb"
	case "h265", "hevc":
		return "hevc_mp4toannexb"
	default:
		return ""
	}
}

func joinBSF(existing, filter string) string {
	if existing == "" {
		return filter
	}
	return existing + "," + filter
}
