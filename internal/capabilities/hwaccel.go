package capabilities

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// HWAccelStatus records one acceleration method from `-hwaccels`: whether a
// functional smoke test exists for it on this platform, and whether that
// test passed. Methods with no test are assumed working, matching what the
// listing alone would claim.
type HWAccelStatus struct {
	Name   string `json:"name"`
	Tested bool   `json:"tested"`
	Works  bool   `json:"works"`
	Device string `json:"device,omitempty"`
}

// hwAccelCandidates returns the argument lists that push one frame through
// an acceleration method end to end. Listing an accel only proves ffmpeg was
// built with it; a null-sink encode proves the driver and device exist.
// Methods tied to another OS return nothing so they fail fast.
func hwAccelCandidates(accel string) []hwAccelCandidate {
	const testInput = "nullsrc=s=320x240:d=0.1"
	switch accel {
	case "cuda", "nvdec":
		return []hwAccelCandidate{{
			device: "cuda",
			args: []string{"-hide_banner", "-hwaccel", "cuda",
				"-f", "lavfi", "-i", testInput,
				"-c:v", "h264_nvenc", "-t", "0.01", "-f", "null", "-"},
		}}
	case "qsv":
		return []hwAccelCandidate{{
			device: "qsv",
			args: []string{"-hide_banner", "-init_hw_device", "qsv=hw",
				"-f", "lavfi", "-i", testInput,
				"-vf", "hwupload=extra_hw_frames=64,format=qsv",
				"-c:v", "h264_qsv", "-t", "0.01", "-f", "null", "-"},
		}}
	case "vaapi":
		if runtime.GOOS != "linux" {
			return nil
		}
		var out []hwAccelCandidate
		for _, dev := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
			out = append(out, hwAccelCandidate{
				device: dev,
				args: []string{"-hide_banner", "-vaapi_device", dev,
					"-f", "lavfi", "-i", testInput,
					"-vf", "format=nv12,hwupload",
					"-c:v", "h264_vaapi", "-t", "0.01", "-f", "null", "-"},
			})
		}
		return out
	case "videotoolbox":
		if runtime.GOOS != "darwin" {
			return nil
		}
		return []hwAccelCandidate{{
			device: "videotoolbox",
			args: []string{"-hide_banner",
				"-f", "lavfi", "-i", testInput,
				"-c:v", "h264_videotoolbox", "-t", "0.01", "-f", "null", "-"},
		}}
	default:
		return nil
	}
}

type hwAccelCandidate struct {
	device string
	args   []string
}

// hwAccelTestable reports whether a functional smoke test exists for the
// accel at all, regardless of platform.
func hwAccelTestable(accel string) bool {
	switch accel {
	case "cuda", "nvdec", "qsv", "vaapi", "videotoolbox":
		return true
	}
	return false
}

// testHWAccels smoke-tests every listed acceleration method. Testable
// methods whose encode fails are marked broken; untestable ones pass
// through as listed.
func (d *Detector) testHWAccels(ctx context.Context, ffmpegPath string, listed []string) []HWAccelStatus {
	out := make([]HWAccelStatus, 0, len(listed))
	for _, accel := range listed {
		status := HWAccelStatus{Name: accel}
		if !hwAccelTestable(accel) {
			status.Works = true
			out = append(out, status)
			continue
		}
		status.Tested = true
		for _, cand := range hwAccelCandidates(accel) {
			if exec.CommandContext(ctx, ffmpegPath, cand.args...).Run() == nil {
				status.Works = true
				status.Device = cand.device
				break
			}
		}
		out = append(out, status)
	}
	return out
}

// workingHWAccels filters the status list down to the accel names the
// planner may select.
func workingHWAccels(detail []HWAccelStatus) []string {
	var names []string
	for _, st := range detail {
		if st.Works {
			names = append(names, st.Name)
		}
	}
	return names
}

// estimateMaxSessions guesses how many simultaneous transcodes the host can
// sustain. A software 1080p encode saturates roughly four cores; hardware
// encoders offload that work, so the session budget follows the core count.
func estimateMaxSessions(cores int, hwEncode bool) int {
	if cores <= 0 {
		return 1
	}
	n := cores / 4
	if hwEncode {
		n = cores
	}
	if n < 1 {
		n = 1
	}
	if n > 16 {
		n = 16
	}
	return n
}

// hasHWEncoder reports whether any hardware video encoder survived both the
// encoder listing and the accel smoke tests.
func hasHWEncoder(encoders, accels []string) bool {
	if len(accels) == 0 {
		return false
	}
	for _, enc := range encoders {
		if strings.Contains(enc, "_nvenc") || strings.Contains(enc, "_qsv") ||
			strings.Contains(enc, "_vaapi") || strings.Contains(enc, "_videotoolbox") {
			return true
		}
	}
	return false
}
