// Package capabilities discovers what the local ffmpeg installation and the
// host machine can do, and models what a connected client can play.
package capabilities

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/vodarr/vodarr/internal/codec"
	"github.com/vodarr/vodarr/internal/util"
)

// ServerCapabilities describes the transcoding capability of this host.
type ServerCapabilities struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
	Decoders      []string `json:"decoders,omitempty"`
	Filters       []string `json:"filters,omitempty"`
	BSFs          []string `json:"bitstream_filters,omitempty"`

	// HWAccels lists the acceleration methods that survived the smoke
	// tests; HWAccelDetail keeps the per-method verdicts including the
	// ones that failed.
	HWAccels      []string        `json:"hw_accels,omitempty"`
	HWAccelDetail []HWAccelStatus `json:"hw_accel_detail,omitempty"`

	CPUCores    int    `json:"cpu_cores"`
	TotalMemory uint64 `json:"total_memory_bytes"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`

	// MaxConcurrentSessions is the host's estimated transcode budget,
	// derived from core count and working hardware encoders.
	MaxConcurrentSessions int `json:"max_concurrent_sessions"`
}

// HasEncoder returns true if the encoder is available.
func (c *ServerCapabilities) HasEncoder(name string) bool {
	return slices.Contains(c.Encoders, name)
}

// HasDecoder returns true if the decoder is available.
func (c *ServerCapabilities) HasDecoder(name string) bool {
	return slices.Contains(c.Decoders, name)
}

// HasFilter returns true if the filter is available.
func (c *ServerCapabilities) HasFilter(name string) bool {
	return slices.Contains(c.Filters, name)
}

// HasBSF returns true if the bitstream filter is available.
func (c *ServerCapabilities) HasBSF(name string) bool {
	return slices.Contains(c.BSFs, name)
}

// HasHWAccel returns true if the hardware acceleration method is available.
func (c *ServerCapabilities) HasHWAccel(accel codec.HWAccel) bool {
	return slices.Contains(c.HWAccels, string(accel))
}

// EncoderFor returns the best available encoder for the target video codec,
// preferring the hardware encoder for the given accel when present.
func (c *ServerCapabilities) EncoderFor(target codec.Video, accel codec.HWAccel) (string, bool) {
	if accel != codec.HWAccelNone {
		if enc := codec.GetVideoEncoder(target, accel); enc != "" && c.HasEncoder(enc) {
			return enc, true
		}
	}
	if enc := codec.GetVideoEncoder(target, codec.HWAccelNone); enc != "" && c.HasEncoder(enc) {
		return enc, true
	}
	return "", false
}

// ScaleFilterFor returns the scale filter matching the hardware pipeline, or
// plain "scale" when software scaling is in use.
func (c *ServerCapabilities) ScaleFilterFor(accel codec.HWAccel) string {
	var name string
	switch accel {
	case codec.HWAccelCUDA:
		name = "scale_cuda"
	case codec.HWAccelQSV:
		name = "scale_qsv"
	case codec.HWAccelVAAPI:
		name = "scale_vaapi"
	case codec.HWAccelVT:
		name = "scale_vt"
	default:
		return "scale"
	}
	if c.HasFilter(name) {
		return name
	}
	return "scale"
}

// CanTonemap returns true if the tonemapping filter chain is available.
func (c *ServerCapabilities) CanTonemap() bool {
	return c.HasFilter("zscale") && c.HasFilter("tonemap")
}

// Detector detects ffmpeg capabilities with a TTL cache so repeated plan
// requests do not re-exec ffmpeg.
type Detector struct {
	mu           sync.RWMutex
	caps         *ServerCapabilities
	lastDetected time.Time
	cacheTTL     time.Duration
	ffmpegPath   string
	ffprobePath  string
}

// NewDetector creates a capability detector. Empty paths trigger binary
// discovery via VODARR_FFMPEG_BINARY / VODARR_FFPROBE_BINARY and PATH.
func NewDetector(ffmpegPath, ffprobePath string) *Detector {
	return &Detector{
		cacheTTL:    5 * time.Minute,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// WithCacheTTL sets the cache TTL for capability detection.
func (d *Detector) WithCacheTTL(ttl time.Duration) *Detector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the server capabilities, re-running detection only when the
// cached result has expired.
func (d *Detector) Detect(ctx context.Context) (*ServerCapabilities, error) {
	d.mu.RLock()
	if d.caps != nil && time.Since(d.lastDetected) < d.cacheTTL {
		caps := d.caps
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.caps != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.caps, nil
	}

	caps, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.caps = caps
	d.lastDetected = time.Now()
	return caps, nil
}

// Clear drops the cached capabilities.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = nil
}

func (d *Detector) detect(ctx context.Context) (*ServerCapabilities, error) {
	caps := &ServerCapabilities{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		path, err := util.FindBinary("ffmpeg", "VODARR_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = path
	}
	caps.FFmpegPath = ffmpegPath

	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		// ffprobe is required for media analysis, unlike ffmpeg extras
		// it cannot be skipped.
		path, err := util.FindBinary("ffprobe", "VODARR_FFPROBE_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found: %w", err)
		}
		ffprobePath = path
	}
	caps.FFprobePath = ffprobePath

	version, err := d.run(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	full, major, minor, configuration := ParseVersion(version)
	if full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	caps.Version = full
	caps.MajorVersion = major
	caps.MinorVersion = minor
	caps.Configuration = configuration

	if out, err := d.run(ctx, ffmpegPath, "-encoders", "-hide_banner"); err == nil {
		caps.Encoders = ParseCoders(out)
	}
	if out, err := d.run(ctx, ffmpegPath, "-decoders", "-hide_banner"); err == nil {
		caps.Decoders = ParseCoders(out)
	}
	if out, err := d.run(ctx, ffmpegPath, "-filters", "-hide_banner"); err == nil {
		caps.Filters = ParseFilters(out)
	}
	if out, err := d.run(ctx, ffmpegPath, "-bsfs", "-hide_banner"); err == nil {
		caps.BSFs = ParseBSFs(out)
	}
	if out, err := d.run(ctx, ffmpegPath, "-hwaccels", "-hide_banner"); err == nil {
		caps.HWAccelDetail = d.testHWAccels(ctx, ffmpegPath, ParseHWAccels(out))
		caps.HWAccels = workingHWAccels(caps.HWAccelDetail)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		caps.TotalMemory = vm.Total
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil && counts > 0 {
		caps.CPUCores = counts
	}
	caps.MaxConcurrentSessions = estimateMaxSessions(caps.CPUCores, hasHWEncoder(caps.Encoders, caps.HWAccels))

	return caps, nil
}

func (d *Detector) run(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// ParseVersion extracts the version string, numeric components, and build
// configuration from `ffmpeg -version` output.
func ParseVersion(output string) (full string, major, minor int, configuration string) {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "ffmpeg version") {
			// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n7.1-2-g..."
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				full = parts[2]
				matches := versionRegex.FindStringSubmatch(parts[2])
				if len(matches) >= 3 {
					major, _ = strconv.Atoi(matches[1])
					minor, _ = strconv.Atoi(matches[2])
				}
			}
		} else if strings.HasPrefix(line, "configuration:") {
			configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	return full, major, minor, configuration
}

// ParseCoders parses `ffmpeg -encoders` or `-decoders` output into a list of
// coder names. Both listings share the flags-name-description line format.
func ParseCoders(output string) []string {
	var names []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		// Format: V....D encoder_name description
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		rest := strings.TrimSpace(line[6:])
		parts := strings.Fields(rest)
		if len(parts) >= 1 && parts[0] != "" {
			names = append(names, parts[0])
		}
	}
	return names
}

// ParseFilters parses `ffmpeg -filters` output into a list of filter names.
func ParseFilters(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		// Format: "T.C scale  V->V  Scale the input video..."
		if len(line) < 5 {
			continue
		}
		flags := line[:3]
		ok := true
		for _, r := range flags {
			if r != 'T' && r != 'S' && r != 'C' && r != '.' {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		parts := strings.Fields(line[3:])
		if len(parts) >= 2 && strings.Contains(parts[1], "->") {
			names = append(names, parts[0])
		}
	}
	return names
}

// ParseBSFs parses `ffmpeg -bsfs` output.
func ParseBSFs(output string) []string {
	var names []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Bitstream filters:" {
			inList = true
			continue
		}
		if inList && line != "" {
			names = append(names, line)
		}
	}
	return names
}

// ParseHWAccels parses `ffmpeg -hwaccels` output.
func ParseHWAccels(output string) []string {
	var accels []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}
