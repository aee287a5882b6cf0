// Package hls models a session's segmented output: the on-disk naming
// contract shared by the ffmpeg flags and the HTTP surface, and the playlist
// bookkeeping that turns discovered segments into a valid manifest.
package hls

import (
	"fmt"
	"regexp"
	"strconv"
)

// Playlist filenames served to clients.
const (
	MasterPlaylistName = "master.m3u8"
	MediaPlaylistName  = "media.m3u8"
)

// SegmentExt returns the file extension for a segment container.
func SegmentExt(container string) string {
	if container == "fmp4" {
		return "m4s"
	}
	return "ts"
}

// SegmentFileName returns the on-disk name for one segment. Epoch prefixes
// keep output from a restarted process from colliding with stale files.
func SegmentFileName(epoch, index int, container string) string {
	return fmt.Sprintf("e%d-s%05d.%s", epoch, index, SegmentExt(container))
}

// SegmentPattern returns the printf-style pattern handed to the ffmpeg HLS
// muxer, matching SegmentFileName's layout.
func SegmentPattern(epoch int, container string) string {
	return fmt.Sprintf("e%d-s%%05d.%s", epoch, SegmentExt(container))
}

// InitFileName returns the fMP4 initialization segment name for an epoch.
func InitFileName(epoch int) string {
	return fmt.Sprintf("e%d-init.mp4", epoch)
}

// EpochPlaylistName is the playlist ffmpeg itself writes. It is never served;
// the manifest clients see is rendered from the playlist model.
func EpochPlaylistName(epoch int) string {
	return fmt.Sprintf("e%d.m3u8", epoch)
}

var segmentNameRe = regexp.MustCompile(`^e(\d+)-s(\d+)\.(?:ts|m4s)$`)

// ParseSegmentFileName extracts the epoch and index from a segment filename.
func ParseSegmentFileName(name string) (epoch, index int, ok bool) {
	m := segmentNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	epoch, err1 := strconv.Atoi(m[1])
	index, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return epoch, index, true
}
