package hls

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Errors returned by segment accumulation.
var (
	ErrStaleEpoch = errors.New("segment belongs to a previous epoch")
	ErrOutOfOrder = errors.New("segment index out of order")
)

// Segment is one media segment tracked by the playlist.
type Segment struct {
	// Index is the per-epoch segment number, starting at 0 each epoch.
	Index int `json:"index"`

	// Epoch identifies the process run that produced the segment.
	Epoch int `json:"epoch"`

	Duration  float64 `json:"duration"`
	SizeBytes int64   `json:"size_bytes"`

	// StartTime and EndTime are source-media positions in seconds.
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`

	// Discontinuity marks the first segment after an epoch transition.
	Discontinuity bool `json:"discontinuity"`
}

// FileName returns the segment's on-disk name.
func (s Segment) FileName(container string) string {
	return SegmentFileName(s.Epoch, s.Index, container)
}

// MediaPlaylist accumulates segments across epochs and renders the media
// manifest. Pure bookkeeping: it never touches the filesystem.
type MediaPlaylist struct {
	mu sync.RWMutex

	container       string
	fmp4            bool
	segmentDuration int

	segments              []Segment
	currentEpoch          int
	discontinuitySequence int
	ended                 bool
}

// NewMediaPlaylist creates a playlist for the given segment container
// ("fmp4" or "mpegts") and configured segment duration in seconds.
func NewMediaPlaylist(container string, segmentDuration int) *MediaPlaylist {
	if segmentDuration <= 0 {
		segmentDuration = 4
	}
	return &MediaPlaylist{
		container:       container,
		fmp4:            container == "fmp4",
		segmentDuration: segmentDuration,
	}
}

// StartNewEpoch begins a new epoch: the per-epoch segment index restarts at
// zero and the discontinuity sequence advances. Prior epochs' segments are
// retained for playlist continuity. Returns the new epoch index.
func (p *MediaPlaylist) StartNewEpoch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentEpoch++
	p.discontinuitySequence++
	return p.currentEpoch
}

// AddSegment appends a segment. Segments from a previous epoch are rejected
// with ErrStaleEpoch; within the current epoch indices must arrive as an
// unbroken sequence from zero, anything else is ErrOutOfOrder. The first
// segment after an epoch transition gets its discontinuity flag set.
func (p *MediaPlaylist) AddSegment(seg Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg.Epoch != p.currentEpoch {
		return fmt.Errorf("%w: segment epoch %d, current %d", ErrStaleEpoch, seg.Epoch, p.currentEpoch)
	}

	next := 0
	if last := p.lastInEpochLocked(p.currentEpoch); last != nil {
		next = last.Index + 1
	}
	if seg.Index != next {
		return fmt.Errorf("%w: got index %d, want %d", ErrOutOfOrder, seg.Index, next)
	}

	if seg.Index == 0 && p.currentEpoch > 0 {
		seg.Discontinuity = true
	}
	p.segments = append(p.segments, seg)
	return nil
}

func (p *MediaPlaylist) lastInEpochLocked(epoch int) *Segment {
	for i := len(p.segments) - 1; i >= 0; i-- {
		if p.segments[i].Epoch == epoch {
			return &p.segments[i]
		}
	}
	return nil
}

// Finalize marks the playlist complete. Idempotent.
func (p *MediaPlaylist) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
}

// Ended reports whether the playlist has been finalized.
func (p *MediaPlaylist) Ended() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ended
}

// CurrentEpoch returns the active epoch index.
func (p *MediaPlaylist) CurrentEpoch() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentEpoch
}

// DiscontinuitySequence returns how many epoch transitions have occurred.
func (p *MediaPlaylist) DiscontinuitySequence() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.discontinuitySequence
}

// SegmentCount returns the total number of segments across all epochs.
func (p *MediaPlaylist) SegmentCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.segments)
}

// EpochSegmentCount returns the number of segments in the current epoch.
func (p *MediaPlaylist) EpochSegmentCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for i := len(p.segments) - 1; i >= 0; i-- {
		if p.segments[i].Epoch != p.currentEpoch {
			break
		}
		n++
	}
	return n
}

// Segments returns a copy of all tracked segments.
func (p *MediaPlaylist) Segments() []Segment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// HasSegment reports whether the given epoch/index pair has been recorded.
func (p *MediaPlaylist) HasSegment(epoch, index int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.segments) - 1; i >= 0; i-- {
		if p.segments[i].Epoch == epoch && p.segments[i].Index == index {
			return true
		}
	}
	return false
}

// TargetDuration returns the manifest target duration: the configured
// segment length, raised if any produced segment ran longer.
func (p *MediaPlaylist) TargetDuration() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.targetDurationLocked()
}

func (p *MediaPlaylist) targetDurationLocked() int {
	target := p.segmentDuration
	for _, seg := range p.segments {
		if d := int(math.Ceil(seg.Duration)); d > target {
			target = d
		}
	}
	return target
}

// RenderMedia renders the media playlist text. Each epoch boundary present
// in the segment list gets exactly one discontinuity marker; fMP4 output
// gets a map tag per epoch since every process run writes its own init
// segment.
func (p *MediaPlaylist) RenderMedia() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	if p.fmp4 {
		b.WriteString("#EXT-X-VERSION:7\n")
	} else {
		b.WriteString("#EXT-X-VERSION:3\n")
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.targetDurationLocked())
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	fmt.Fprintf(&b, "#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", p.discontinuitySequence)

	lastEpoch := -1
	for _, seg := range p.segments {
		if seg.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if p.fmp4 && seg.Epoch != lastEpoch {
			fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", InitFileName(seg.Epoch))
			lastEpoch = seg.Epoch
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(seg.FileName(p.container))
		b.WriteByte('\n')
	}

	if p.ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
