package hls

import (
	"strings"
	"testing"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addSegments(t *testing.T, p *MediaPlaylist, epoch, count int, duration float64) {
	t.Helper()
	for i := 0; i < count; i++ {
		start := float64(i) * duration
		err := p.AddSegment(Segment{
			Index:     i,
			Epoch:     epoch,
			Duration:  duration,
			StartTime: start,
			EndTime:   start + duration,
		})
		require.NoError(t, err)
	}
}

func TestMediaPlaylist_AddSegmentOrdering(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)

	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 0, Duration: 4}))
	require.NoError(t, p.AddSegment(Segment{Index: 1, Epoch: 0, Duration: 4}))

	// Gaps and repeats are both out of order.
	err := p.AddSegment(Segment{Index: 3, Epoch: 0, Duration: 4})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	err = p.AddSegment(Segment{Index: 1, Epoch: 0, Duration: 4})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, p.AddSegment(Segment{Index: 2, Epoch: 0, Duration: 4}))
	assert.Equal(t, 3, p.SegmentCount())
}

func TestMediaPlaylist_FirstSegmentMustBeZero(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	err := p.AddSegment(Segment{Index: 1, Epoch: 0, Duration: 4})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestMediaPlaylist_StaleEpochRejected(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 2, 4)

	require.Equal(t, 1, p.StartNewEpoch())

	// A straggler from the old process must not land in the new epoch.
	err := p.AddSegment(Segment{Index: 2, Epoch: 0, Duration: 4})
	assert.ErrorIs(t, err, ErrStaleEpoch)

	// Nor anything from the future.
	err = p.AddSegment(Segment{Index: 0, Epoch: 2, Duration: 4})
	assert.ErrorIs(t, err, ErrStaleEpoch)

	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4}))
}

func TestMediaPlaylist_EpochTransition(t *testing.T) {
	p := NewMediaPlaylist("fmp4", 4)
	addSegments(t, p, 0, 3, 4)

	assert.Equal(t, 0, p.DiscontinuitySequence())
	assert.Equal(t, 1, p.StartNewEpoch())
	assert.Equal(t, 1, p.DiscontinuitySequence())
	assert.Equal(t, 1, p.CurrentEpoch())
	assert.Equal(t, 0, p.EpochSegmentCount())

	// Index restarts at zero and the first segment carries the
	// discontinuity flag.
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4}))
	segs := p.Segments()
	require.Len(t, segs, 4)
	assert.True(t, segs[3].Discontinuity)
	assert.False(t, segs[0].Discontinuity)
	assert.Equal(t, 1, p.EpochSegmentCount())
}

func TestMediaPlaylist_IndexResumesWithinNewEpoch(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 5, 4)
	p.StartNewEpoch()

	// Sequencing restarts per epoch: the old epoch's higher indices must
	// not influence what the new epoch expects next.
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4}))
	require.NoError(t, p.AddSegment(Segment{Index: 1, Epoch: 1, Duration: 4}))
	err := p.AddSegment(Segment{Index: 5, Epoch: 1, Duration: 4})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 2, p.EpochSegmentCount())
}

func TestMediaPlaylist_DiscontinuitySequenceCountsTransitions(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 1, 4)
	p.StartNewEpoch()
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4}))
	p.StartNewEpoch()
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 2, Duration: 4}))

	assert.Equal(t, 2, p.DiscontinuitySequence())
	assert.Contains(t, p.RenderMedia(), "#EXT-X-DISCONTINUITY-SEQUENCE:2\n")
}

func TestMediaPlaylist_FinalizeIdempotent(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 1, 4)

	assert.False(t, p.Ended())
	p.Finalize()
	p.Finalize()
	assert.True(t, p.Ended())
	assert.Equal(t, 1, strings.Count(p.RenderMedia(), "#EXT-X-ENDLIST"))
}

func TestMediaPlaylist_TargetDuration(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	assert.Equal(t, 4, p.TargetDuration())

	// A long segment raises the target above the configured length.
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 0, Duration: 6.2}))
	assert.Equal(t, 7, p.TargetDuration())

	// Shorter segments never lower it back.
	require.NoError(t, p.AddSegment(Segment{Index: 1, Epoch: 0, Duration: 2.0}))
	assert.Equal(t, 7, p.TargetDuration())
}

func TestMediaPlaylist_HasSegment(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 2, 4)
	p.StartNewEpoch()
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4}))

	assert.True(t, p.HasSegment(0, 1))
	assert.True(t, p.HasSegment(1, 0))
	assert.False(t, p.HasSegment(0, 2))
	assert.False(t, p.HasSegment(1, 1))
}

func TestMediaPlaylist_RenderMediaMPEGTS(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 2, 4.0)
	p.StartNewEpoch()
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4.0}))
	p.Finalize()

	out := p.RenderMedia()
	assert.Contains(t, out, "#EXT-X-VERSION:3\n")
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:4\n")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0\n")
	assert.Contains(t, out, "e0-s00000.ts\n")
	assert.Contains(t, out, "e0-s00001.ts\n")
	assert.Contains(t, out, "e1-s00000.ts\n")
	assert.NotContains(t, out, "EXT-X-MAP")
	assert.Equal(t, 1, strings.Count(out, "#EXT-X-DISCONTINUITY\n"))

	// The marker sits immediately before the new epoch's first segment.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		if line == "#EXT-X-DISCONTINUITY" {
			require.Greater(t, len(lines), i+2)
			assert.Equal(t, "e1-s00000.ts", lines[i+2])
		}
	}
}

func TestMediaPlaylist_RenderMediaFMP4(t *testing.T) {
	p := NewMediaPlaylist("fmp4", 4)
	addSegments(t, p, 0, 2, 4.0)
	p.StartNewEpoch()
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 4.0}))

	out := p.RenderMedia()
	assert.Contains(t, out, "#EXT-X-VERSION:7\n")
	assert.Contains(t, out, `#EXT-X-MAP:URI="e0-init.mp4"`)
	assert.Contains(t, out, `#EXT-X-MAP:URI="e1-init.mp4"`)
	assert.Contains(t, out, "e1-s00000.m4s\n")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")
}

// The rendered manifest must parse with a real HLS library, with the
// segment list surviving the round trip.
func TestMediaPlaylist_RenderMediaParses(t *testing.T) {
	p := NewMediaPlaylist("mpegts", 4)
	addSegments(t, p, 0, 3, 4.0)
	p.StartNewEpoch()
	require.NoError(t, p.AddSegment(Segment{Index: 0, Epoch: 1, Duration: 3.5}))
	p.Finalize()

	parsed, err := playlist.Unmarshal([]byte(p.RenderMedia()))
	require.NoError(t, err)
	media, ok := parsed.(*playlist.Media)
	require.True(t, ok, "expected a media playlist")

	assert.Equal(t, 4, media.TargetDuration)
	assert.Equal(t, 0, media.MediaSequence)
	require.Len(t, media.Segments, 4)
	assert.Equal(t, "e0-s00000.ts", media.Segments[0].URI)
	assert.Equal(t, "e1-s00000.ts", media.Segments[3].URI)
	assert.InDelta(t, 4.0, media.Segments[0].Duration.Seconds(), 0.001)
	assert.InDelta(t, 3.5, media.Segments[3].Duration.Seconds(), 0.001)
}
