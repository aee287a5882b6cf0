package streaming

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/hls"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/session"
)

func hlsSession(t *testing.T) *PlaybackSession {
	t.Helper()

	plan := &planner.PlaybackPlan{
		Mode:            planner.ModeRemuxHLS,
		Transport:       planner.TransportHLS,
		Container:       "mpegts",
		SegmentDuration: 4,
		Video:           planner.VideoTrackPlan{Action: planner.ActionCopy},
		Audio:           planner.AudioTrackPlan{Action: planner.ActionCopy},
	}
	launcher := &streamLauncher{}
	proc, err := session.New(session.Options{
		ID:           "test",
		MediaPath:    "/media/movie.mkv",
		OutputDir:    t.TempDir(),
		Plan:         plan,
		Capabilities: &capabilities.ServerCapabilities{},
		Launcher:     launcher.launch,
	})
	require.NoError(t, err)

	return &PlaybackSession{
		ID:        "test",
		MediaPath: "/media/movie.mkv",
		Media:     mkvMedia(),
		Plan:      plan,
		OutputDir: proc.OutputDir,
		Proc:      proc,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func TestPlaybackSession_MasterPlaylistTranscode(t *testing.T) {
	ps := &PlaybackSession{
		ID:    "test",
		Media: mp4Media(),
		Plan: &planner.PlaybackPlan{
			Mode:      planner.ModeTranscodeHLS,
			Transport: planner.TransportHLS,
			Video: planner.VideoTrackPlan{
				Action:       planner.ActionEncode,
				TargetCodec:  "h264",
				TargetWidth:  1280,
				TargetHeight: 720,
				Bitrate:      3_000_000,
			},
			Audio: planner.AudioTrackPlan{
				Action:      planner.ActionEncode,
				TargetCodec: "aac",
				Bitrate:     128_000,
			},
		},
	}

	m := ps.MasterPlaylist()
	assert.Contains(t, m, "#EXTM3U")
	assert.Contains(t, m, "BANDWIDTH=3128000")
	assert.Contains(t, m, "RESOLUTION=1280x720")
	assert.Contains(t, m, "avc1.")
	assert.Contains(t, m, "mp4a.")
	assert.Contains(t, m, "media.m3u8")
}

func TestPlaybackSession_MasterPlaylistCopyUsesSource(t *testing.T) {
	media := mp4Media()
	media.VideoTracks[0].Bitrate = 8_000_000

	ps := &PlaybackSession{
		ID:    "test",
		Media: media,
		Plan: &planner.PlaybackPlan{
			Mode:      planner.ModeRemuxHLS,
			Transport: planner.TransportHLS,
			Video:     planner.VideoTrackPlan{Action: planner.ActionCopy},
			Audio:     planner.AudioTrackPlan{Action: planner.ActionCopy},
		},
	}

	m := ps.MasterPlaylist()
	assert.Contains(t, m, "BANDWIDTH=8128000")
	assert.Contains(t, m, "RESOLUTION=1920x1080")
}

func TestPlaybackSession_SegmentPath(t *testing.T) {
	ps := hlsSession(t)

	require.NoError(t, ps.Proc.Playlist.AddSegment(hls.Segment{Epoch: 0, Index: 0, Duration: 4}))
	require.NoError(t, ps.Proc.Playlist.AddSegment(hls.Segment{Epoch: 0, Index: 1, Duration: 4}))

	path, err := ps.SegmentPath("e0-s00000.ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ps.OutputDir, "e0-s00000.ts"), path)

	// Published segments only.
	_, err = ps.SegmentPath("e0-s00005.ts")
	assert.Error(t, err)

	// Epoch playlists and arbitrary names are never served.
	_, err = ps.SegmentPath("e0.m3u8")
	assert.Error(t, err)
	_, err = ps.SegmentPath("../../../etc/passwd")
	assert.Error(t, err)

	// Init files resolve for any published epoch.
	path, err = ps.SegmentPath("e0-init.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ps.OutputDir, "e0-init.mp4"), path)
	_, err = ps.SegmentPath("e7-init.mp4")
	assert.Error(t, err)
}

func TestPlaybackSession_FilePathRequiresRangeTransport(t *testing.T) {
	ps := hlsSession(t)

	_, err := ps.FilePath()
	assert.Error(t, err)
}

func TestPlaybackSession_TouchWithoutProcess(t *testing.T) {
	ps := &PlaybackSession{
		ID:        "test",
		Media:     mp4Media(),
		Plan:      &planner.PlaybackPlan{Mode: planner.ModeDirect, Transport: planner.TransportRange},
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}

	ps.Touch()
	first := ps.LastAccess()
	assert.WithinDuration(t, time.Now(), first, time.Second)

	time.Sleep(5 * time.Millisecond)
	ps.Touch()
	assert.True(t, ps.LastAccess().After(first))
}

func TestPlaybackSession_DeliveryCounters(t *testing.T) {
	ps := &PlaybackSession{
		ID:    "test",
		Media: mp4Media(),
		Plan:  &planner.PlaybackPlan{Mode: planner.ModeDirect, Transport: planner.TransportRange},
		done:  make(chan struct{}),
	}

	ps.CountDelivery(1, 4096)
	ps.CountDelivery(2, 8192)

	info := ps.Info()
	assert.Equal(t, int64(12288), info.BytesServed)
	assert.Equal(t, int64(3), info.SegmentsServed)
}
