package streaming

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vodarr/vodarr/internal/directplay"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/hls"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/probe"
	"github.com/vodarr/vodarr/internal/session"
)

// PlaybackSession is one live playback, from decision to teardown. Sessions
// that run an ffmpeg process delegate lifecycle to the embedded process
// session; plain direct play has no process and tracks its own activity.
type PlaybackSession struct {
	ID         string
	MediaPath  string
	Media      *probe.MediaInfo
	Plan       *planner.PlaybackPlan
	UserAgent  string
	RemoteAddr string
	OutputDir  string

	// StartPosition is the resolved initial position in seconds: the
	// requested offset clamped into the media's duration.
	StartPosition float64

	// Proc supervises the ffmpeg process. Nil for plain direct play.
	Proc *session.Session

	// Tracker scores range request behavior. Nil for HLS transport.
	Tracker *directplay.ReliabilityTracker

	createdAt time.Time

	lastAccess  atomic.Int64 // unix nanos, used when Proc is nil
	reportedPos atomic.Uint64

	segmentsServed atomic.Int64
	bytesServed    atomic.Int64

	mu        sync.Mutex
	ended     bool
	endReason string
	done      chan struct{}
}

// Touch marks the session as recently used.
func (p *PlaybackSession) Touch() {
	if p.Proc != nil {
		p.Proc.Touch()
		return
	}
	p.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns the time of the last client interaction.
func (p *PlaybackSession) LastAccess() time.Time {
	if p.Proc != nil {
		return p.Proc.LastAccess()
	}
	return time.Unix(0, p.lastAccess.Load())
}

// ReportPosition records the playback position a heartbeat declared.
func (p *PlaybackSession) ReportPosition(seconds float64) {
	if seconds >= 0 {
		p.reportedPos.Store(math.Float64bits(seconds))
	}
}

// Position returns the best known playback position in seconds. Process
// sessions know their output position; direct play only knows what the
// client last reported.
func (p *PlaybackSession) Position() float64 {
	reported := math.Float64frombits(p.reportedPos.Load())
	if p.Proc != nil {
		if pos := p.Proc.Position(); pos > reported {
			return pos
		}
	}
	return reported
}

// CountDelivery accumulates delivery volume for the terminal record.
func (p *PlaybackSession) CountDelivery(segments int64, bytes int64) {
	p.segmentsServed.Add(segments)
	p.bytesServed.Add(bytes)
}

// Done closes when the session reaches a terminal state.
func (p *PlaybackSession) Done() <-chan struct{} {
	if p.Proc != nil {
		return p.Proc.Done()
	}
	return p.done
}

// end moves the session to a terminal state. Idempotent.
func (p *PlaybackSession) end(reason string) {
	if p.Proc != nil {
		p.Proc.End(reason)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return
	}
	p.ended = true
	p.endReason = reason
	close(p.done)
}

// MasterPlaylist renders the single-variant master playlist for HLS
// transport sessions.
func (p *PlaybackSession) MasterPlaylist() string {
	v := hls.Variant{
		MediaURI:   "media.m3u8",
		Bandwidth:  p.estimatedBandwidth(),
		VideoCodec: p.outputVideoCodec(),
		AudioCodec: p.outputAudioCodec(),
	}
	if video := p.Media.DefaultVideoTrack(); video != nil {
		v.Width, v.Height = video.Width, video.Height
		if p.Plan.Video.TargetWidth > 0 {
			v.Width, v.Height = p.Plan.Video.TargetWidth, p.Plan.Video.TargetHeight
		}
	}
	return hls.RenderMaster(v)
}

// MediaPlaylist renders the current media playlist, waiting for the current
// epoch's first segment so clients never receive an empty playlist.
func (p *PlaybackSession) MediaPlaylist(ctx context.Context) (string, error) {
	if p.Proc == nil {
		return "", fmt.Errorf("session %s has no playlist", p.ID)
	}
	if err := p.Proc.WaitFirstSegment(ctx); err != nil {
		return "", err
	}
	return p.Proc.Playlist.RenderMedia(), nil
}

// SegmentPath resolves a requested segment file name to an on-disk path.
// Only files the playlist has published are served; epoch playlists ffmpeg
// writes for its own bookkeeping are never exposed.
func (p *PlaybackSession) SegmentPath(name string) (string, error) {
	if p.Proc == nil {
		return "", fmt.Errorf("session %s serves no segments", p.ID)
	}
	if epoch, index, ok := hls.ParseSegmentFileName(name); ok {
		if !p.Proc.Playlist.HasSegment(epoch, index) {
			return "", fmt.Errorf("segment %s not in playlist", name)
		}
		return filepath.Join(p.OutputDir, name), nil
	}
	// fMP4 playlists reference one init file per epoch.
	for epoch := 0; epoch <= p.Proc.Playlist.CurrentEpoch(); epoch++ {
		if name == hls.InitFileName(epoch) {
			return filepath.Join(p.OutputDir, name), nil
		}
	}
	return "", fmt.Errorf("not a segment name: %s", name)
}

// FilePath returns the file served over byte ranges: the source itself for
// direct play, the progressive remux output otherwise.
func (p *PlaybackSession) FilePath() (string, error) {
	if p.Plan.Transport != planner.TransportRange {
		return "", fmt.Errorf("session %s is not range transport", p.ID)
	}
	if p.Plan.Mode == planner.ModeDirect {
		return p.MediaPath, nil
	}
	return filepath.Join(p.OutputDir, ffmpeg.ProgressiveFileName), nil
}

func (p *PlaybackSession) outputVideoCodec() string {
	if p.Plan.Video.TargetCodec != "" {
		return p.Plan.Video.TargetCodec
	}
	if v := p.Media.DefaultVideoTrack(); v != nil {
		return v.Codec
	}
	return ""
}

func (p *PlaybackSession) outputAudioCodec() string {
	if p.Plan.Audio.TargetCodec != "" {
		return p.Plan.Audio.TargetCodec
	}
	if a := p.Media.DefaultAudioTrack(); a != nil {
		return a.Codec
	}
	return ""
}

// estimatedBandwidth derives the BANDWIDTH attribute from planned encode
// bitrates, falling back to source rates for stream copy.
func (p *PlaybackSession) estimatedBandwidth() int64 {
	var video, audio int64
	if p.Plan.Video.Bitrate > 0 {
		video = p.Plan.Video.Bitrate
	} else if v := p.Media.DefaultVideoTrack(); v != nil {
		video = int64(v.Bitrate)
	}
	if p.Plan.Audio.Bitrate > 0 {
		audio = p.Plan.Audio.Bitrate
	} else if a := p.Media.DefaultAudioTrack(); a != nil {
		audio = int64(a.Bitrate)
	}
	if video+audio > 0 {
		return video + audio
	}
	return int64(p.Media.Bitrate)
}

// SessionInfo is the admin view of one session.
type SessionInfo struct {
	ID             string            `json:"id"`
	MediaPath      string            `json:"media_path"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Mode           planner.Mode      `json:"mode"`
	Transport      planner.Transport `json:"transport"`
	Status         session.Status    `json:"status"`
	Position       float64           `json:"position_seconds"`
	Epoch          int               `json:"epoch"`
	SegmentCount   int               `json:"segment_count"`
	PID            int               `json:"pid,omitempty"`
	Restarts       int               `json:"restarts"`
	SegmentsServed int64             `json:"segments_served"`
	BytesServed    int64             `json:"bytes_served"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccess     time.Time         `json:"last_access"`
	Error          string            `json:"error,omitempty"`
}

// Info returns a point-in-time snapshot of the session.
func (p *PlaybackSession) Info() SessionInfo {
	info := SessionInfo{
		ID:             p.ID,
		MediaPath:      p.MediaPath,
		UserAgent:      p.UserAgent,
		Mode:           p.Plan.Mode,
		Transport:      p.Plan.Transport,
		Status:         session.StatusActive,
		Position:       p.Position(),
		SegmentsServed: p.segmentsServed.Load(),
		BytesServed:    p.bytesServed.Load(),
		CreatedAt:      p.createdAt,
		LastAccess:     p.LastAccess(),
	}
	if p.Proc != nil {
		ps := p.Proc.Info()
		info.Status = ps.Status
		info.Epoch = ps.Epoch
		info.SegmentCount = ps.SegmentCount
		info.PID = ps.PID
		info.Restarts = ps.Restarts
		info.Error = ps.Error
	} else {
		p.mu.Lock()
		if p.ended {
			info.Status = session.StatusEnded
		}
		p.mu.Unlock()
	}
	return info
}

func (p *PlaybackSession) terminalState() (state string, errText string, reason string) {
	if p.Proc != nil {
		if err := p.Proc.Err(); err != nil {
			return "error", err.Error(), ""
		}
		info := p.Proc.Info()
		return "ended", "", info.EndReason
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return "ended", "", p.endReason
}
