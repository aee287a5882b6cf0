package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/hls"
	"github.com/vodarr/vodarr/internal/planner"
)

// fakeProc stands in for an ffmpeg process. It exits only when told to.
type fakeProc struct {
	args []string
	pid  int

	exitOnce sync.Once
	exitCh   chan struct{}
	exitErr  error

	mu      sync.Mutex
	stopped bool
	killed  bool
}

func (f *fakeProc) Start(ctx context.Context, progressCh chan<- ffmpeg.Progress) error {
	return nil
}

func (f *fakeProc) Wait() error {
	<-f.exitCh
	return f.exitErr
}

func (f *fakeProc) Stop(grace time.Duration) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.exit(nil)
	return nil
}

func (f *fakeProc) Kill() error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.exit(errors.New("killed"))
	return nil
}

func (f *fakeProc) PID() int             { return f.pid }
func (f *fakeProc) StderrTail() []string { return nil }

func (f *fakeProc) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeProc) crash(err error) { f.exit(err) }

func (f *fakeProc) exit(err error) {
	f.exitOnce.Do(func() {
		f.exitErr = err
		close(f.exitCh)
	})
}

func (f *fakeProc) exited() bool {
	select {
	case <-f.exitCh:
		return true
	default:
		return false
	}
}

// fakeLauncher records every spawned process.
type fakeLauncher struct {
	mu    sync.Mutex
	procs []*fakeProc
}

func (l *fakeLauncher) launch(args []string) Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &fakeProc{args: args, pid: 1000 + len(l.procs), exitCh: make(chan struct{})}
	l.procs = append(l.procs, p)
	return p
}

func (l *fakeLauncher) proc(i int) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < len(l.procs) {
		return l.procs[i]
	}
	return nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) alive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.procs {
		if !p.exited() {
			n++
		}
	}
	return n
}

func sessionCaps() *capabilities.ServerCapabilities {
	return &capabilities.ServerCapabilities{
		Encoders: []string{"libx264", "aac"},
		Filters:  []string{"scale", "format"},
		BSFs:     []string{"h264_mp4toannexb", "aac_adtstoasc"},
	}
}

func hlsPlan() *planner.PlaybackPlan {
	return &planner.PlaybackPlan{
		Mode:      planner.ModeRemuxHLS,
		Transport: planner.TransportHLS,
		Container: "mpegts",
		Video: planner.VideoTrackPlan{
			StreamIndex: 0,
			Action:      planner.ActionCopy,
			TargetCodec: "h264",
		},
		Audio: planner.AudioTrackPlan{
			StreamIndex: 1,
			Action:      planner.ActionCopy,
			TargetCodec: "aac",
		},
		SegmentDuration: 1,
	}
}

func newTestSession(t *testing.T, launcher *fakeLauncher) *Session {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Options{
		ID:           "test-session",
		MediaPath:    filepath.Join(dir, "movie.mkv"),
		OutputDir:    dir,
		Plan:         hlsPlan(),
		Capabilities: sessionCaps(),
		Launcher:     launcher.launch,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.End("test cleanup") })
	return s
}

func writeSegment(t *testing.T, dir string, epoch, index int) {
	t.Helper()
	name := filepath.Join(dir, hls.SegmentFileName(epoch, index, "mpegts"))
	require.NoError(t, os.WriteFile(name, []byte("segment-data"), 0o644))
}

func TestNew_RejectsDirectPlan(t *testing.T) {
	plan := hlsPlan()
	plan.Mode = planner.ModeDirect
	_, err := New(Options{Plan: plan, Launcher: (&fakeLauncher{}).launch})
	assert.Error(t, err)
}

func TestSession_StartAndFirstSegment(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)

	require.NoError(t, s.Start())
	assert.Equal(t, StatusActive, s.Status())
	require.Equal(t, 1, launcher.count())

	writeSegment(t, s.OutputDir, 0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitFirstSegment(ctx))
	assert.True(t, s.Playlist.HasSegment(0, 0))
}

func TestSession_SegmentDiscoveryInOrder(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	// Index 1 lands before index 0; nothing is recorded until the gap
	// fills, then both are.
	writeSegment(t, s.OutputDir, 0, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, s.Playlist.SegmentCount())

	writeSegment(t, s.OutputDir, 0, 0)
	assert.Eventually(t, func() bool {
		return s.Playlist.HasSegment(0, 0) && s.Playlist.HasSegment(0, 1)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ZeroSizeSegmentIgnored(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	require.NoError(t, os.WriteFile(filepath.Join(s.OutputDir, "e0-s00000.ts"), nil, 0o644))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, s.Playlist.SegmentCount())
}

func TestSession_SeekStartsNewEpoch(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	require.NoError(t, s.Seek(context.Background(), 60, false))

	assert.Equal(t, 1, s.Playlist.CurrentEpoch())
	assert.Equal(t, 1, s.Playlist.DiscontinuitySequence())
	require.Equal(t, 2, launcher.count())
	assert.True(t, launcher.proc(0).wasStopped())

	args := strings.Join(launcher.proc(1).args, " ")
	assert.Contains(t, args, "-ss 60.000")
	assert.Contains(t, args, "e1-s%05d.ts")
}

func TestSession_BackToBackSeeksSerialize(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	var wg sync.WaitGroup
	for _, pos := range []float64{100, 200} {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			_ = s.Seek(context.Background(), p, false)
		}(pos)
	}
	wg.Wait()

	// Two seeks, three spawns total, exactly one process left alive.
	assert.Equal(t, 3, launcher.count())
	assert.Equal(t, 1, launcher.alive())
	assert.Equal(t, 2, s.Playlist.CurrentEpoch())
}

func TestSession_SeekWaitTimesOut(t *testing.T) {
	launcher := &fakeLauncher{}
	dir := t.TempDir()
	s, err := New(Options{
		ID:                  "t",
		MediaPath:           filepath.Join(dir, "movie.mkv"),
		OutputDir:           dir,
		Plan:                hlsPlan(),
		Capabilities:        sessionCaps(),
		Launcher:            launcher.launch,
		PollInterval:        10 * time.Millisecond,
		FirstSegmentTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.End("test cleanup")
	require.NoError(t, s.Start())

	err = s.Seek(context.Background(), 60, true)
	assert.ErrorIs(t, err, ErrFirstSegmentTimeout)
}

func TestSession_StaleEpochSegmentsFiltered(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	writeSegment(t, s.OutputDir, 0, 0)
	assert.Eventually(t, func() bool { return s.Playlist.HasSegment(0, 0) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Seek(context.Background(), 60, false))

	// A straggler from the old process appears after the seek; the new
	// epoch's watcher must not record it.
	writeSegment(t, s.OutputDir, 0, 1)
	writeSegment(t, s.OutputDir, 1, 0)
	assert.Eventually(t, func() bool { return s.Playlist.HasSegment(1, 0) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.Playlist.HasSegment(0, 1))
}

func TestSession_PauseResume(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	writeSegment(t, s.OutputDir, 0, 0)
	assert.Eventually(t, func() bool { return s.Playlist.HasSegment(0, 0) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Pause())
	assert.Equal(t, StatusPaused, s.Status())
	assert.True(t, launcher.proc(0).wasStopped())
	assert.Equal(t, 0, s.Playlist.CurrentEpoch())

	require.NoError(t, s.Resume())
	assert.Equal(t, StatusActive, s.Status())
	require.Equal(t, 2, launcher.count())

	// Same epoch, numbering continues where it left off.
	assert.Equal(t, 0, s.Playlist.CurrentEpoch())
	args := strings.Join(launcher.proc(1).args, " ")
	assert.Contains(t, args, "-start_number 1")
	assert.Contains(t, args, "e0-s%05d.ts")
}

func TestSession_PauseIdempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())
	require.NoError(t, s.Resume())
	assert.Equal(t, StatusActive, s.Status())
}

func TestSession_CrashRestartsSameEpoch(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	launcher.proc(0).crash(errors.New("segfault"))

	assert.Eventually(t, func() bool { return launcher.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusActive, s.Status())
	assert.Equal(t, 0, s.Playlist.CurrentEpoch())
	assert.Contains(t, strings.Join(launcher.proc(1).args, " "), "e0-s%05d.ts")
}

func TestSession_RestartBudgetExhausted(t *testing.T) {
	launcher := &fakeLauncher{}
	dir := t.TempDir()
	s, err := New(Options{
		ID:            "t",
		MediaPath:     filepath.Join(dir, "movie.mkv"),
		OutputDir:     dir,
		Plan:          hlsPlan(),
		Capabilities:  sessionCaps(),
		Launcher:      launcher.launch,
		PollInterval:  10 * time.Millisecond,
		RestartBudget: 1,
	})
	require.NoError(t, err)
	defer s.End("test cleanup")
	require.NoError(t, s.Start())

	// Every process dies as soon as it appears; the budget of one restart
	// is spent and the session fails. Crashing by sweep rather than by
	// index so the restarted process is caught whenever it launches.
	go func() {
		for {
			for i := 0; i < launcher.count(); i++ {
				launcher.proc(i).crash(errors.New("boom"))
			}
			select {
			case <-s.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not reach a terminal state")
	}
	assert.Equal(t, StatusError, s.Status())
	assert.Error(t, s.Err())
	assert.True(t, s.Playlist.Ended())
}

func TestSession_EndIdempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	s.End("client disconnected")
	s.End("client disconnected")

	assert.Equal(t, StatusEnded, s.Status())
	assert.True(t, s.Playlist.Ended())
	assert.True(t, launcher.proc(0).wasStopped())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel not closed")
	}

	// An intentional stop never triggers the restart path.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, launcher.count())
}

func TestSession_SeekAfterEndRejected(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())
	s.End("done")

	err := s.Seek(context.Background(), 10, false)
	assert.Error(t, err)
}

func TestSession_Info(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(t, launcher)
	require.NoError(t, s.Start())

	info := s.Info()
	assert.Equal(t, "test-session", info.ID)
	assert.Equal(t, StatusActive, info.Status)
	assert.Equal(t, planner.ModeRemuxHLS, info.Mode)
	assert.Equal(t, 0, info.Epoch)
	assert.NotZero(t, info.PID)
}
