// Package session supervises one transcoding session: the external ffmpeg
// process driven through epochs by seeks and track switches, segment
// discovery from the output directory, and failure recovery within a bounded
// restart budget.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/hls"
	"github.com/vodarr/vodarr/internal/planner"
)

// Status is the session lifecycle state. Transitions are one-directional
// except active/paused.
type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnding  Status = "ending"
	StatusEnded   Status = "ended"
	StatusError   Status = "error"
)

var (
	ErrNotActive           = errors.New("session is not active")
	ErrSessionEnded        = errors.New("session has ended")
	ErrFirstSegmentTimeout = errors.New("timed out waiting for first segment")
)

// Options configures a session.
type Options struct {
	ID        string
	MediaPath string
	OutputDir string

	Plan         *planner.PlaybackPlan
	Capabilities *capabilities.ServerCapabilities
	Launcher     Launcher
	Logger       *slog.Logger

	// StartOffset is the initial source position in seconds.
	StartOffset float64

	// Framerate and SubtitleStream feed the argument builder.
	Framerate      float64
	SubtitleStream int

	FirstSegmentTimeout time.Duration
	ProgressTimeout     time.Duration
	RestartBudget       int
	PollInterval        time.Duration
}

// Session drives one external process through epochs. The playback plan is
// immutable for the session's lifetime; seeks and track switches start a new
// epoch, never a new plan.
type Session struct {
	ID        string
	MediaPath string
	OutputDir string
	Plan      *planner.PlaybackPlan
	Playlist  *hls.MediaPlaylist

	opts   Options
	caps   *capabilities.ServerCapabilities
	launch Launcher
	logger *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.RWMutex
	status     Status
	run        *epochRun
	inflight   chan struct{}
	startedAt  time.Time
	lastAccess time.Time
	err        error
	endReason  string

	// epochFirst closes when the current epoch's first output appears.
	// Replaced on every epoch transition, not on mid-epoch restarts.
	epochFirst     chan struct{}
	epochFirstOnce *sync.Once

	done    chan struct{}
	endOnce sync.Once
}

// New creates a session for a plan that runs a process. Direct-play sessions
// have no process to supervise and are handled by the streaming layer.
func New(opts Options) (*Session, error) {
	if opts.Plan == nil {
		return nil, fmt.Errorf("session requires a plan")
	}
	if !opts.Plan.Mode.UsesProcess() {
		return nil, fmt.Errorf("mode %s runs no process", opts.Plan.Mode)
	}
	if opts.Launcher == nil {
		return nil, fmt.Errorf("session requires a launcher")
	}
	if opts.FirstSegmentTimeout <= 0 {
		opts.FirstSegmentTimeout = 30 * time.Second
	}
	if opts.ProgressTimeout <= 0 {
		opts.ProgressTimeout = 20 * time.Second
	}
	if opts.RestartBudget <= 0 {
		opts.RestartBudget = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:             opts.ID,
		MediaPath:      opts.MediaPath,
		OutputDir:      opts.OutputDir,
		Plan:           opts.Plan,
		Playlist:       hls.NewMediaPlaylist(opts.Plan.Container, opts.Plan.SegmentDuration),
		opts:           opts,
		caps:           opts.Capabilities,
		launch:         opts.Launcher,
		logger:         logger,
		baseCtx:        ctx,
		baseCancel:     cancel,
		status:         StatusCreated,
		epochFirst:     make(chan struct{}),
		epochFirstOnce: &sync.Once{},
		done:           make(chan struct{}),
	}, nil
}

// Start spawns the process for epoch zero.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.status != StatusCreated {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	now := time.Now()
	s.status = StatusActive
	s.startedAt = now
	s.lastAccess = now
	run := newEpochRun(s.Playlist.CurrentEpoch(), s.opts.StartOffset, 0)
	s.run = run
	s.mu.Unlock()

	if err := s.startProcess(run); err != nil {
		s.fail(err)
		return err
	}
	s.logger.Info("session started",
		"session_id", s.ID,
		"mode", s.Plan.Mode,
		"transport", s.Plan.Transport,
		"offset", s.opts.StartOffset)
	return nil
}

// Seek moves the session to a new source position by starting a new epoch.
// Concurrent seeks queue behind the in-flight one rather than racing it, so
// the session never has two live processes. With waitFirst set, Seek blocks
// until the new epoch's first output exists, bounded by the first-segment
// timeout.
func (s *Session) Seek(ctx context.Context, position float64, waitFirst bool) error {
	if position < 0 {
		position = 0
	}
	return s.restartEpoch(ctx, position, "seek", waitFirst)
}

// SwitchTrack starts a new epoch at the current position. The plan itself
// never changes; a track switch that needs a different codec or container
// needs a new session.
func (s *Session) SwitchTrack(ctx context.Context, reason string, waitFirst bool) error {
	return s.restartEpoch(ctx, s.Position(), "track switch: "+reason, waitFirst)
}

// Pause stops the process, keeping the epoch and playlist intact.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.status == StatusPaused {
		s.mu.Unlock()
		return nil
	}
	if s.status != StatusActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.status = StatusPaused
	run := s.run
	// Remember where playback got to so resume picks up there.
	run.startOffset = run.position()
	s.mu.Unlock()

	s.stopRun(run)
	s.logger.Info("session paused", "session_id", s.ID)
	return nil
}

// Resume restarts the process within the same epoch, continuing the epoch's
// segment numbering.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.status == StatusActive {
		s.mu.Unlock()
		return nil
	}
	if s.status != StatusPaused {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.status = StatusActive
	prev := s.run
	run := newEpochRun(prev.epoch, prev.startOffset, prev.nextIndex)
	run.restarts = prev.restarts
	s.run = run
	s.mu.Unlock()

	if err := s.startProcess(run); err != nil {
		s.fail(err)
		return err
	}
	s.logger.Info("session resumed", "session_id", s.ID, "offset", run.startOffset)
	return nil
}

// End stops the session. Idempotent; the terminal notification fires exactly
// once, on the first call.
func (s *Session) End(reason string) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.status = StatusEnding
		run := s.run
		failure := s.err
		s.mu.Unlock()

		s.stopRun(run)
		s.Playlist.Finalize()
		s.baseCancel()

		s.mu.Lock()
		if failure != nil {
			s.status = StatusError
		} else {
			s.status = StatusEnded
		}
		s.endReason = reason
		s.mu.Unlock()

		s.logger.Info("session ended", "session_id", s.ID, "reason", reason)
		close(s.done)
	})
}

// fail records a fatal error and ends the session.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.logger.Error("session failed", "session_id", s.ID, "error", err)
	s.End(err.Error())
}

// restartEpoch is the shared seek/track-switch path: stop the process, start
// a new epoch, restart at the new offset.
func (s *Session) restartEpoch(ctx context.Context, position float64, reason string, waitFirst bool) error {
	release, err := s.acquireRestartSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	if s.status != StatusActive && s.status != StatusPaused {
		s.mu.Unlock()
		return ErrNotActive
	}
	prev := s.run
	s.mu.Unlock()

	s.stopRun(prev)

	epoch := s.Playlist.StartNewEpoch()

	s.mu.Lock()
	s.status = StatusActive
	run := newEpochRun(epoch, position, 0)
	s.run = run
	s.epochFirst = make(chan struct{})
	s.epochFirstOnce = &sync.Once{}
	s.mu.Unlock()

	if err := s.startProcess(run); err != nil {
		s.fail(err)
		return err
	}
	s.logger.Info("session epoch started",
		"session_id", s.ID,
		"epoch", epoch,
		"reason", reason,
		"position", position)

	if waitFirst {
		return s.WaitFirstSegment(ctx)
	}
	return nil
}

// acquireRestartSlot serializes seek and track-switch operations. A caller
// that finds one in flight waits for it to finish rather than racing it.
func (s *Session) acquireRestartSlot(ctx context.Context) (func(), error) {
	for {
		s.mu.Lock()
		if s.inflight == nil {
			handle := make(chan struct{})
			s.inflight = handle
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				s.inflight = nil
				s.mu.Unlock()
				close(handle)
			}, nil
		}
		handle := s.inflight
		s.mu.Unlock()

		select {
		case <-handle:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrSessionEnded
		}
	}
}

// WaitFirstSegment blocks until the current epoch's first output exists,
// the first-segment timeout expires, or the session ends.
func (s *Session) WaitFirstSegment(ctx context.Context) error {
	s.mu.RLock()
	ch := s.epochFirst
	s.mu.RUnlock()

	select {
	case <-ch:
		return nil
	default:
	}

	timer := time.NewTimer(s.opts.FirstSegmentTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrFirstSegmentTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionEnded
	}
}

// Touch records client activity for idle sweeping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// LastAccess returns the time of the most recent client activity.
func (s *Session) LastAccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Position returns the current source-media position in seconds.
func (s *Session) Position() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return s.opts.StartOffset
	}
	return s.run.position()
}

// Err returns the fatal error, if the session failed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done closes when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info is a point-in-time snapshot for the admin surface.
type Info struct {
	ID           string            `json:"id"`
	Status       Status            `json:"status"`
	Mode         planner.Mode      `json:"mode"`
	Transport    planner.Transport `json:"transport"`
	Epoch        int               `json:"epoch"`
	SegmentCount int               `json:"segment_count"`
	Position     float64           `json:"position_seconds"`
	PID          int               `json:"pid,omitempty"`
	Restarts     int               `json:"restarts"`
	StartedAt    time.Time         `json:"started_at"`
	LastAccess   time.Time         `json:"last_access"`
	EndReason    string            `json:"end_reason,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:           s.ID,
		Status:       s.status,
		Mode:         s.Plan.Mode,
		Transport:    s.Plan.Transport,
		Epoch:        s.Playlist.CurrentEpoch(),
		SegmentCount: s.Playlist.SegmentCount(),
		StartedAt:    s.startedAt,
		LastAccess:   s.lastAccess,
		EndReason:    s.endReason,
	}
	if s.run != nil {
		info.Position = s.run.position()
		info.Restarts = s.run.restarts
		if s.run.proc != nil {
			info.PID = s.run.proc.PID()
		}
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}
