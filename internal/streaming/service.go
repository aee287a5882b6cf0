// Package streaming owns the live session registry: admission, playback
// decisions, process sessions, delivery accounting, and terminal
// persistence.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/directplay"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/probe"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/session"
)

var (
	// ErrTooManySessions signals that admission was refused.
	ErrTooManySessions = errors.New("session limit reached")

	// ErrSessionNotFound signals an unknown or already removed session.
	ErrSessionNotFound = errors.New("session not found")
)

// MediaProber inspects media files. Implemented by probe.Prober.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*probe.MediaInfo, error)
}

// CapabilitySource reports what the local ffmpeg build can do. Implemented
// by capabilities.Detector.
type CapabilitySource interface {
	Detect(ctx context.Context) (*capabilities.ServerCapabilities, error)
}

// Options wires the service's collaborators.
type Options struct {
	Config       *config.Config
	Prober       MediaProber
	Capabilities CapabilitySource
	Launcher     session.Launcher
	Logger       *slog.Logger

	Profiles    repository.DeviceProfileRepository
	Records     repository.SessionRecordRepository
	Reliability repository.ClientReliabilityRepository
}

// Service manages all live playback sessions.
type Service struct {
	cfg      *config.Config
	prober   MediaProber
	caps     CapabilitySource
	launcher session.Launcher
	planner  *planner.Planner
	logger   *slog.Logger

	profiles    repository.DeviceProfileRepository
	records     repository.SessionRecordRepository
	reliability repository.ClientReliabilityRepository

	mu       sync.RWMutex
	sessions map[string]*PlaybackSession

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the service and starts its sweep loop.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "streaming"))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:         opts.Config,
		prober:      opts.Prober,
		caps:        opts.Capabilities,
		launcher:    opts.Launcher,
		planner:     planner.New(logger),
		logger:      logger,
		profiles:    opts.Profiles,
		records:     opts.Records,
		reliability: opts.Reliability,
		sessions:    make(map[string]*PlaybackSession),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// CreateRequest describes a playback request.
type CreateRequest struct {
	MediaPath  string
	UserAgent  string
	RemoteAddr string

	// Client carries declared capabilities. Nil means resolve from the
	// stored device profiles by User-Agent.
	Client *capabilities.ClientCapabilities

	Preferences planner.Preferences
	StartOffset float64
}

// BaseCapabilities resolves the capability baseline for a User-Agent from
// stored device profiles, falling back to conservative defaults.
func (s *Service) BaseCapabilities(ctx context.Context, userAgent string) capabilities.ClientCapabilities {
	if s.profiles != nil && userAgent != "" {
		profile, err := s.profiles.Match(ctx, userAgent)
		if err != nil {
			s.logger.Warn("device profile lookup failed", slog.Any("error", err))
		} else if profile != nil {
			return capabilities.FromProfile(profile, userAgent)
		}
	}
	return capabilities.DefaultClientCapabilities()
}

// CreateSession probes the media, decides the playback plan, and starts the
// session. Sessions over the configured limit are refused.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*PlaybackSession, error) {
	s.mu.RLock()
	live := len(s.sessions)
	s.mu.RUnlock()
	if live >= s.cfg.Streaming.MaxSessions {
		return nil, ErrTooManySessions
	}

	media, err := s.prober.Probe(ctx, req.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("probing media: %w", err)
	}

	var client capabilities.ClientCapabilities
	if req.Client != nil {
		client = *req.Client
	} else {
		client = s.BaseCapabilities(ctx, req.UserAgent)
	}
	s.applyReliabilityHistory(ctx, req.UserAgent, &client)

	serverCaps, err := s.caps.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting server capabilities: %w", err)
	}

	prefs := req.Preferences
	if prefs.SegmentDuration <= 0 {
		prefs.SegmentDuration = int(s.cfg.Streaming.SegmentDuration / time.Second)
	}
	if prefs.SegmentLookahead <= 0 {
		prefs.SegmentLookahead = s.cfg.Streaming.SegmentLookahead
	}

	plan := s.planner.Plan(media, client, serverCaps, prefs)

	start := resolveStartOffset(req.StartOffset, media.Duration)

	id := uuid.NewString()
	ps := &PlaybackSession{
		ID:            id,
		MediaPath:     req.MediaPath,
		Media:         media,
		Plan:          plan,
		UserAgent:     req.UserAgent,
		RemoteAddr:    req.RemoteAddr,
		StartPosition: start,
		createdAt:     time.Now(),
		done:          make(chan struct{}),
	}
	ps.Touch()

	if plan.Transport == planner.TransportRange {
		ps.Tracker = directplay.NewReliabilityTracker(s.cfg.DirectPlay)
	}

	if plan.Mode.UsesProcess() {
		outputDir := filepath.Join(s.cfg.Storage.SessionPath(), id)
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
		ps.OutputDir = outputDir

		framerate := 0.0
		if v := media.DefaultVideoTrack(); v != nil {
			framerate = v.Framerate
		}
		proc, err := session.New(session.Options{
			ID:                  id,
			MediaPath:           req.MediaPath,
			OutputDir:           outputDir,
			Plan:                plan,
			Capabilities:        serverCaps,
			Launcher:            s.launcher,
			Logger:              s.logger,
			StartOffset:         start,
			Framerate:           framerate,
			SubtitleStream:      plan.Subtitle.StreamIndex,
			FirstSegmentTimeout: s.cfg.Streaming.FirstSegmentTimeout,
			ProgressTimeout:     s.cfg.Streaming.ProgressTimeout,
			RestartBudget:       s.cfg.Streaming.RestartBudget,
		})
		if err != nil {
			os.RemoveAll(outputDir)
			return nil, fmt.Errorf("creating process session: %w", err)
		}
		if err := proc.Start(); err != nil {
			os.RemoveAll(outputDir)
			return nil, fmt.Errorf("starting process session: %w", err)
		}
		ps.Proc = proc
	}

	s.mu.Lock()
	if len(s.sessions) >= s.cfg.Streaming.MaxSessions {
		s.mu.Unlock()
		ps.end("admission refused")
		if ps.OutputDir != "" {
			os.RemoveAll(ps.OutputDir)
		}
		return nil, ErrTooManySessions
	}
	s.sessions[id] = ps
	s.mu.Unlock()

	s.logger.Info("session created",
		slog.String("session_id", id),
		slog.String("media", req.MediaPath),
		slog.String("mode", string(plan.Mode)),
		slog.String("transport", string(plan.Transport)),
	)
	return ps, nil
}

// resolveStartOffset clamps a requested start into the media. Negative
// offsets and offsets at or past the end restart from the beginning.
func resolveStartOffset(requested, duration float64) float64 {
	if requested <= 0 {
		return 0
	}
	if duration > 0 && requested >= duration {
		return 0
	}
	return requested
}

// Preview probes the media and runs the playback decision for a client
// without starting a session. The decision endpoint uses it to answer
// "would this direct play" before the client commits to a session.
func (s *Service) Preview(ctx context.Context, mediaPath string, client capabilities.ClientCapabilities, prefs planner.Preferences) (*probe.MediaInfo, *planner.PlaybackPlan, error) {
	media, err := s.prober.Probe(ctx, mediaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("probing media: %w", err)
	}

	s.applyReliabilityHistory(ctx, client.UserAgent, &client)

	serverCaps, err := s.caps.Detect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("detecting server capabilities: %w", err)
	}

	if prefs.SegmentDuration <= 0 {
		prefs.SegmentDuration = int(s.cfg.Streaming.SegmentDuration / time.Second)
	}
	if prefs.SegmentLookahead <= 0 {
		prefs.SegmentLookahead = s.cfg.Streaming.SegmentLookahead
	}

	return media, s.planner.Plan(media, client, serverCaps, prefs), nil
}

// Get returns a live session by ID.
func (s *Service) Get(id string) (*PlaybackSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ps, nil
}

// Heartbeat marks a session alive and records the client's position.
func (s *Service) Heartbeat(id string, position float64) error {
	ps, err := s.Get(id)
	if err != nil {
		return err
	}
	ps.Touch()
	ps.ReportPosition(position)
	return nil
}

// Seek jumps a process session to a new position, starting a new epoch.
// Plain direct play seeks client-side via byte ranges and needs nothing here.
func (s *Service) Seek(ctx context.Context, id string, position float64) error {
	ps, err := s.Get(id)
	if err != nil {
		return err
	}
	ps.Touch()
	ps.ReportPosition(position)
	if ps.Proc == nil {
		return nil
	}
	return ps.Proc.Seek(ctx, position, true)
}

// SwitchTrack restarts a process session's transcode at its current position
// with a different audio or subtitle track. The plan itself never changes; a
// switch that needs a different codec or container needs a new session.
// Direct sessions carry every track already, so the call is a no-op for them.
func (s *Service) SwitchTrack(ctx context.Context, id string, reason string) error {
	ps, err := s.Get(id)
	if err != nil {
		return err
	}
	ps.Touch()
	if ps.Proc == nil {
		return nil
	}
	return ps.Proc.SwitchTrack(ctx, reason, true)
}

// Pause stops a process session's ffmpeg while keeping the session alive.
func (s *Service) Pause(id string) error {
	ps, err := s.Get(id)
	if err != nil {
		return err
	}
	ps.Touch()
	if ps.Proc == nil {
		return nil
	}
	return ps.Proc.Pause()
}

// Resume restarts the process after a pause, continuing the current epoch.
func (s *Service) Resume(id string) error {
	ps, err := s.Get(id)
	if err != nil {
		return err
	}
	ps.Touch()
	if ps.Proc == nil {
		return nil
	}
	return ps.Proc.Resume()
}

// EndSession tears a session down and persists its terminal record.
// Idempotent: ending a session that is unknown or already ended succeeds,
// so clients can fire stop requests without caring whether one landed.
func (s *Service) EndSession(id string, reason string) error {
	s.mu.Lock()
	ps, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.teardown(ps, reason)
	return nil
}

// List returns snapshots of all live sessions.
func (s *Service) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, ps := range s.sessions {
		infos = append(infos, ps.Info())
	}
	return infos
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown ends every session and stops the sweep loop.
func (s *Service) Shutdown(ctx context.Context) {
	s.cancel()

	s.mu.Lock()
	remaining := make([]*PlaybackSession, 0, len(s.sessions))
	for id, ps := range s.sessions {
		remaining = append(remaining, ps)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, ps := range remaining {
		s.teardown(ps, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// teardown ends the session, persists its record and verdict, and removes
// its output directory. Persistence is best-effort.
func (s *Service) teardown(ps *PlaybackSession, reason string) {
	ps.end(reason)

	s.persistRecord(ps, reason)
	s.persistVerdict(ps)

	if ps.OutputDir != "" {
		if err := os.RemoveAll(ps.OutputDir); err != nil {
			s.logger.Warn("removing session directory failed",
				slog.String("session_id", ps.ID),
				slog.Any("error", err))
		}
	}

	s.logger.Info("session ended",
		slog.String("session_id", ps.ID),
		slog.String("reason", reason))
}

func (s *Service) persistRecord(ps *PlaybackSession, reason string) {
	if s.records == nil {
		return
	}

	state, errText, procReason := ps.terminalState()
	if reason == "" {
		reason = procReason
	}

	endedAt := time.Now()
	record := &models.SessionRecord{
		SessionID:           ps.ID,
		MediaPath:           ps.MediaPath,
		UserAgent:           ps.UserAgent,
		RemoteAddr:          ps.RemoteAddr,
		Decision:            string(ps.Plan.Mode),
		Container:           ps.Plan.Container,
		State:               state,
		Error:               errText,
		StartedAt:           ps.createdAt,
		EndedAt:             &endedAt,
		LastPositionSeconds: ps.Position(),
		SegmentsServed:      ps.segmentsServed.Load(),
		BytesServed:         ps.bytesServed.Load(),
		Epochs:              1,
	}
	record.SetDecisionReasons(ps.Plan.Reasons)
	if ps.Plan.Video.Action == planner.ActionEncode {
		record.VideoCodec = ps.Plan.Video.TargetCodec
	}
	if ps.Plan.Audio.Action == planner.ActionEncode {
		record.AudioCodec = ps.Plan.Audio.TargetCodec
	}
	if ps.Proc != nil {
		info := ps.Proc.Info()
		record.Epochs = info.Epoch + 1
		record.Restarts = info.Restarts
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.records.Create(ctx, record); err != nil {
		s.logger.Warn("persisting session record failed",
			slog.String("session_id", ps.ID),
			slog.Any("error", err))
	}
}

func (s *Service) persistVerdict(ps *PlaybackSession) {
	if s.reliability == nil || ps.Tracker == nil || ps.UserAgent == "" {
		return
	}
	stats := ps.Tracker.Stats()
	if stats.Total == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.reliability.Upsert(ctx, &models.ClientReliability{
		UserAgent:     ps.UserAgent,
		Verdict:       string(ps.Tracker.Verdict()),
		Samples:       stats.Total,
		LastSessionID: ps.ID,
		LastSeenAt:    time.Now(),
	})
	if err != nil {
		s.logger.Warn("persisting client verdict failed",
			slog.String("session_id", ps.ID),
			slog.Any("error", err))
	}
}

// applyReliabilityHistory flags clients whose past range behavior was
// untrusted so planning steers them away from range transport.
func (s *Service) applyReliabilityHistory(ctx context.Context, userAgent string, client *capabilities.ClientCapabilities) {
	if s.reliability == nil || userAgent == "" || client.RangeUnreliable {
		return
	}
	rec, err := s.reliability.GetByUserAgent(ctx, userAgent)
	if err != nil {
		s.logger.Warn("client reliability lookup failed", slog.Any("error", err))
		return
	}
	if rec != nil && rec.Unreliable() {
		client.RangeUnreliable = true
	}
}

// sweepLoop periodically ends idle sessions, reaps dead ones, and applies
// record retention.
func (s *Service) sweepLoop() {
	defer s.wg.Done()

	interval := s.cfg.Streaming.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	timeout := s.cfg.Streaming.SessionTimeout
	now := time.Now()

	s.mu.Lock()
	var expired []*PlaybackSession
	var dead []*PlaybackSession
	for id, ps := range s.sessions {
		select {
		case <-ps.Done():
			delete(s.sessions, id)
			dead = append(dead, ps)
			continue
		default:
		}
		if timeout > 0 && now.Sub(ps.LastAccess()) > timeout {
			delete(s.sessions, id)
			expired = append(expired, ps)
		}
	}
	s.mu.Unlock()

	for _, ps := range dead {
		s.teardown(ps, "")
	}
	for _, ps := range expired {
		s.teardown(ps, "idle timeout")
	}

	s.applyRetention()
}

func (s *Service) applyRetention() {
	if s.records == nil {
		return
	}
	retention := s.cfg.Storage.SessionRetention.Duration()
	if retention <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	deleted, err := s.records.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		s.logger.Warn("session record retention sweep failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		s.logger.Debug("session records swept", slog.Int64("deleted", deleted))
	}
}
