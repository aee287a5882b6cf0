package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/hls"
	"github.com/vodarr/vodarr/internal/planner"
)

// epochRun is the per-process state. A new run is created for every spawn:
// each epoch, each resume, each crash restart. The process is never reused
// across a seek.
type epochRun struct {
	epoch       int
	startOffset float64

	// firstIndex and nextIndex track per-epoch segment numbering. A run
	// that continues an epoch (resume, crash restart) starts where the
	// previous run left off.
	firstIndex int
	nextIndex  int

	proc      Process
	cancel    context.CancelFunc
	restarts  int
	startedAt time.Time

	// intentional is set before the session stops the process, so the
	// exit watcher can tell a requested stop from a crash.
	intentional atomic.Bool

	// mediaTime is the last ffmpeg-reported output position in
	// nanoseconds since the run's start offset.
	mediaTime atomic.Int64

	// lastActive is the unix-nano time of the last progress report or
	// output growth.
	lastActive atomic.Int64

	// progressiveSize is the last observed size of the growing MP4 for
	// range-transport runs.
	progressiveSize atomic.Int64
}

func newEpochRun(epoch int, startOffset float64, startIndex int) *epochRun {
	r := &epochRun{
		epoch:       epoch,
		startOffset: startOffset,
		firstIndex:  startIndex,
		nextIndex:   startIndex,
		startedAt:   time.Now(),
	}
	r.touch()
	return r
}

func (r *epochRun) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *epochRun) lastActiveTime() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// position is the current source-media position: the run's start offset
// plus however far ffmpeg has progressed.
func (r *epochRun) position() float64 {
	return r.startOffset + time.Duration(r.mediaTime.Load()).Seconds()
}

// startProcess builds the epoch's argument list, spawns the process, and
// starts its watcher goroutines.
func (s *Session) startProcess(run *epochRun) error {
	args, err := ffmpeg.BuildSessionArgs(s.Plan, s.caps, ffmpeg.BuildOptions{
		MediaPath:       s.MediaPath,
		OutputDir:       s.OutputDir,
		StartOffset:     run.startOffset,
		EpochIndex:      run.epoch,
		SegmentDuration: s.Plan.SegmentDuration,
		StartNumber:     run.nextIndex,
		Framerate:       s.opts.Framerate,
		SubtitleStream:  s.opts.SubtitleStream,
	})
	if err != nil {
		return fmt.Errorf("building arguments: %w", err)
	}

	proc := s.launch(args)
	runCtx, cancel := context.WithCancel(s.baseCtx)
	run.proc = proc
	run.cancel = cancel
	run.startedAt = time.Now()
	run.touch()

	progressCh := make(chan ffmpeg.Progress, 4)
	if err := proc.Start(runCtx, progressCh); err != nil {
		cancel()
		return fmt.Errorf("starting process: %w", err)
	}

	go s.watchSegments(runCtx, run)
	go s.watchProgress(runCtx, run, progressCh)
	go s.watchdog(runCtx, run)
	go s.watchExit(run, proc)

	s.logger.Debug("process started",
		"session_id", s.ID,
		"epoch", run.epoch,
		"pid", proc.PID(),
		"offset", run.startOffset)
	return nil
}

// stopRun asks a run's process to exit. The intentional flag is flipped
// before the process is touched so the exit watcher never mistakes this for
// a crash.
func (s *Session) stopRun(run *epochRun) {
	if run == nil || run.proc == nil {
		return
	}
	run.intentional.Store(true)
	_ = run.proc.Stop(3 * time.Second)
	if run.cancel != nil {
		run.cancel()
	}
}

// watchSegments polls the output directory for the run's output. Process
// stdout is only human-readable progress; the filesystem is the reliable
// completion signal.
func (s *Session) watchSegments(ctx context.Context, run *epochRun) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Plan.Transport == planner.TransportHLS {
				s.scanSegments(run)
			} else {
				s.scanProgressive(run)
			}
		}
	}
}

// scanSegments records newly completed segments in per-epoch index order. A
// file only counts once its size is non-zero; files from other epochs are
// ignored.
func (s *Session) scanSegments(run *epochRun) {
	entries, err := os.ReadDir(s.OutputDir)
	if err != nil {
		return
	}
	sizes := make(map[int]int64)
	for _, entry := range entries {
		epoch, index, ok := hls.ParseSegmentFileName(entry.Name())
		if !ok || epoch != run.epoch {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		sizes[index] = info.Size()
	}

	segDur := s.segmentSeconds()
	var added bool
	s.mu.Lock()
	for {
		size, ok := sizes[run.nextIndex]
		if !ok {
			break
		}
		start := run.startOffset + float64(run.nextIndex-run.firstIndex)*segDur
		err := s.Playlist.AddSegment(hls.Segment{
			Index:     run.nextIndex,
			Epoch:     run.epoch,
			Duration:  segDur,
			SizeBytes: size,
			StartTime: start,
			EndTime:   start + segDur,
		})
		if err != nil {
			break
		}
		run.nextIndex++
		added = true
	}
	s.mu.Unlock()

	if added {
		run.touch()
		s.signalFirstOutput()
	}
}

// scanProgressive watches the growing MP4 a range-transport run writes.
func (s *Session) scanProgressive(run *epochRun) {
	info, err := os.Stat(filepath.Join(s.OutputDir, ffmpeg.ProgressiveFileName))
	if err != nil || info.Size() == 0 {
		return
	}
	if info.Size() > run.progressiveSize.Swap(info.Size()) {
		run.touch()
		s.signalFirstOutput()
	}
}

func (s *Session) signalFirstOutput() {
	s.mu.RLock()
	once := s.epochFirstOnce
	ch := s.epochFirst
	s.mu.RUnlock()
	once.Do(func() { close(ch) })
}

func (s *Session) watchProgress(ctx context.Context, run *epochRun, ch <-chan ffmpeg.Progress) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			run.mediaTime.Store(int64(p.Time))
			run.touch()
		}
	}
}

// watchdog kills a run that produced no first output within the
// first-segment timeout, or that stopped reporting progress. The exit
// watcher then treats the kill as a failure and applies the restart policy.
func (s *Session) watchdog(ctx context.Context, run *epochRun) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			active := s.status == StatusActive && s.run == run
			produced := run.nextIndex > run.firstIndex || run.progressiveSize.Load() > 0
			s.mu.RUnlock()
			if !active {
				return
			}

			now := time.Now()
			if !produced && now.Sub(run.startedAt) > s.opts.FirstSegmentTimeout {
				s.logger.Warn("no output within first-segment timeout, killing process",
					"session_id", s.ID, "epoch", run.epoch, "pid", run.proc.PID())
				_ = run.proc.Kill()
				return
			}
			if produced && now.Sub(run.lastActiveTime()) > s.opts.ProgressTimeout {
				s.logger.Warn("no progress, killing process",
					"session_id", s.ID, "epoch", run.epoch, "pid", run.proc.PID())
				_ = run.proc.Kill()
				return
			}
		}
	}
}

// watchExit reaps the process and routes unexpected exits into the restart
// policy. Requested stops are identified by the intentional flag and never
// restarted.
func (s *Session) watchExit(run *epochRun, proc Process) {
	err := proc.Wait()
	if run.cancel != nil {
		run.cancel()
	}
	if run.intentional.Load() {
		return
	}
	s.handleUnexpectedExit(run, err)
}

func (s *Session) handleUnexpectedExit(run *epochRun, exitErr error) {
	s.mu.Lock()
	if s.status != StatusActive || s.run != run {
		s.mu.Unlock()
		return
	}
	run.restarts++
	attempt := run.restarts
	s.mu.Unlock()

	tail := run.proc.StderrTail()
	if attempt > s.opts.RestartBudget {
		if len(tail) > 0 {
			s.logger.Error("process stderr tail", "session_id", s.ID, "tail", tail[len(tail)-min(len(tail), 5):])
		}
		s.fail(fmt.Errorf("process failed %d times, budget %d exhausted: %v", attempt, s.opts.RestartBudget, exitErr))
		return
	}

	backoff := restartBackoff(attempt)
	s.logger.Warn("process exited unexpectedly, restarting",
		"session_id", s.ID,
		"epoch", run.epoch,
		"attempt", attempt,
		"backoff", backoff,
		"error", exitErr)

	select {
	case <-time.After(backoff):
	case <-s.done:
		return
	}

	s.mu.Lock()
	if s.status != StatusActive || s.run != run {
		s.mu.Unlock()
		return
	}
	next := newEpochRun(run.epoch, run.position(), run.nextIndex)
	next.restarts = run.restarts
	s.run = next
	s.mu.Unlock()

	if err := s.startProcess(next); err != nil {
		s.fail(err)
	}
}

func restartBackoff(attempt int) time.Duration {
	d := 500 * time.Millisecond << (attempt - 1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func (s *Session) segmentSeconds() float64 {
	if s.Plan.SegmentDuration > 0 {
		return float64(s.Plan.SegmentDuration)
	}
	return 4
}
