// Package ffmpeg builds and supervises ffmpeg invocations for playback
// sessions: argument construction from a playback plan, process lifecycle,
// stderr capture, and progress parsing.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Progress is one parsed ffmpeg progress report.
type Progress struct {
	Frame      int64         `json:"frame"`
	FPS        float64       `json:"fps"`
	Bitrate    string        `json:"bitrate"`
	Time       time.Duration `json:"time"`
	Speed      float64       `json:"speed"`
	DupFrames  int64         `json:"dup_frames"`
	DropFrames int64         `json:"drop_frames"`
}

// maxStderrLines bounds the ring buffer of recent stderr output kept for
// failure diagnostics.
const maxStderrLines = 100

// Command is one ffmpeg invocation with process supervision.
type Command struct {
	Binary string
	Args   []string

	cmd     *exec.Cmd
	started time.Time
	mu      sync.RWMutex

	stderrLines []string
	stderrMu    sync.RWMutex

	monitor *ProcessMonitor
}

// NewCommand creates a command from a prebuilt argument list.
func NewCommand(binary string, args []string) *Command {
	return &Command{
		Binary:      binary,
		Args:        args,
		stderrLines: make([]string, 0, maxStderrLines),
	}
}

// String returns the full command line for logging.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the process. Stderr is consumed in the background for the
// progress channel (may be nil) and the diagnostic ring buffer. The caller
// must eventually call Wait.
func (c *Command) Start(ctx context.Context, progressCh chan<- Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.monitor = NewProcessMonitor(int32(cmd.Process.Pid))
	c.monitor.Start()

	go c.consumeStderr(stderr, progressCh)
	return nil
}

// Wait blocks until the process exits and releases the monitor.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	monitor := c.monitor
	c.mu.RUnlock()

	if cmd == nil {
		return fmt.Errorf("command not started")
	}
	err := cmd.Wait()
	if monitor != nil {
		monitor.Stop()
	}
	return err
}

// Stop asks the process to exit gracefully, escalating to SIGKILL after the
// grace period.
func (c *Command) Stop(grace time.Duration) error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	done := make(chan struct{})
	go func() {
		// Wait is owned by the supervising goroutine; poll instead.
		for cmd.ProcessState == nil {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return cmd.Process.Kill()
	}
}

// Kill terminates the process immediately.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// IsRunning returns true while the process is alive.
func (c *Command) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil
}

// PID returns the process id, or 0 before start.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Duration returns how long the process has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// Stats returns resource usage sampled from the running process.
func (c *Command) Stats() ProcessStats {
	c.mu.RLock()
	monitor := c.monitor
	c.mu.RUnlock()
	if monitor == nil {
		return ProcessStats{}
	}
	return monitor.Stats()
}

// StderrTail returns the most recent stderr lines for diagnostics.
func (c *Command) StderrTail() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()
	out := make([]string, len(c.stderrLines))
	copy(out, c.stderrLines)
	return out
}

func (c *Command) consumeStderr(r io.Reader, progressCh chan<- Progress) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	progress := Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		c.stderrMu.Lock()
		c.stderrLines = append(c.stderrLines, line)
		if len(c.stderrLines) > maxStderrLines {
			c.stderrLines = c.stderrLines[len(c.stderrLines)-maxStderrLines:]
		}
		c.stderrMu.Unlock()

		if progressCh == nil || !strings.Contains(line, "time=") {
			continue
		}
		if updateProgress(&progress, line) {
			select {
			case progressCh <- progress:
			default:
				// Never block the stderr drain on a slow consumer.
			}
		}
	}
}

var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
	timeRe    = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
	dupRe     = regexp.MustCompile(`dup=\s*(\d+)`)
	dropRe    = regexp.MustCompile(`drop=\s*(\d+)`)
)

// updateProgress parses one ffmpeg stderr status line into progress. Returns
// false for lines that carry no time field (not a status line).
func updateProgress(p *Progress, line string) bool {
	matches := timeRe.FindStringSubmatch(line)
	if len(matches) <= 4 {
		return false
	}
	hours, _ := strconv.Atoi(matches[1])
	mins, _ := strconv.Atoi(matches[2])
	secs, _ := strconv.Atoi(matches[3])
	centis, _ := strconv.Atoi(matches[4])
	p.Time = time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second +
		time.Duration(centis)*10*time.Millisecond

	if m := frameRe.FindStringSubmatch(line); len(m) > 1 {
		p.Frame, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := fpsRe.FindStringSubmatch(line); len(m) > 1 {
		p.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := bitrateRe.FindStringSubmatch(line); len(m) > 1 {
		p.Bitrate = m[1]
	}
	if m := speedRe.FindStringSubmatch(line); len(m) > 1 {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := dupRe.FindStringSubmatch(line); len(m) > 1 {
		p.DupFrames, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := dropRe.FindStringSubmatch(line); len(m) > 1 {
		p.DropFrames, _ = strconv.ParseInt(m[1], 10, 64)
	}
	return true
}
