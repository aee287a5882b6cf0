package session

import (
	"context"
	"time"

	"github.com/vodarr/vodarr/internal/ffmpeg"
)

// Process is the slice of process behavior a session drives. Satisfied by
// *ffmpeg.Command.
type Process interface {
	Start(ctx context.Context, progressCh chan<- ffmpeg.Progress) error
	Wait() error
	Stop(grace time.Duration) error
	Kill() error
	PID() int
	StderrTail() []string
}

// Launcher creates a process for one epoch's argument list.
type Launcher func(args []string) Process

// NewFFmpegLauncher returns a launcher that runs the given ffmpeg binary.
func NewFFmpegLauncher(binary string) Launcher {
	return func(args []string) Process {
		return ffmpeg.NewCommand(binary, args)
	}
}
