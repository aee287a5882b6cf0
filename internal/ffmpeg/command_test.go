package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUpdateProgress(t *testing.T) {
	var p Progress
	line := "frame= 1432 fps= 48 q=28.0 size=   12544KiB time=00:01:02.45 bitrate=1645.2kbits/s dup=3 drop=1 speed=2.01x"
	assert.True(t, updateProgress(&p, line))

	assert.Equal(t, int64(1432), p.Frame)
	assert.Equal(t, float64(48), p.FPS)
	assert.Equal(t, "1645.2kbits/s", p.Bitrate)
	assert.Equal(t, time.Minute+2*time.Second+450*time.Millisecond, p.Time)
	assert.Equal(t, 2.01, p.Speed)
	assert.Equal(t, int64(3), p.DupFrames)
	assert.Equal(t, int64(1), p.DropFrames)
}

func TestUpdateProgress_AudioOnlyLine(t *testing.T) {
	// Audio-only remuxes report no frame or fps fields.
	var p Progress
	line := "size=    2048KiB time=00:00:30.00 bitrate= 559.2kbits/s speed=30.5x"
	assert.True(t, updateProgress(&p, line))

	assert.Equal(t, int64(0), p.Frame)
	assert.Equal(t, 30*time.Second, p.Time)
	assert.Equal(t, 30.5, p.Speed)
}

func TestUpdateProgress_NonStatusLine(t *testing.T) {
	var p Progress
	for _, line := range []string{
		"",
		"Input #0, matroska,webm, from '/media/movie.mkv':",
		"  Stream #0:0: Video: h264 (High), yuv420p(progressive), 1920x1080",
		"[libx264 @ 0x55] using SAR=1/1",
	} {
		assert.False(t, updateProgress(&p, line), "line %q", line)
	}
}

func TestUpdateProgress_HourBoundary(t *testing.T) {
	var p Progress
	assert.True(t, updateProgress(&p, "frame=172800 fps=24 time=02:00:00.00 bitrate=4500.0kbits/s speed=1.0x"))
	assert.Equal(t, 2*time.Hour, p.Time)
}

func TestCommand_String(t *testing.T) {
	c := NewCommand("/usr/bin/ffmpeg", []string{"-i", "in.mkv", "out.mp4"})
	assert.Equal(t, "/usr/bin/ffmpeg -i in.mkv out.mp4", c.String())
}

func TestCommand_NotStarted(t *testing.T) {
	c := NewCommand("ffmpeg", nil)
	assert.False(t, c.IsRunning())
	assert.Equal(t, 0, c.PID())
	assert.Empty(t, c.StderrTail())
}
