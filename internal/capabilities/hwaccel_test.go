package capabilities

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFFmpeg writes a script that succeeds only when the nvenc encoder is
// among its arguments, standing in for a host with a working NVIDIA card
// and nothing else.
func stubFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub script needs a shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor a in \"$@\"; do [ \"$a\" = h264_nvenc ] && exit 0; done\nexit 1\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestTestHWAccels(t *testing.T) {
	d := NewDetector("", "")
	detail := d.testHWAccels(t.Context(), stubFFmpeg(t), []string{"cuda", "vaapi", "vulkan"})
	require.Len(t, detail, 3)

	cuda := detail[0]
	assert.True(t, cuda.Tested)
	assert.True(t, cuda.Works)
	assert.Equal(t, "cuda", cuda.Device)

	vaapi := detail[1]
	assert.True(t, vaapi.Tested)
	assert.False(t, vaapi.Works)

	// No smoke test exists for vulkan, the listing is taken at its word.
	vulkan := detail[2]
	assert.False(t, vulkan.Tested)
	assert.True(t, vulkan.Works)

	assert.Equal(t, []string{"cuda", "vulkan"}, workingHWAccels(detail))
}

func TestEstimateMaxSessions(t *testing.T) {
	tests := []struct {
		name     string
		cores    int
		hwEncode bool
		want     int
	}{
		{"software quad core", 4, false, 1},
		{"software 16 cores", 16, false, 4},
		{"software dual core floors at one", 2, false, 1},
		{"hardware follows cores", 8, true, 8},
		{"hardware capped", 64, true, 16},
		{"unknown cores", 0, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateMaxSessions(tt.cores, tt.hwEncode))
		})
	}
}

func TestHasHWEncoder(t *testing.T) {
	encoders := []string{"libx264", "aac", "h264_nvenc"}
	assert.True(t, hasHWEncoder(encoders, []string{"cuda"}))
	// A hardware encoder without a working accel cannot be used.
	assert.False(t, hasHWEncoder(encoders, nil))
	assert.False(t, hasHWEncoder([]string{"libx264", "aac"}, []string{"cuda"}))
}
