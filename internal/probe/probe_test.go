package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sdrMovieJSON = `{
	"format": {
		"filename": "/media/movie.mkv",
		"nb_streams": 3,
		"format_name": "matroska,webm",
		"duration": "5400.250000",
		"size": "4294967296",
		"bit_rate": "6363428"
	},
	"streams": [
		{
			"index": 0,
			"codec_name": "h264",
			"profile": "High",
			"codec_type": "video",
			"codec_tag_string": "[0][0][0][0]",
			"width": 1920,
			"height": 1080,
			"pix_fmt": "yuv420p",
			"level": 41,
			"field_order": "progressive",
			"r_frame_rate": "24000/1001",
			"avg_frame_rate": "24000/1001",
			"disposition": {"default": 1, "forced": 0},
			"tags": {"language": "eng"}
		},
		{
			"index": 1,
			"codec_name": "aac",
			"profile": "LC",
			"codec_type": "audio",
			"sample_rate": "48000",
			"channels": 6,
			"channel_layout": "5.1",
			"bit_rate": "384000",
			"disposition": {"default": 1, "forced": 0},
			"tags": {"language": "eng"}
		},
		{
			"index": 2,
			"codec_name": "subrip",
			"codec_type": "subtitle",
			"disposition": {"default": 0, "forced": 0},
			"tags": {"language": "eng"}
		}
	]
}`

const hdrInterlacedJSON = `{
	"format": {
		"filename": "/media/show.mkv",
		"nb_streams": 2,
		"format_name": "matroska,webm",
		"duration": "2700.0"
	},
	"streams": [
		{
			"index": 0,
			"codec_name": "hevc",
			"profile": "Main 10",
			"codec_type": "video",
			"codec_tag_string": "[0][0][0][0]",
			"width": 3840,
			"height": 2160,
			"pix_fmt": "yuv420p10le",
			"color_transfer": "smpte2084",
			"color_primaries": "bt2020",
			"field_order": "tt",
			"r_frame_rate": "25/1",
			"avg_frame_rate": "25/1",
			"disposition": {"default": 1, "forced": 0}
		},
		{
			"index": 1,
			"codec_name": "eac3",
			"codec_type": "audio",
			"sample_rate": "48000",
			"channels": 6,
			"disposition": {"default": 1, "forced": 0}
		}
	]
}`

func TestParseOutput_SDRMovie(t *testing.T) {
	info, err := ParseOutput([]byte(sdrMovieJSON))
	require.NoError(t, err)

	assert.Equal(t, "/media/movie.mkv", info.Path)
	assert.Equal(t, "mkv", info.Container)
	assert.InDelta(t, 5400.25, info.Duration, 0.001)
	assert.Equal(t, int64(4294967296), info.SizeBytes)
	assert.Equal(t, 6363428, info.Bitrate)

	require.Len(t, info.VideoTracks, 1)
	vt := info.VideoTracks[0]
	assert.Equal(t, "h264", vt.Codec)
	assert.Equal(t, "High", vt.Profile)
	assert.Equal(t, "4.1", vt.Level)
	assert.Equal(t, 1920, vt.Width)
	assert.Equal(t, 1080, vt.Height)
	assert.InDelta(t, 23.976, vt.Framerate, 0.001)
	assert.True(t, vt.IsDefault)

	require.Len(t, info.AudioTracks, 1)
	at := info.AudioTracks[0]
	assert.Equal(t, "aac", at.Codec)
	assert.Equal(t, 48000, at.SampleRate)
	assert.Equal(t, 6, at.Channels)
	assert.Equal(t, "eng", at.Language)

	require.Len(t, info.SubtitleTracks, 1)
	assert.True(t, info.SubtitleTracks[0].IsTextBased())

	assert.False(t, info.Quirks.IsHDR())
	assert.False(t, info.Quirks.Interlaced)
	assert.False(t, info.Quirks.VariableFrameRate)
}

func TestParseOutput_HDRInterlaced(t *testing.T) {
	info, err := ParseOutput([]byte(hdrInterlacedJSON))
	require.NoError(t, err)

	require.Len(t, info.VideoTracks, 1)
	assert.Equal(t, "h265", info.VideoTracks[0].Codec, "hevc should normalize to h265")

	assert.True(t, info.Quirks.HDR10)
	assert.False(t, info.Quirks.DolbyVision)
	assert.True(t, info.Quirks.IsHDR())
	assert.True(t, info.Quirks.Interlaced)
}

func TestParseOutput_DolbyVisionTag(t *testing.T) {
	const dvJSON = `{
		"format": {"filename": "a.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "10"},
		"streams": [{
			"index": 0,
			"codec_name": "hevc",
			"codec_type": "video",
			"codec_tag_string": "dvh1",
			"width": 3840, "height": 2160,
			"color_transfer": "smpte2084",
			"color_primaries": "bt2020",
			"disposition": {"default": 1}
		}]
	}`

	info, err := ParseOutput([]byte(dvJSON))
	require.NoError(t, err)
	assert.Equal(t, "mp4", info.Container)
	assert.True(t, info.Quirks.DolbyVision)
	assert.True(t, info.Quirks.HDR10)
}

func TestParseOutput_DolbyVisionSideData(t *testing.T) {
	const dvJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [{
			"index": 0,
			"codec_name": "hevc",
			"codec_type": "video",
			"width": 3840, "height": 2160,
			"disposition": {"default": 1},
			"side_data_list": [{"side_data_type": "DOVI configuration record"}]
		}]
	}`

	info, err := ParseOutput([]byte(dvJSON))
	require.NoError(t, err)
	assert.True(t, info.Quirks.DolbyVision)
}

func TestParseOutput_VFR(t *testing.T) {
	const vfrJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [{
			"index": 0,
			"codec_name": "h264",
			"codec_type": "video",
			"width": 1280, "height": 720,
			"r_frame_rate": "60/1",
			"avg_frame_rate": "47/2",
			"disposition": {"default": 1}
		}]
	}`

	info, err := ParseOutput([]byte(vfrJSON))
	require.NoError(t, err)
	assert.True(t, info.Quirks.VariableFrameRate)
}

func TestParseOutput_Telecine(t *testing.T) {
	const telecineJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [{
			"index": 0,
			"codec_name": "mpeg2video",
			"codec_type": "video",
			"width": 720, "height": 480,
			"field_order": "tt",
			"r_frame_rate": "30000/1001",
			"avg_frame_rate": "24000/1001",
			"disposition": {"default": 1}
		}]
	}`

	info, err := ParseOutput([]byte(telecineJSON))
	require.NoError(t, err)
	assert.True(t, info.Quirks.Telecine)
	// The pulldown rate mismatch is telecine, not VFR.
	assert.False(t, info.Quirks.VariableFrameRate)
	assert.True(t, info.Quirks.Interlaced)
}

func TestParseOutput_AudioSyncOffset(t *testing.T) {
	const offsetJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [
			{
				"index": 0,
				"codec_name": "h264",
				"codec_type": "video",
				"width": 1920, "height": 1080,
				"start_time": "0.000000",
				"disposition": {"default": 1}
			},
			{
				"index": 1,
				"codec_name": "ac3",
				"codec_type": "audio",
				"channels": 6,
				"start_time": "0.450000",
				"disposition": {"default": 1}
			}
		]
	}`

	info, err := ParseOutput([]byte(offsetJSON))
	require.NoError(t, err)
	assert.InDelta(t, 0.45, info.Quirks.AudioSyncOffset, 0.001)
}

func TestParseOutput_AudioSyncBelowThresholdIgnored(t *testing.T) {
	const offsetJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [
			{
				"index": 0,
				"codec_name": "h264",
				"codec_type": "video",
				"width": 1920, "height": 1080,
				"start_time": "0.000000",
				"disposition": {"default": 1}
			},
			{
				"index": 1,
				"codec_name": "aac",
				"codec_type": "audio",
				"channels": 2,
				"start_time": "0.023000",
				"disposition": {"default": 1}
			}
		]
	}`

	info, err := ParseOutput([]byte(offsetJSON))
	require.NoError(t, err)
	assert.Zero(t, info.Quirks.AudioSyncOffset)
}

func TestParseOutput_DolbyVisionProfile(t *testing.T) {
	const dvJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [{
			"index": 0,
			"codec_name": "hevc",
			"codec_type": "video",
			"width": 3840, "height": 2160,
			"disposition": {"default": 1},
			"side_data_list": [{"side_data_type": "DOVI configuration record", "dv_profile": 8}]
		}]
	}`

	info, err := ParseOutput([]byte(dvJSON))
	require.NoError(t, err)
	assert.True(t, info.Quirks.DolbyVision)
	assert.Equal(t, 8, info.Quirks.DolbyVisionProfile)
}

func TestParseOutput_SkipsCoverArt(t *testing.T) {
	const coverJSON = `{
		"format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "10"},
		"streams": [
			{
				"index": 0,
				"codec_name": "h264",
				"codec_type": "video",
				"width": 1920, "height": 1080,
				"disposition": {"default": 1}
			},
			{
				"index": 1,
				"codec_name": "mjpeg",
				"codec_type": "video",
				"width": 600, "height": 900,
				"disposition": {"default": 0}
			}
		]
	}`

	info, err := ParseOutput([]byte(coverJSON))
	require.NoError(t, err)
	require.Len(t, info.VideoTracks, 1)
	assert.Equal(t, "h264", info.VideoTracks[0].Codec)
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30000/1001", 29.97002997},
		{"25/1", 25},
		{"24", 24},
		{"0/0", 0},
		{"garbage", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.expected, parseFramerate(tt.input), 0.0001)
		})
	}
}

func TestMediaInfo_BestAudioTrack(t *testing.T) {
	info := &MediaInfo{
		AudioTracks: []AudioTrack{
			{Index: 1, Codec: "ac3", Channels: 6, Bitrate: 448000, Language: "fra"},
			{Index: 2, Codec: "aac", Channels: 2, Bitrate: 128000, Language: "eng"},
			{Index: 3, Codec: "truehd", Channels: 8, Bitrate: 3000000, Language: "eng"},
		},
	}

	best := info.BestAudioTrack("eng")
	require.NotNil(t, best)
	assert.Equal(t, 3, best.Index, "language match with most channels wins")

	best = info.BestAudioTrack("")
	require.NotNil(t, best)
	assert.Equal(t, 3, best.Index, "most channels wins without language preference")

	empty := &MediaInfo{}
	assert.Nil(t, empty.BestAudioTrack("eng"))
}

func TestMediaInfo_DefaultTracks(t *testing.T) {
	info := &MediaInfo{
		VideoTracks: []VideoTrack{
			{Index: 0},
			{Index: 1, IsDefault: true},
		},
		AudioTracks: []AudioTrack{
			{Index: 2},
		},
	}

	vt := info.DefaultVideoTrack()
	require.NotNil(t, vt)
	assert.Equal(t, 1, vt.Index)

	at := info.DefaultAudioTrack()
	require.NotNil(t, at)
	assert.Equal(t, 2, at.Index, "falls back to first track")

	empty := &MediaInfo{}
	assert.Nil(t, empty.DefaultVideoTrack())
	assert.Nil(t, empty.DefaultAudioTrack())
}
