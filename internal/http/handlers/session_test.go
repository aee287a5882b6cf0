package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/probe"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/session"
	"github.com/vodarr/vodarr/internal/streaming"
)

type testProber struct {
	media *probe.MediaInfo
}

func (f *testProber) Probe(_ context.Context, path string) (*probe.MediaInfo, error) {
	m := *f.media
	m.Path = path
	return &m, nil
}

type testCapSource struct{}

func (testCapSource) Detect(context.Context) (*capabilities.ServerCapabilities, error) {
	return &capabilities.ServerCapabilities{}, nil
}

type testProc struct {
	exitOnce sync.Once
	exitCh   chan struct{}
}

func (p *testProc) Start(context.Context, chan<- ffmpeg.Progress) error { return nil }

func (p *testProc) Wait() error {
	<-p.exitCh
	return nil
}

func (p *testProc) Stop(time.Duration) error {
	p.exitOnce.Do(func() { close(p.exitCh) })
	return nil
}

func (p *testProc) Kill() error {
	p.exitOnce.Do(func() { close(p.exitCh) })
	return nil
}

func (p *testProc) PID() int { return 4242 }

func (p *testProc) StderrTail() []string { return nil }

func testLauncher([]string) session.Process {
	return &testProc{exitCh: make(chan struct{})}
}

func directMedia() *probe.MediaInfo {
	return &probe.MediaInfo{
		Container: "mp4",
		Duration:  1800,
		SizeBytes: 1 << 30,
		Bitrate:   5_000_000,
		VideoTracks: []probe.VideoTrack{
			{Index: 0, Codec: "h264", Width: 1920, Height: 1080, IsDefault: true},
		},
		AudioTracks: []probe.AudioTrack{
			{Index: 1, Codec: "aac", Channels: 2, IsDefault: true},
		},
	}
}

func handlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.DeviceProfile{}, &models.SessionRecord{}, &models.ClientReliability{})
	require.NoError(t, err)

	return db
}

func newTestService(t *testing.T, media *probe.MediaInfo) (*streaming.Service, *gorm.DB) {
	t.Helper()

	db := handlerTestDB(t)
	cfg := &config.Config{
		Storage: config.StorageConfig{
			BaseDir:    t.TempDir(),
			SessionDir: "sessions",
		},
		Streaming: config.StreamingConfig{
			MaxSessions:         4,
			SessionTimeout:      time.Minute,
			CleanupInterval:     time.Hour,
			FirstSegmentTimeout: 30 * time.Second,
			ProgressTimeout:     20 * time.Second,
			RestartBudget:       3,
			SegmentDuration:     4 * time.Second,
			SegmentLookahead:    3,
		},
		DirectPlay: config.DirectPlayConfig{
			MinSamples:        20,
			FailureRateMax:    0.10,
			OutOfOrderRateMax: 0.20,
			OutOfOrderMax:     50,
		},
	}

	svc := streaming.NewService(streaming.Options{
		Config:       cfg,
		Prober:       &testProber{media: media},
		Capabilities: testCapSource{},
		Launcher:     testLauncher,
		Profiles:     repository.NewDeviceProfileRepository(db),
		Records:      repository.NewSessionRecordRepository(db),
		Reliability:  repository.NewClientReliabilityRepository(db),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	return svc, db
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)
	ctx := context.Background()

	input := &CreateSessionInput{UserAgent: "VLC/3.0.20"}
	input.Body.MediaPath = "/media/movie.mp4"

	out, err := handler.CreateSession(ctx, input)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Body.SessionID)
	assert.Equal(t, planner.ModeDirect, out.Body.Mode)
	assert.Equal(t, planner.TransportRange, out.Body.Transport)
	assert.Equal(t, "/stream/"+out.Body.SessionID+"/file", out.Body.PlaybackURL)
	require.NotNil(t, out.Body.Plan)
	assert.NotEmpty(t, out.Body.Plan.Reasons)

	info, err := handler.GetSession(ctx, &SessionIDInput{SessionID: out.Body.SessionID})
	require.NoError(t, err)
	assert.Equal(t, out.Body.SessionID, info.Body.ID)
	assert.Equal(t, planner.ModeDirect, info.Body.Mode)

	list, err := handler.ListSessions(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Body.Count)
}

func TestSessionHandler_GetUnknown(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)

	_, err := handler.GetSession(context.Background(), &SessionIDInput{SessionID: "missing"})
	assert.Error(t, err)
}

func TestSessionHandler_HeartbeatAndEnd(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)
	ctx := context.Background()

	input := &CreateSessionInput{}
	input.Body.MediaPath = "/media/movie.mp4"
	out, err := handler.CreateSession(ctx, input)
	require.NoError(t, err)

	hb := &PositionInput{SessionID: out.Body.SessionID}
	hb.Body.Position = 95.5
	_, err = handler.Heartbeat(ctx, hb)
	require.NoError(t, err)

	info, err := handler.GetSession(ctx, &SessionIDInput{SessionID: out.Body.SessionID})
	require.NoError(t, err)
	assert.InDelta(t, 95.5, info.Body.Position, 0.01)

	_, err = handler.EndSession(ctx, &SessionIDInput{SessionID: out.Body.SessionID})
	require.NoError(t, err)

	// Ending again, or ending an id that never existed, still succeeds.
	_, err = handler.EndSession(ctx, &SessionIDInput{SessionID: out.Body.SessionID})
	assert.NoError(t, err)
	_, err = handler.EndSession(ctx, &SessionIDInput{SessionID: "missing"})
	assert.NoError(t, err)
}

func TestSessionHandler_CreateResolvesStartPosition(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)
	ctx := context.Background()

	tests := []struct {
		name      string
		requested float64
		want      float64
	}{
		{"zero stays zero", 0, 0},
		{"mid-file offset is kept", 120.5, 120.5},
		{"negative restarts from the beginning", -5, 0},
		{"past the end restarts from the beginning", 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &CreateSessionInput{}
			input.Body.MediaPath = "/media/movie.mp4"
			input.Body.StartOffset = tt.requested

			out, err := handler.CreateSession(ctx, input)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, out.Body.StartPosition, 0.001)

			_, err = handler.EndSession(ctx, &SessionIDInput{SessionID: out.Body.SessionID})
			require.NoError(t, err)
		})
	}
}

func TestSessionHandler_PlaybackDecisionQueryOverrides(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)

	router := chi.NewRouter()
	handler.RegisterChiRoutes(router)

	decide := func(t *testing.T, target string) DecisionResponse {
		t.Helper()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp DecisionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	base := decide(t, "/api/v1/playback-decision?path=/media/movie.mp4")
	assert.Equal(t, planner.ModeDirect, base.Mode)
	assert.Equal(t, "/media/movie.mp4", base.MediaPath)

	// A 720p cap on 1080p media flips the decision to a transcode.
	capped := decide(t, "/api/v1/playback-decision?path=/media/movie.mp4&maxWidth=1280&maxHeight=720")
	assert.Equal(t, planner.ModeTranscodeHLS, capped.Mode)
	require.NotNil(t, capped.Plan)
	assert.Equal(t, planner.ActionEncode, capped.Plan.Video.Action)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/playback-decision", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Previews never register sessions.
	assert.Zero(t, svc.Count())
}

func TestSessionHandler_SwitchTrackDirectIsNoOp(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)
	ctx := context.Background()

	input := &CreateSessionInput{}
	input.Body.MediaPath = "/media/movie.mp4"
	out, err := handler.CreateSession(ctx, input)
	require.NoError(t, err)

	sw := &SwitchTrackInput{SessionID: out.Body.SessionID}
	sw.Body.Reason = "audio language"
	info, err := handler.SwitchTrack(ctx, sw)
	require.NoError(t, err)
	assert.Equal(t, out.Body.SessionID, info.Body.ID)

	_, err = handler.SwitchTrack(ctx, &SwitchTrackInput{SessionID: "missing"})
	assert.Error(t, err)
}

func TestSessionHandler_CreateOverLimit(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		input := &CreateSessionInput{}
		input.Body.MediaPath = "/media/movie.mp4"
		_, err := handler.CreateSession(ctx, input)
		require.NoError(t, err)
	}

	input := &CreateSessionInput{}
	input.Body.MediaPath = "/media/movie.mp4"
	_, err := handler.CreateSession(ctx, input)
	assert.Error(t, err)
}

func TestSessionHandler_History(t *testing.T) {
	svc, db := newTestService(t, directMedia())
	records := repository.NewSessionRecordRepository(db)
	handler := NewSessionHandler(svc).WithRecords(records)
	ctx := context.Background()

	endedAt := time.Now()
	require.NoError(t, records.Create(ctx, &models.SessionRecord{
		SessionID: "3f1c9a92-0004-4000-8000-000000000001",
		MediaPath: "/media/old.mkv",
		Decision:  "transcode_hls",
		State:     models.SessionStateEnded,
		StartedAt: endedAt.Add(-time.Hour),
		EndedAt:   &endedAt,
	}))

	out, err := handler.History(ctx, &HistoryInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, out.Body.Records, 1)
	assert.Equal(t, "/media/old.mkv", out.Body.Records[0].MediaPath)
}

func TestSessionHandler_HistoryDisabled(t *testing.T) {
	svc, _ := newTestService(t, directMedia())
	handler := NewSessionHandler(svc)

	_, err := handler.History(context.Background(), &HistoryInput{Limit: 10})
	assert.Error(t, err)
}
