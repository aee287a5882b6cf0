package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/database"
	"github.com/vodarr/vodarr/internal/directplay"
	internalhttp "github.com/vodarr/vodarr/internal/http"
	"github.com/vodarr/vodarr/internal/http/handlers"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/probe"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/session"
	"github.com/vodarr/vodarr/internal/streaming"
	"github.com/vodarr/vodarr/internal/util"
	"github.com/vodarr/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server and API.

The server provides:
- REST API for creating and controlling playback sessions
- Direct-play byte-range file serving at /stream/{id}/file
- HLS playlists and segments at /stream/{id}/
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "vodarr.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for session output")
	serveCmd.Flags().Int("max-sessions", 0, "Maximum concurrent playback sessions")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Prepare storage directories and clear session output left behind by a
	// previous run. Sessions do not survive a restart, so anything on disk
	// under the session dir is orphaned.
	if err := os.MkdirAll(cfg.Storage.SessionPath(), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.TempPath(), 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	if removed := cleanupOrphanedSessions(cfg.Storage.SessionPath()); removed > 0 {
		logger.Info("removed orphaned session directories on startup",
			slog.Int("removed_count", removed),
		)
	}

	// Initialize database
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	profileRepo := repository.NewDeviceProfileRepository(db.DB)
	recordRepo := repository.NewSessionRecordRepository(db.DB)
	reliabilityRepo := repository.NewClientReliabilityRepository(db.DB)

	if err := seedDeviceProfiles(context.Background(), profileRepo, logger); err != nil {
		return fmt.Errorf("seeding device profiles: %w", err)
	}

	// Locate ffmpeg binaries
	ffmpegPath := cfg.FFmpeg.BinaryPath
	if ffmpegPath == "" {
		if ffmpegPath, err = util.FindBinary("ffmpeg", "VODARR_FFMPEG_BINARY"); err != nil {
			return fmt.Errorf("locating ffmpeg: %w", err)
		}
	}
	ffprobePath := cfg.FFmpeg.ProbePath
	if ffprobePath == "" {
		if ffprobePath, err = util.FindBinary("ffprobe", "VODARR_FFPROBE_BINARY"); err != nil {
			return fmt.Errorf("locating ffprobe: %w", err)
		}
	}
	logger.Info("ffmpeg binaries located",
		slog.String("ffmpeg", ffmpegPath),
		slog.String("ffprobe", ffprobePath),
	)

	detector := capabilities.NewDetector(ffmpegPath, ffprobePath)
	prober := probe.NewProber(ffprobePath)

	// Initialize streaming service
	svc := streaming.NewService(streaming.Options{
		Config:       cfg,
		Prober:       prober,
		Capabilities: detector,
		Launcher:     session.NewFFmpegLauncher(ffmpegPath),
		Logger:       logger,
		Profiles:     profileRepo,
		Records:      recordRepo,
		Reliability:  reliabilityRepo,
	})

	// Initialize HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	fileCache := directplay.NewFileCache(
		cfg.DirectPlay.FileCacheEntries,
		cfg.DirectPlay.FileCacheBytes.Bytes(),
	)
	fileServer := directplay.NewServer(fileCache, logger)

	// Register handlers
	healthHandler := handlers.NewHealthHandler().WithDB(db.DB).WithStreamingService(svc)
	healthHandler.Register(server.API())

	sessionHandler := handlers.NewSessionHandler(svc).
		WithLogger(logger).
		WithRecords(recordRepo)
	sessionHandler.Register(server.API())
	sessionHandler.RegisterChiRoutes(server.Router())

	streamHandler := handlers.NewStreamHandler(svc, fileServer).WithLogger(logger)
	streamHandler.RegisterChiRoutes(server.Router())

	systemHandler := handlers.NewSystemHandler(detector)
	systemHandler.Register(server.API())

	profileHandler := handlers.NewDeviceProfileHandler(profileRepo)
	profileHandler.Register(server.API())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start server
	logger.Info("starting vodarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// Stop all playback sessions before the process exits so records are
	// persisted and ffmpeg children are reaped.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	svc.Shutdown(shutdownCtx)
	fileCache.Close()

	return serveErr
}

// applyServeFlags overrides config values with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("max-sessions") {
		cfg.Streaming.MaxSessions, _ = flags.GetInt("max-sessions")
	}
}

// cleanupOrphanedSessions removes per-session output directories left by a
// previous run. Returns the number of directories removed.
func cleanupOrphanedSessions(sessionDir string) int {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(sessionDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// systemProfiles are the built-in device profiles created on first start.
// They cover common players whose User-Agent is recognizable; anything that
// matches none of them falls back to conservative default capabilities.
var systemProfiles = []models.DeviceProfile{
	{
		Name:             "Chromecast",
		Description:      "Chromecast and Google TV devices",
		UserAgentPattern: "crkey",
		Priority:         100,
		VideoCodecs:      `["h264","vp8"]`,
		AudioCodecs:      `["aac","mp3","opus","vorbis"]`,
		Containers:       `["mp4","webm"]`,
		MaxWidth:         1920,
		MaxHeight:        1080,
		SupportsMPEGTS:   models.BoolPtr(true),
		SupportsFMP4:     models.BoolPtr(true),
	},
	{
		Name:             "Apple TV",
		Description:      "tvOS devices and the Apple TV app",
		UserAgentPattern: "appletv",
		Priority:         100,
		VideoCodecs:      `["h264","hevc"]`,
		AudioCodecs:      `["aac","ac3","eac3"]`,
		Containers:       `["mp4","mov"]`,
		MaxWidth:         3840,
		MaxHeight:        2160,
		SupportsHDR10:    true,
		SupportsFMP4:     models.BoolPtr(true),
		SupportsMPEGTS:   models.BoolPtr(true),
	},
	{
		Name:             "VLC",
		Description:      "VLC media player on any platform",
		UserAgentPattern: "vlc",
		Priority:         100,
		VideoCodecs:      `["h264","hevc","vp9","av1","mpeg2video"]`,
		AudioCodecs:      `["aac","ac3","eac3","dts","mp3","flac","opus","vorbis"]`,
		Containers:       `["mp4","mkv","avi","mov","webm"]`,
		SupportsFMP4:     models.BoolPtr(true),
		SupportsMPEGTS:   models.BoolPtr(true),
	},
	{
		Name:             "Safari",
		Description:      "Safari on macOS and iOS",
		UserAgentPattern: "safari",
		Priority:         500,
		VideoCodecs:      `["h264","hevc"]`,
		AudioCodecs:      `["aac"]`,
		Containers:       `["mp4","mov"]`,
		SupportsFMP4:     models.BoolPtr(true),
		SupportsMPEGTS:   models.BoolPtr(true),
	},
	{
		Name:             "Generic Browser",
		Description:      "Fallback for other browsers",
		UserAgentPattern: "mozilla",
		Priority:         900,
		VideoCodecs:      `["h264"]`,
		AudioCodecs:      `["aac","mp3"]`,
		Containers:       `["mp4"]`,
		SupportsFMP4:     models.BoolPtr(true),
		SupportsMPEGTS:   models.BoolPtr(false),
	},
}

// seedDeviceProfiles creates any missing built-in profiles. Existing profiles
// are never modified, so operator edits survive restarts.
func seedDeviceProfiles(ctx context.Context, repo repository.DeviceProfileRepository, logger *slog.Logger) error {
	existing, err := repo.GetAll(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.Name] = true
	}

	created := 0
	for i := range systemProfiles {
		if have[systemProfiles[i].Name] {
			continue
		}
		profile := systemProfiles[i]
		profile.IsSystem = true
		if err := repo.Create(ctx, &profile); err != nil {
			return fmt.Errorf("creating profile %q: %w", profile.Name, err)
		}
		created++
	}
	if created > 0 {
		logger.Info("seeded built-in device profiles", slog.Int("created", created))
	}
	return nil
}
