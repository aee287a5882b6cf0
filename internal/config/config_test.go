package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "test.db",
			MaxOpenConns: 25,
			MaxIdleConns: 10,
			LogLevel:     "warn",
		},
		Storage: StorageConfig{BaseDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Streaming: StreamingConfig{
			MaxSessions:      8,
			RestartBudget:    3,
			SegmentDuration:  4 * time.Second,
			SegmentLookahead: 3,
		},
		DirectPlay: DirectPlayConfig{
			MinSamples:        20,
			FailureRateMax:    0.10,
			OutOfOrderRateMax: 0.20,
			OutOfOrderMax:     50,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "vodarr.db", cfg.Database.DSN)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	// Storage defaults
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "sessions", cfg.Storage.SessionDir)
	assert.Equal(t, 24*time.Hour, cfg.Storage.SessionRetention.Duration())

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Streaming defaults
	assert.Equal(t, 8, cfg.Streaming.MaxSessions)
	assert.Equal(t, 5*time.Minute, cfg.Streaming.SessionTimeout)
	assert.Equal(t, 30*time.Second, cfg.Streaming.FirstSegmentTimeout)
	assert.Equal(t, 20*time.Second, cfg.Streaming.ProgressTimeout)
	assert.Equal(t, 3, cfg.Streaming.RestartBudget)
	assert.Equal(t, 4*time.Second, cfg.Streaming.SegmentDuration)
	assert.Equal(t, 3, cfg.Streaming.SegmentLookahead)

	// Direct play defaults
	assert.Equal(t, 20, cfg.DirectPlay.MinSamples)
	assert.InDelta(t, 0.10, cfg.DirectPlay.FailureRateMax, 0.0001)
	assert.InDelta(t, 0.20, cfg.DirectPlay.OutOfOrderRateMax, 0.0001)
	assert.Equal(t, 64, cfg.DirectPlay.FileCacheEntries)
	assert.Equal(t, int64(256*1024*1024), cfg.DirectPlay.FileCacheBytes.Bytes())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
streaming:
  max_sessions: 2
  segment_duration: 6s
storage:
  base_dir: /tmp/vodarr-test
  session_retention: 2w
direct_play:
  file_cache_bytes: 64MB
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Streaming.MaxSessions)
	assert.Equal(t, 6*time.Second, cfg.Streaming.SegmentDuration)
	assert.Equal(t, "/tmp/vodarr-test", cfg.Storage.BaseDir)
	assert.Equal(t, 14*24*time.Hour, cfg.Storage.SessionRetention.Duration())
	assert.Equal(t, int64(64*1024*1024), cfg.DirectPlay.FileCacheBytes.Bytes())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VODARR_SERVER_PORT", "7070")
	t.Setenv("VODARR_STREAMING_RESTART_BUDGET", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Streaming.RestartBudget)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "invalid driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "missing base dir",
			mutate:  func(c *Config) { c.Storage.BaseDir = "" },
			wantErr: "storage.base_dir",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "zero max sessions",
			mutate:  func(c *Config) { c.Streaming.MaxSessions = 0 },
			wantErr: "streaming.max_sessions",
		},
		{
			name:    "negative restart budget",
			mutate:  func(c *Config) { c.Streaming.RestartBudget = -1 },
			wantErr: "streaming.restart_budget",
		},
		{
			name:    "sub-second segment duration",
			mutate:  func(c *Config) { c.Streaming.SegmentDuration = 500 * time.Millisecond },
			wantErr: "streaming.segment_duration",
		},
		{
			name:    "failure rate out of range",
			mutate:  func(c *Config) { c.DirectPlay.FailureRateMax = 1.5 },
			wantErr: "direct_play.failure_rate_max",
		},
		{
			name:    "out of order rate out of range",
			mutate:  func(c *Config) { c.DirectPlay.OutOfOrderRateMax = 0 },
			wantErr: "direct_play.out_of_order_rate_max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", c.Address())
}

func TestStorageConfig_Paths(t *testing.T) {
	c := StorageConfig{BaseDir: "/data", SessionDir: "sessions", TempDir: "temp"}
	assert.Equal(t, "/data/sessions", c.SessionPath())
	assert.Equal(t, "/data/temp", c.TempPath())
}
