// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultMaxSessions         = 8
	defaultSessionTimeout      = 5 * time.Minute
	defaultCleanupInterval     = 30 * time.Second
	defaultFirstSegmentTimeout = 30 * time.Second
	defaultProgressTimeout     = 20 * time.Second
	defaultRestartBudget       = 3
	defaultSegmentDuration     = 4 * time.Second
	defaultSegmentLookahead    = 3
	defaultSessionRetention    = 24 * time.Hour
	defaultMinSamples          = 20
	defaultFailureRateMax      = 0.10
	defaultOutOfOrderRateMax   = 0.20
	defaultOutOfOrderMax       = 50
	defaultFileCacheEntries    = 64
	defaultFileCacheBytes      = 256 * 1024 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	DirectPlay DirectPlayConfig `mapstructure:"direct_play"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	SessionDir string `mapstructure:"session_dir"`
	TempDir    string `mapstructure:"temp_dir"`
	// SessionRetention is how long finished session records and their
	// on-disk segment directories are kept before being swept.
	// Supports extended units like "30d" or "2w".
	SessionRetention Duration `mapstructure:"session_retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string   `mapstructure:"probe_path"`       // Path to ffprobe binary (empty = auto-detect)
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // Priority order: vaapi, nvenc, qsv, amf
}

// StreamingConfig holds transcode session configuration.
type StreamingConfig struct {
	MaxSessions         int           `mapstructure:"max_sessions"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	FirstSegmentTimeout time.Duration `mapstructure:"first_segment_timeout"`
	ProgressTimeout     time.Duration `mapstructure:"progress_timeout"`
	RestartBudget       int           `mapstructure:"restart_budget"`
	SegmentDuration     time.Duration `mapstructure:"segment_duration"`
	SegmentLookahead    int           `mapstructure:"segment_lookahead"`
}

// DirectPlayConfig holds range serving and client reliability configuration.
type DirectPlayConfig struct {
	MinSamples        int     `mapstructure:"min_samples"`
	FailureRateMax    float64 `mapstructure:"failure_rate_max"`
	OutOfOrderRateMax float64 `mapstructure:"out_of_order_rate_max"`
	OutOfOrderMax     int     `mapstructure:"out_of_order_max"`
	FileCacheEntries  int     `mapstructure:"file_cache_entries"`
	// FileCacheBytes caps the total bytes held by the open-file cache.
	// Supports human-readable values like "256MB" or raw byte counts.
	FileCacheBytes ByteSize `mapstructure:"file_cache_bytes"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VODARR_ and use underscores for nesting.
/// Example: VODARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook builds the mapstructure hook chain for Unmarshal. The text
// unmarshaller hook routes string values through Duration and ByteSize
// parsing ("2w", "64MB"); the standard duration and slice hooks are
// re-added because supplying a custom hook replaces viper's defaults.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.session_dir", "sessions")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.session_retention", defaultSessionRetention)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"vaapi", "nvenc", "qsv", "amf"})

	// Streaming defaults
	v.SetDefault("streaming.max_sessions", defaultMaxSessions)
	v.SetDefault("streaming.session_timeout", defaultSessionTimeout)
	v.SetDefault("streaming.cleanup_interval", defaultCleanupInterval)
	v.SetDefault("streaming.first_segment_timeout", defaultFirstSegmentTimeout)
	v.SetDefault("streaming.progress_timeout", defaultProgressTimeout)
	v.SetDefault("streaming.restart_budget", defaultRestartBudget)
	v.SetDefault("streaming.segment_duration", defaultSegmentDuration)
	v.SetDefault("streaming.segment_lookahead", defaultSegmentLookahead)

	// Direct play defaults
	v.SetDefault("direct_play.min_samples", defaultMinSamples)
	v.SetDefault("direct_play.failure_rate_max", defaultFailureRateMax)
	v.SetDefault("direct_play.out_of_order_rate_max", defaultOutOfOrderRateMax)
	v.SetDefault("direct_play.out_of_order_max", defaultOutOfOrderMax)
	v.SetDefault("direct_play.file_cache_entries", defaultFileCacheEntries)
	v.SetDefault("direct_play.file_cache_bytes", defaultFileCacheBytes)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Streaming validation
	if c.Streaming.MaxSessions < 1 {
		return fmt.Errorf("streaming.max_sessions must be at least 1")
	}
	if c.Streaming.RestartBudget < 0 {
		return fmt.Errorf("streaming.restart_budget must not be negative")
	}
	if c.Streaming.SegmentDuration < time.Second {
		return fmt.Errorf("streaming.segment_duration must be at least 1s")
	}
	if c.Streaming.SegmentLookahead < 1 {
		return fmt.Errorf("streaming.segment_lookahead must be at least 1")
	}

	// Direct play validation
	if c.DirectPlay.MinSamples < 1 {
		return fmt.Errorf("direct_play.min_samples must be at least 1")
	}
	if c.DirectPlay.FailureRateMax <= 0 || c.DirectPlay.FailureRateMax >= 1 {
		return fmt.Errorf("direct_play.failure_rate_max must be between 0 and 1 exclusive")
	}
	if c.DirectPlay.OutOfOrderRateMax <= 0 || c.DirectPlay.OutOfOrderRateMax >= 1 {
		return fmt.Errorf("direct_play.out_of_order_rate_max must be between 0 and 1 exclusive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionPath returns the full path to the session output directory.
func (c *StorageConfig) SessionPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.SessionDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
