// Package config provides configuration management for avatarstreamd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultFFprobeTimeout  = 30 * time.Second
	defaultMinIdleMs       = 1200
	defaultCleanupMarginMs = 10_000
	defaultSilenceThreshDB = -70
	defaultJanitorInterval = 5 * time.Minute
	defaultJanitorJobAge   = 1 * time.Hour
	defaultTTSTimeout      = 30 * time.Second
	defaultTTSRetries      = 3
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	Security SecurityConfig `mapstructure:"security"`
	TTS      EngineConfig   `mapstructure:"tts"`
	STT      EngineConfig   `mapstructure:"stt"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// ResponsePathBase rewrites the path-prefix of output paths returned to clients.
	ResponsePathBase string `mapstructure:"response_path_base"`
}

// StorageConfig holds filesystem layout configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	PresetsDir string `mapstructure:"presets_dir"`
	MotionsDir string `mapstructure:"motions_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	JobsDir    string `mapstructure:"jobs_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds media-tool binary configuration.
type FFmpegConfig struct {
	BinaryPath     string        `mapstructure:"binary_path"`     // path to ffmpeg binary (empty = auto-detect)
	ProbePath      string        `mapstructure:"probe_path"`      // path to ffprobe binary (empty = auto-detect)
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`   // FFPROBE_TIMEOUT_MS equivalent
	DebugMediaProbe bool         `mapstructure:"debug_media_probe"`
}

// StreamConfig holds Idle-Loop Controller and RTMP ingest tuning.
type StreamConfig struct {
	// MinIdleMs is the minimum idle clip plan duration (MIN_IDLE_MS).
	MinIdleMs int `mapstructure:"min_idle_ms"`
	// CleanupMarginMs is the delay past a file's last scheduled play time before unlink.
	CleanupMarginMs int `mapstructure:"cleanup_margin_ms"`
	// SilenceThresholdDB is the dB threshold used by trim_audio_silence.
	SilenceThresholdDB int `mapstructure:"silence_threshold_db"`
	// Ingest configures the embedded RTMP ingest server started at boot.
	Ingest IngestConfig `mapstructure:"ingest"`
}

// IngestConfig configures the local RTMP ingest server subprocess.
type IngestConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"`
	Args            []string      `mapstructure:"args"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JanitorConfig holds the periodic orphan-file sweep configuration.
type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // cron expression, default every 5 minutes
	MaxJobAge time.Duration `mapstructure:"max_job_age"`
}

// SecurityConfig holds API authentication configuration.
type SecurityConfig struct {
	APIKey       string `mapstructure:"api_key"` // empty disables the x-api-key check
	APIKeyHeader string `mapstructure:"api_key_header"`
}

// EngineConfig configures an HTTP-based TTS or STT engine adapter.
type EngineConfig struct {
	Engine      string        `mapstructure:"engine"` // tag selecting the AudioProfile variant
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with AVATARSTREAMD_ and use underscores for nesting.
// Example: AVATARSTREAMD_SERVER_PORT=8080.
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
		v.AddConfigPath("/etc/avatarstreamd")
		v.AddConfigPath("$HOME/.avatarstreamd")
	}

	// Environment variable settings
	v.SetEnvPrefix("AVATARSTREAMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT is a bare override accepted alongside the namespaced env vars.
	if err := v.BindEnv("server.port", "AVATARSTREAMD_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding server.port env: %w", err)
	}
	if err := v.BindEnv("server.response_path_base", "AVATARSTREAMD_SERVER_RESPONSE_PATH_BASE", "RESPONSE_PATH_BASE"); err != nil {
		return nil, fmt.Errorf("binding response_path_base env: %w", err)
	}
	if err := v.BindEnv("ffmpeg.binary_path", "AVATARSTREAMD_FFMPEG_BINARY_PATH", "FFMPEG_BIN"); err != nil {
		return nil, fmt.Errorf("binding ffmpeg binary env: %w", err)
	}
	if err := v.BindEnv("ffmpeg.probe_path", "AVATARSTREAMD_FFMPEG_PROBE_PATH", "FFPROBE_BIN"); err != nil {
		return nil, fmt.Errorf("binding ffprobe binary env: %w", err)
	}
	if err := v.BindEnv("ffmpeg.probe_timeout", "AVATARSTREAMD_FFMPEG_PROBE_TIMEOUT", "FFPROBE_TIMEOUT_MS"); err != nil {
		return nil, fmt.Errorf("binding ffprobe timeout env: %w", err)
	}
	if err := v.BindEnv("ffmpeg.debug_media_probe", "AVATARSTREAMD_FFMPEG_DEBUG_MEDIA_PROBE", "DEBUG_MEDIA_PROBE"); err != nil {
		return nil, fmt.Errorf("binding debug media probe env: %w", err)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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
	v.SetDefault("server.response_path_base", "")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.presets_dir", "presets")
	v.SetDefault("storage.motions_dir", "motions")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.jobs_dir", "jobs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultFFprobeTimeout)
	v.SetDefault("ffmpeg.debug_media_probe", false)

	// Stream defaults
	v.SetDefault("stream.min_idle_ms", defaultMinIdleMs)
	v.SetDefault("stream.cleanup_margin_ms", defaultCleanupMarginMs)
	v.SetDefault("stream.silence_threshold_db", defaultSilenceThreshDB)
	v.SetDefault("stream.ingest.binary_path", "")
	v.SetDefault("stream.ingest.args", []string{})
	v.SetDefault("stream.ingest.startup_timeout", 5*time.Second)
	v.SetDefault("stream.ingest.shutdown_timeout", 2*time.Second)

	// Janitor defaults
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 5m")
	v.SetDefault("janitor.max_job_age", defaultJanitorJobAge)

	// Security defaults
	v.SetDefault("security.api_key", "")
	v.SetDefault("security.api_key_header", "x-api-key")

	// TTS/STT defaults
	v.SetDefault("tts.engine", "http")
	v.SetDefault("tts.timeout", defaultTTSTimeout)
	v.SetDefault("tts.max_retries", defaultTTSRetries)
	v.SetDefault("stt.engine", "http")
	v.SetDefault("stt.timeout", defaultTTSTimeout)
	v.SetDefault("stt.max_retries", defaultTTSRetries)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.PresetsDir == "" {
		return fmt.Errorf("storage.presets_dir is required")
	}
	if c.Storage.MotionsDir == "" {
		return fmt.Errorf("storage.motions_dir is required")
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

	// Stream validation
	if c.Stream.MinIdleMs < 1 {
		return fmt.Errorf("stream.min_idle_ms must be at least 1")
	}
	if c.Stream.CleanupMarginMs < 0 {
		return fmt.Errorf("stream.cleanup_margin_ms must not be negative")
	}

	// Janitor validation
	if c.Janitor.Enabled && c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor.schedule is required when janitor.enabled is true")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PresetsPath returns the full path to the presets directory.
func (c *StorageConfig) PresetsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.PresetsDir)
}

// MotionsPath returns the full path to the read-only motion assets directory.
func (c *StorageConfig) MotionsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.MotionsDir)
}

// OutputPath returns the full path to the cached-output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}

// StreamPath returns the full path to the live-stream ephemera directory
// (<output_dir>/stream, owned exclusively by the Idle-Loop Controller).
func (c *StorageConfig) StreamPath() string {
	return fmt.Sprintf("%s/stream", c.OutputPath())
}

// JobsPath returns the full path to the job-directory workspace root.
func (c *StorageConfig) JobsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.JobsDir)
}
