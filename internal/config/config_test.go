package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

	// Storage defaults
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "presets", cfg.Storage.PresetsDir)
	assert.Equal(t, "motions", cfg.Storage.MotionsDir)
	assert.Equal(t, "output", cfg.Storage.OutputDir)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Stream defaults
	assert.Equal(t, defaultMinIdleMs, cfg.Stream.MinIdleMs)
	assert.Equal(t, defaultCleanupMarginMs, cfg.Stream.CleanupMarginMs)

	// Janitor defaults
	assert.True(t, cfg.Janitor.Enabled)
	assert.Equal(t, "@every 5m", cfg.Janitor.Schedule)

	// Security defaults
	assert.Equal(t, "", cfg.Security.APIKey)
	assert.Equal(t, "x-api-key", cfg.Security.APIKeyHeader)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 60s

storage:
  base_dir: "/var/lib/avatarstreamd"
  presets_dir: "custom-presets"

logging:
  level: "debug"
  format: "text"

stream:
  min_idle_ms: 2000
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/avatarstreamd", cfg.Storage.BaseDir)
	assert.Equal(t, "custom-presets", cfg.Storage.PresetsDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 2000, cfg.Stream.MinIdleMs)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AVATARSTREAMD_SERVER_PORT", "3000")
	t.Setenv("AVATARSTREAMD_LOGGING_LEVEL", "warn")
	t.Setenv("AVATARSTREAMD_STREAM_MIN_IDLE_MS", "1500")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 1500, cfg.Stream.MinIdleMs)
}

func TestLoad_BarePortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "4000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 4000, cfg.Server.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
storage:
  base_dir: "./data"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("AVATARSTREAMD_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
}

func validBaseConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080},
		Storage: StorageConfig{BaseDir: "./data", PresetsDir: "presets", MotionsDir: "motions"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Stream:  StreamConfig{MinIdleMs: defaultMinIdleMs, CleanupMarginMs: defaultCleanupMarginMs},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	err := validBaseConfig().Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_EmptyBaseDir(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Storage.BaseDir = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage.base_dir")
}

func TestValidate_EmptyPresetsDir(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Storage.PresetsDir = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage.presets_dir")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_InvalidMinIdleMs(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Stream.MinIdleMs = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "min_idle_ms")
}

func TestValidate_JanitorScheduleRequiredWhenEnabled(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Janitor.Enabled = true
	cfg.Janitor.Schedule = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "janitor.schedule")
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestStorageConfig_Paths(t *testing.T) {
	cfg := &StorageConfig{
		BaseDir:    "/var/lib/avatarstreamd",
		PresetsDir: "presets",
		MotionsDir: "motions",
		OutputDir:  "output",
		JobsDir:    "jobs",
	}

	assert.Equal(t, "/var/lib/avatarstreamd/presets", cfg.PresetsPath())
	assert.Equal(t, "/var/lib/avatarstreamd/motions", cfg.MotionsPath())
	assert.Equal(t, "/var/lib/avatarstreamd/output", cfg.OutputPath())
	assert.Equal(t, "/var/lib/avatarstreamd/output/stream", cfg.StreamPath())
	assert.Equal(t, "/var/lib/avatarstreamd/jobs", cfg.JobsPath())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
