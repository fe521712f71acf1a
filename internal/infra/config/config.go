// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Queue    QueueConfig             `yaml:"queue"`
	Storage  StorageConfig           `yaml:"storage"`
	Playback PlaybackConfig          `yaml:"playback"`
	Sweep    SweepConfig             `yaml:"sweep"`
	Filters  map[string]FilterConfig `yaml:"filters"`
}

// DiscordConfig represents gateway credentials.
type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// QueueConfig represents per-guild queue admission limits.
type QueueConfig struct {
	MaxSizeMB       int     `yaml:"max_size_mb" default:"100" validate:"gt=0"`
	MaxTracks       int     `yaml:"max_tracks" default:"20" validate:"gt=0"`
	MaxTrackMinutes float64 `yaml:"max_track_minutes" default:"60" validate:"gt=0"`
}

// StorageConfig represents temp file and settings storage.
type StorageConfig struct {
	TempDir             string `yaml:"temp_dir" default:".tracks"`
	SettingsDB          string `yaml:"settings_db" default:"guild_settings.db"`
	ReapIntervalMinutes int    `yaml:"reap_interval_minutes" default:"5" validate:"gte=1"`
	MaxFileAgeMinutes   int    `yaml:"max_file_age_minutes" default:"60" validate:"gte=1"`
}

// PlaybackConfig represents stream and volume behavior.
type PlaybackConfig struct {
	DefaultVolume        int `yaml:"default_volume" default:"100" validate:"gte=0,lte=120"`
	RateLimitSeconds     int `yaml:"rate_limit_seconds" default:"2" validate:"gte=1"`
	DefaultBitrateKbps   int `yaml:"default_bitrate_kbps" default:"192" validate:"gte=64,lte=320"`
	MaxBitrateKbps       int `yaml:"max_bitrate_kbps" default:"320" validate:"gte=64,lte=320"`
	StreamRestartDelayMs int `yaml:"stream_restart_delay_ms" default:"500" validate:"gte=0,lte=5000"`
}

// SweepConfig represents the housekeeping loop intervals.
type SweepConfig struct {
	IntervalMinutes       int `yaml:"interval_minutes" default:"5" validate:"gte=1"`
	AloneGraceMinutes     int `yaml:"alone_grace_minutes" default:"5" validate:"gte=1"`
	IdleTimeoutMinutes    int `yaml:"idle_timeout_minutes" default:"60" validate:"gte=1"`
	RateLimitTTLSeconds   int `yaml:"rate_limit_ttl_seconds" default:"60" validate:"gte=1"`
	FailureBackoffSeconds int `yaml:"failure_backoff_seconds" default:"60" validate:"gte=1"`
}

// FilterConfig represents an admission filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("BEATBOX_TEMP_DIR"); v != "" {
		c.Storage.TempDir = v
	}
	if v := os.Getenv("BEATBOX_SETTINGS_DB"); v != "" {
		c.Storage.SettingsDB = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Playback.DefaultBitrateKbps > c.Playback.MaxBitrateKbps {
		return errors.New("default_bitrate_kbps must not exceed max_bitrate_kbps")
	}
	return nil
}
