// Package config provides configuration loading and defaults for driver.
//
// Configuration is loaded from config.toml in the data directory. Every key
// is optional; missing keys keep their [DefaultConfig] value.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/driver/internal/atomicfile"
	"tools.zach/dev/driver/internal/heartbeat"
	"tools.zach/dev/driver/internal/logger"
	"tools.zach/dev/driver/internal/paths"
)

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = 1

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Loop holds service loop timing.
	Loop LoopConfig `toml:"loop"`
	// Heartbeat holds the periodic work settings.
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	// Shutdown holds extra shutdown triggers.
	Shutdown ShutdownConfig `toml:"shutdown"`
	// Metrics holds the Prometheus endpoint settings.
	Metrics MetricsConfig `toml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (none, trace, debug, info, warn, error, fatal).
	Level string `toml:"level"`
	// File enables the rotating log file in the data directory.
	File bool `toml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups"`
}

// LoopConfig holds service loop timing.
type LoopConfig struct {
	// PollIntervalMS is the longest the loop waits before doing work.
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// HeartbeatConfig holds the periodic work settings.
type HeartbeatConfig struct {
	// Message is printed once per interval. Empty disables it.
	Message string `toml:"message"`
	// URL is pinged once per interval when set.
	URL string `toml:"url"`
	// TimeoutMS bounds one ping. Zero uses the poll interval.
	TimeoutMS int `toml:"timeout_ms"`
	// RetryMax is the number of retries within one interval.
	RetryMax int `toml:"retry_max"`
	// Schedule is a cron expression limiting how often URL is pinged.
	// Empty pings on every interval.
	Schedule string `toml:"schedule"`
}

// ShutdownConfig holds extra shutdown triggers.
type ShutdownConfig struct {
	// StopFile is a glob matched against names in the data directory.
	// Creating a matching file stops the service. Empty disables it.
	StopFile string `toml:"stop_file"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen is the host:port serving /metrics. Empty disables it.
	Listen string `toml:"listen"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Log: LogConfig{
			Level:      "warn",
			File:       false,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Loop: LoopConfig{
			PollIntervalMS: 1000,
		},
		Heartbeat: HeartbeatConfig{
			Message: "Hello!",
		},
		Shutdown: ShutdownConfig{
			StopFile: paths.StopFile,
		},
	}
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and validates the configuration file at path. A missing file
// yields DefaultConfig.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Parse decodes TOML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "key", key.String())
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	return cfg, nil
}

// read returns the decoded file at path, or DefaultConfig when it is missing.
func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return decode(data)
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Version > CurrentVersion {
		return fmt.Errorf("config version %d is newer than supported version %d", c.Version, CurrentVersion)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be >= 0, got %d", c.Log.MaxBackups)
	}

	if c.Loop.PollIntervalMS <= 0 {
		return fmt.Errorf("loop.poll_interval_ms must be > 0, got %d", c.Loop.PollIntervalMS)
	}

	if c.Heartbeat.TimeoutMS < 0 {
		return fmt.Errorf("heartbeat.timeout_ms must be >= 0, got %d", c.Heartbeat.TimeoutMS)
	}
	if c.Heartbeat.RetryMax < 0 {
		return fmt.Errorf("heartbeat.retry_max must be >= 0, got %d", c.Heartbeat.RetryMax)
	}
	if c.Heartbeat.URL != "" {
		u, err := url.Parse(c.Heartbeat.URL)
		if err != nil {
			return fmt.Errorf("invalid heartbeat.url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid heartbeat.url %q: must be an absolute http or https URL", c.Heartbeat.URL)
		}
	}

	if c.Heartbeat.Schedule != "" {
		if _, err := heartbeat.ParseSchedule(c.Heartbeat.Schedule); err != nil {
			return fmt.Errorf("invalid heartbeat.schedule: %w", err)
		}
	}

	if c.Shutdown.StopFile != "" {
		if !doublestar.ValidatePattern(c.Shutdown.StopFile) {
			return fmt.Errorf("invalid shutdown.stop_file %q: malformed glob", c.Shutdown.StopFile)
		}
		// Matching files are deleted when they appear.
		for _, name := range paths.ReservedExamples() {
			if ok, _ := doublestar.Match(c.Shutdown.StopFile, name); ok {
				return fmt.Errorf("invalid shutdown.stop_file %q: matches %s in the data directory", c.Shutdown.StopFile, name)
			}
		}
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}

	return nil
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

// PollInterval returns loop.poll_interval_ms as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Loop.PollIntervalMS) * time.Millisecond
}

// HeartbeatTimeout returns the per-ping timeout, defaulting to the poll
// interval.
func (c *Config) HeartbeatTimeout() time.Duration {
	if c.Heartbeat.TimeoutMS == 0 {
		return c.PollInterval()
	}
	return time.Duration(c.Heartbeat.TimeoutMS) * time.Millisecond
}
