package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ///////////////////////////////////////////////
// Environment Overrides
// ///////////////////////////////////////////////

// LookupFunc reports the value of an environment variable. os.LookupEnv has
// this signature.
type LookupFunc func(key string) (string, bool)

// envVar binds one environment variable to a config key.
type envVar struct {
	name  string
	key   string
	apply func(c *Config, v string) error
}

func envInt(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func envString(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func envBool(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

// envVars lists every supported override, in the order they are applied.
var envVars = []envVar{
	{"DRIVER_LOG_LEVEL", "log.level", envString(func(c *Config) *string { return &c.Log.Level })},
	{"DRIVER_LOG_FILE", "log.file", envBool(func(c *Config) *bool { return &c.Log.File })},
	{"DRIVER_LOOP_POLL_INTERVAL_MS", "loop.poll_interval_ms", envInt(func(c *Config) *int { return &c.Loop.PollIntervalMS })},
	{"DRIVER_HEARTBEAT_MESSAGE", "heartbeat.message", envString(func(c *Config) *string { return &c.Heartbeat.Message })},
	{"DRIVER_HEARTBEAT_URL", "heartbeat.url", envString(func(c *Config) *string { return &c.Heartbeat.URL })},
	{"DRIVER_HEARTBEAT_SCHEDULE", "heartbeat.schedule", envString(func(c *Config) *string { return &c.Heartbeat.Schedule })},
	{"DRIVER_SHUTDOWN_STOP_FILE", "shutdown.stop_file", envString(func(c *Config) *string { return &c.Shutdown.StopFile })},
	{"DRIVER_METRICS_LISTEN", "metrics.listen", envString(func(c *Config) *string { return &c.Metrics.Listen })},
}

// EnvNames returns the supported environment variable names.
func EnvNames() []string {
	names := make([]string, len(envVars))
	for i, v := range envVars {
		names[i] = v.name
	}
	return names
}

// ApplyEnv overrides fields of c from the variables lookup reports. It does
// not validate the result.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%s (%s): %w", ev.name, ev.key, err)
		}
	}
	return nil
}

// ReadDotEnv parses a .env file. A missing file yields an empty map.
func ReadDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

// Layered returns a LookupFunc that consults each function in order and
// returns the first hit.
func Layered(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(key); ok {
				return v, true
			}
		}
		return "", false
	}
}

// MapLookup adapts a map to LookupFunc.
func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// LoadEnv reads the config file at path, applies environment overrides from
// lookup, and validates the result.
func LoadEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
