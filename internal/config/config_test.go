// Tests for the config package covering [Load] and [Parse] behavior (defaults,
// overrides, missing files, malformed input), validation ([Config.Validate]),
// serialization round-trips ([Config.Save]), [Render] output, and
// [ConfigDocs] completeness.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		noFile  bool
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "defaults from minimal config",
			config: "version = 1\n",
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if !reflect.DeepEqual(cfg, DefaultConfig()) {
					t.Errorf("cfg = %+v, want defaults", cfg)
				}
			},
		},
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if !reflect.DeepEqual(cfg, DefaultConfig()) {
					t.Errorf("cfg = %+v, want defaults", cfg)
				}
			},
		},
		{
			name: "partial override preserves other defaults",
			config: `
[loop]
poll_interval_ms = 250

[heartbeat]
message = "tick"
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Loop.PollIntervalMS != 250 {
					t.Errorf("PollIntervalMS = %d, want 250", cfg.Loop.PollIntervalMS)
				}
				if cfg.Heartbeat.Message != "tick" {
					t.Errorf("Message = %q, want tick", cfg.Heartbeat.Message)
				}
				if cfg.Log.Level != "warn" {
					t.Errorf("Level = %q, want default warn", cfg.Log.Level)
				}
				if cfg.Version != CurrentVersion {
					t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
				}
			},
		},
		{
			name:   "empty heartbeat message disables console heartbeat",
			config: "[heartbeat]\nmessage = \"\"\n",
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Heartbeat.Message != "" {
					t.Errorf("Message = %q, want empty", cfg.Heartbeat.Message)
				}
			},
		},
		{
			name:    "malformed TOML returns error",
			config:  "this is not valid toml [[[",
			wantErr: true,
		},
		{
			name:    "invalid value returns error",
			config:  "[loop]\npoll_interval_ms = 0\n",
			wantErr: true,
		},
		{
			name:    "newer schema version rejected",
			config:  "version = 2\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if !tt.noFile {
				if err := os.WriteFile(path, []byte(tt.config), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_Unreadable(t *testing.T) {
	// A directory where the file should be is a read error, not "missing".
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Error("Load(directory) succeeded")
	}
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"level none", func(c *Config) { c.Log.Level = "none" }, ""},
		{"level mixed case", func(c *Config) { c.Log.Level = "DEBUG" }, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"zero max size", func(c *Config) { c.Log.MaxSizeMB = 0 }, "max_size_mb"},
		{"negative backups", func(c *Config) { c.Log.MaxBackups = -1 }, "max_backups"},
		{"zero interval", func(c *Config) { c.Loop.PollIntervalMS = 0 }, "poll_interval_ms"},
		{"negative interval", func(c *Config) { c.Loop.PollIntervalMS = -5 }, "poll_interval_ms"},
		{"negative timeout", func(c *Config) { c.Heartbeat.TimeoutMS = -1 }, "timeout_ms"},
		{"negative retries", func(c *Config) { c.Heartbeat.RetryMax = -1 }, "retry_max"},
		{"https url", func(c *Config) { c.Heartbeat.URL = "https://example.com/ping" }, ""},
		{"relative url", func(c *Config) { c.Heartbeat.URL = "/ping" }, "heartbeat.url"},
		{"ftp url", func(c *Config) { c.Heartbeat.URL = "ftp://example.com" }, "heartbeat.url"},
		{"unparsable url", func(c *Config) { c.Heartbeat.URL = "http://[::1" }, "heartbeat.url"},
		{"glob stop file", func(c *Config) { c.Shutdown.StopFile = "{stop,halt}*" }, ""},
		{"disabled stop file", func(c *Config) { c.Shutdown.StopFile = "" }, ""},
		{"malformed glob", func(c *Config) { c.Shutdown.StopFile = "[stop" }, "stop_file"},
		{"stop file matches everything", func(c *Config) { c.Shutdown.StopFile = "*" }, "stop_file"},
		{"stop file matches config", func(c *Config) { c.Shutdown.StopFile = "*.toml" }, "stop_file"},
		{"stop file matches pid and log", func(c *Config) { c.Shutdown.StopFile = "driver.*" }, "stop_file"},
		{"stop file matches env", func(c *Config) { c.Shutdown.StopFile = ".e*" }, "stop_file"},
		{"stop file matches log backups", func(c *Config) { c.Shutdown.StopFile = "driver-*" }, "stop_file"},
		{"stop file matches config temp", func(c *Config) { c.Shutdown.StopFile = "*.tmp.*" }, "stop_file"},
		{"stop file dotted", func(c *Config) { c.Shutdown.StopFile = ".st*" }, ""},
		{"future version", func(c *Config) { c.Version = CurrentVersion + 1 }, "version"},
		{"cron schedule", func(c *Config) { c.Heartbeat.Schedule = "*/5 * * * *" }, ""},
		{"every schedule", func(c *Config) { c.Heartbeat.Schedule = "@every 90s" }, ""},
		{"bad schedule", func(c *Config) { c.Heartbeat.Schedule = "every tuesday" }, "heartbeat.schedule"},
		{"metrics listen", func(c *Config) { c.Metrics.Listen = "127.0.0.1:9464" }, ""},
		{"metrics any host", func(c *Config) { c.Metrics.Listen = ":9464" }, ""},
		{"metrics no port", func(c *Config) { c.Metrics.Listen = "localhost" }, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.PollInterval(); got != time.Second {
		t.Errorf("PollInterval = %v, want 1s", got)
	}
	if got := cfg.HeartbeatTimeout(); got != time.Second {
		t.Errorf("HeartbeatTimeout = %v, want poll interval", got)
	}
	cfg.Heartbeat.TimeoutMS = 300
	if got := cfg.HeartbeatTimeout(); got != 300*time.Millisecond {
		t.Errorf("HeartbeatTimeout = %v, want 300ms", got)
	}
}

// ///////////////////////////////////////////////
// Save
// ///////////////////////////////////////////////

func TestConfig_Save_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	cfg.Log.File = true
	cfg.Heartbeat.URL = "http://localhost:8080/ping"
	cfg.Heartbeat.RetryMax = 2

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

// ///////////////////////////////////////////////
// Render
// ///////////////////////////////////////////////

func TestRender(t *testing.T) {
	data, err := Render(DefaultConfig())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"# ///// Log /////",
		"# ///// Heartbeat /////",
		"# Config schema version. Do not edit.\nversion = 1",
		"level = \"warn\"\n# level = \"debug\"",
		"stop_file = \".stop\"",
		"# ///// Metrics /////",
		"# schedule = \"@every 1m\"",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered config missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "  level") {
		t.Error("rendered config keeps encoder indentation")
	}
	if !strings.HasSuffix(out, "\n") || strings.HasSuffix(out, "\n\n") {
		t.Error("rendered config should end with exactly one newline")
	}

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("rendered config does not parse: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("rendered config = %+v, want defaults", cfg)
	}
}

func TestRender_SectionOrder(t *testing.T) {
	data, err := Render(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	order := []string{"version", "[log]", "[loop]", "[heartbeat]", "[shutdown]", "[metrics]"}
	last := -1
	for _, s := range order {
		i := strings.Index(out, s)
		if i < 0 || i < last {
			t.Errorf("%q out of order in rendered config", s)
		}
		last = i
	}
}

func TestAppendOmitted(t *testing.T) {
	emitted := map[string]bool{"heartbeat.message": true, "heartbeat.url": true, "heartbeat.timeout_ms": true, "heartbeat.schedule": true}
	out := appendOmitted(nil, []string{"heartbeat"}, emitted)
	got := strings.Join(out, "\n")
	if !strings.Contains(got, "# Retries within one interval") {
		t.Errorf("omitted key not documented:\n%s", got)
	}
	if strings.Contains(got, "Line printed") {
		t.Errorf("emitted key documented twice:\n%s", got)
	}
	if len(appendOmitted(nil, nil, emitted)) != 0 {
		t.Error("appendOmitted without a section should be a no-op")
	}
}

func TestSectionTitle(t *testing.T) {
	tests := map[string]string{"log": "Log", "a.heartbeat": "Heartbeat", "": ""}
	for in, want := range tests {
		if got := sectionTitle(in); got != want {
			t.Errorf("sectionTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

// ///////////////////////////////////////////////
// ConfigDocs
// ///////////////////////////////////////////////

func TestConfigDocsComplete(t *testing.T) {
	fields := collectTOMLFields(reflect.TypeOf(Config{}), "")
	for _, field := range fields {
		if _, ok := ConfigDocs[field]; !ok {
			t.Errorf("ConfigDocs missing entry for field %q", field)
		}
	}
	known := map[string]bool{}
	for _, f := range fields {
		known[f] = true
	}
	for key := range ConfigDocs {
		if !known[key] {
			t.Errorf("ConfigDocs documents unknown field %q", key)
		}
	}
}

// collectTOMLFields recursively walks a struct type and returns the
// dot-separated TOML key path for every tagged field.
func collectTOMLFields(typ reflect.Type, prefix string) []string {
	var fields []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("toml")
		if tag == "" || tag == "-" {
			continue
		}
		if idx := strings.Index(tag, ","); idx != -1 {
			tag = tag[:idx]
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			fields = append(fields, collectTOMLFields(f.Type, path)...)
		} else {
			fields = append(fields, path)
		}
	}
	return fields
}
