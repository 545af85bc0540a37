package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
type FieldDoc struct {
	// Comment is shown as a header comment above the field.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps dot-separated TOML key paths to their [FieldDoc]. [Render]
// uses it to annotate config.default.toml.
var ConfigDocs = map[string]FieldDoc{
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	"log.level": {
		Comment:      "Minimum level written: none, trace, debug, info, warn, error, fatal.\nThe --log-level flag overrides this.",
		Alternatives: []string{`level = "debug"`, `level = "none"`},
	},
	"log.file": {
		Comment: "Also write logs to driver.log in the data directory.",
	},
	"log.max_size_mb": {
		Comment: "Rotate driver.log at this size.",
	},
	"log.max_backups": {},

	"loop.poll_interval_ms": {
		Comment: "Longest wait between units of work, in milliseconds.\nShutdown is noticed within one interval.",
	},

	"heartbeat.message": {
		Comment:      "Line printed once per interval. Empty disables it.",
		Alternatives: []string{`message = ""`},
	},
	"heartbeat.url": {
		Comment:      "Optional endpoint pinged (GET) once per interval. Non-2xx responses are logged as errors.",
		Alternatives: []string{`url = "https://hc-ping.com/your-uuid"`},
	},
	"heartbeat.timeout_ms": {
		Comment: "Per-ping timeout. 0 uses the poll interval.",
	},
	"heartbeat.retry_max": {
		Comment: "Retries within one interval when the endpoint fails.",
	},
	"heartbeat.schedule": {
		Comment:      "Cron expression (five fields or a descriptor) limiting how often url is pinged.\nEmpty pings on every interval.",
		Alternatives: []string{`schedule = "*/5 * * * *"`, `schedule = "@every 1m"`},
	},

	"shutdown.stop_file": {
		Comment:      "Creating a file matching this glob in the data directory stops the service.\nThe file is removed when noticed. Empty disables it.",
		Alternatives: []string{`stop_file = "{stop,halt}*"`, `stop_file = ""`},
	},

	"metrics.listen": {
		Comment:      "Address serving Prometheus metrics on /metrics. Empty disables it.",
		Alternatives: []string{`listen = "127.0.0.1:9464"`},
	},
}

// ///////////////////////////////////////////////
// Rendering
// ///////////////////////////////////////////////

// Render encodes cfg as TOML annotated with [ConfigDocs] comments, section
// banners, and commented-out alternatives.
func Render(cfg *Config) ([]byte, error) {
	var raw bytes.Buffer
	if err := toml.NewEncoder(&raw).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	out := []string{
		"# ///////////////////////////////////////////////",
		"# driver configuration",
		"# ///////////////////////////////////////////////",
		"",
	}
	var section []string
	emitted := map[string]bool{}

	for _, line := range strings.Split(raw.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "[[") {
			out = appendOmitted(out, section, emitted)
			name := strings.Trim(trimmed, "[] ")
			section = strings.Split(name, ".")
			out = append(out, "", "# ///// "+sectionTitle(name)+" /////", "")
			out = appendComment(out, ConfigDocs[name].Comment)
			out = append(out, trimmed)
			continue
		}

		key, _, ok := strings.Cut(trimmed, "=")
		if !ok || strings.HasPrefix(trimmed, "#") {
			out = append(out, trimmed)
			continue
		}
		path := strings.TrimSpace(key)
		if len(section) > 0 {
			path = strings.Join(section, ".") + "." + path
		}
		emitted[path] = true

		doc := ConfigDocs[path]
		out = appendComment(out, doc.Comment)
		out = append(out, trimmed)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
	}
	out = appendOmitted(out, section, emitted)

	return []byte(strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"), nil
}

func appendComment(out []string, comment string) []string {
	if comment == "" {
		return out
	}
	for _, cl := range strings.Split(comment, "\n") {
		out = append(out, "# "+cl)
	}
	return out
}

// appendOmitted adds commented-out docs for keys of the current section that
// the encoder skipped.
func appendOmitted(out []string, section []string, emitted map[string]bool) []string {
	if len(section) == 0 {
		return out
	}
	prefix := strings.Join(section, ".") + "."

	var omitted []string
	for path := range ConfigDocs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, ".") || emitted[path] {
			continue
		}
		omitted = append(omitted, path)
	}
	sort.Strings(omitted)

	for _, path := range omitted {
		doc := ConfigDocs[path]
		out = append(out, "")
		out = appendComment(out, doc.Comment)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
		emitted[path] = true
	}
	return out
}

// sectionTitle capitalizes the last dotted segment: "heartbeat" -> "Heartbeat".
func sectionTitle(section string) string {
	parts := strings.Split(section, ".")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
