// Package driver provides embedded assets for the driver service.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML], which cmd/driver copies into the data directory on
// first run.
package driver

import _ "embed"

// DefaultConfigTOML holds config.default.toml, generated by cmd/genconfig.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
