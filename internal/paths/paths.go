// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	ConfigFile = "config.toml"
	LogFile    = "driver.log"
	PIDFile    = "driver.pid"
	EnvFile    = ".env"
	// StopFile is the default stop-file glob, matched against names in the
	// data directory.
	StopFile = ".stop"
)

// Name shapes of files derived from the ones above: rotated log backups
// ("driver-<timestamp>.log", gzipped when compressed) and the temporary files
// atomicfile writes next to the config before renaming it into place.
const (
	logBackupTime = "2006-01-02T15-04-05.000"
	tempInfix     = ".tmp."
)

// Install layout.
const (
	BinaryName = "driver"
	DataDirRel = ".driver" // relative to $HOME
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Default returns the data directory under the user's home, or under the
// working directory when the home directory cannot be determined.
func Default() DataDir {
	home, err := os.UserHomeDir()
	if err != nil {
		return DataDir{Root: DataDirRel}
	}
	return DataDir{Root: filepath.Join(home, DataDirRel)}
}

// Ensure creates the data directory if it does not exist.
func (d DataDir) Ensure() error {
	return os.MkdirAll(d.Root, 0o755)
}

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Env returns the full path to the .env override file.
func (d DataDir) Env() string { return filepath.Join(d.Root, EnvFile) }

// ///////////////////////////////////////////////
// Reserved Names
// ///////////////////////////////////////////////

// Reserved reports whether name is a file driver itself keeps in the data
// directory. Stop-file triggers must never match these.
func Reserved(name string) bool {
	switch name {
	case ConfigFile, LogFile, PIDFile, EnvFile:
		return true
	}
	if strings.HasPrefix(name, ConfigFile+tempInfix) {
		return true
	}
	logBase := strings.TrimSuffix(LogFile, filepath.Ext(LogFile))
	logExt := filepath.Ext(LogFile)
	if strings.HasPrefix(name, logBase+"-") {
		rest := strings.TrimSuffix(name, ".gz")
		return strings.HasSuffix(rest, logExt)
	}
	return false
}

// ReservedExamples returns one concrete name for each kind of reserved file,
// for checking a glob against before it is used.
func ReservedExamples() []string {
	logBase := strings.TrimSuffix(LogFile, filepath.Ext(LogFile))
	backup := logBase + "-" + logBackupTime + filepath.Ext(LogFile)
	return []string{
		ConfigFile,
		LogFile,
		PIDFile,
		EnvFile,
		backup,
		backup + ".gz",
		ConfigFile + tempInfix + "123456789",
	}
}
