// Package main implements driver, a minimal long-running service that prints a
// heartbeat every poll interval until it is interrupted, its console is
// closed, the system shuts down, or a stop file appears in its data
// directory. The service subcommand installs and runs it under the OS
// service manager.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"tools.zach/dev/driver/internal/exitcode"
	"tools.zach/dev/driver/internal/logger"
	"tools.zach/dev/driver/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state produce a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Command Line
// ///////////////////////////////////////////////

// newRootCmd builds the command. The exit status of a service run is stored
// in *code, so any error Execute returns is a command-line error.
func newRootCmd(stdout, stderr io.Writer, plat platform, code *int) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           paths.BinaryName,
		Short:         "Run the driver service until interrupted",
		Version:       resolveVersion(),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.resolve(cmd); err != nil {
				return err
			}
			*code = run(opts, stdout, stderr, plat)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.CompletionOptions.DisableDefaultCmd = true

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.logLevel, "log-level", "l", "warn",
		"minimum log level: none, trace, debug, info, warn, error, fatal")
	f.StringVar(&opts.dataDir, "data-dir", paths.Default().Root,
		"data directory for config, logs, PID and stop files")

	cmd.AddCommand(newServiceCmd(&opts, stdout, stderr, plat, code))
	return cmd
}

// resolve parses the level flag. The level only overrides the config when
// it was given on the command line.
func (o *options) resolve(cmd *cobra.Command) error {
	level, err := logger.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	o.level = level
	o.levelSet = cmd.Flags().Changed("log-level")
	return nil
}

// execute runs the command line and returns the process exit status.
func execute(args []string, stdout, stderr io.Writer, plat platform) int {
	code := exitcode.Success
	cmd := newRootCmd(stdout, stderr, plat, &code)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		// The error goes to stderr, the usage that follows to stdout.
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprint(stdout, cmd.UsageString())
		return exitcode.Failure
	}
	return code
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr, defaultPlatform()))
}
