// Windows platform wiring.
//
// This file is compiled only on Windows. The console control handler covers
// Ctrl-C, console close and system shutdown, and takes precedence over the Go
// runtime's own handler. The latch is a manual-reset kernel event.

//go:build windows

package main

import (
	"log/slog"
	"os"

	"tools.zach/dev/driver/internal/control"
	"tools.zach/dev/driver/internal/latch"
)

func defaultPlatform() platform {
	return platform{
		lookupEnv: os.LookupEnv,
		newLatch: func() (shutdownLatch, error) {
			ev, err := latch.NewEvent()
			if err != nil {
				return nil, err
			}
			return ev, nil
		},
		newSource: func(log *slog.Logger) control.Source {
			return control.NewConsoleSource(log)
		},
	}
}
