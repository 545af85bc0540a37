// POSIX platform wiring.
//
// This file is compiled on all non-Windows platforms. Shutdown requests
// arrive as SIGINT, SIGHUP or SIGTERM; the latch is the portable channel
// implementation.

//go:build !windows

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
			return latch.New(), nil
		},
		newSource: func(log *slog.Logger) control.Source {
			return control.NewSignalSource(log)
		},
	}
}
