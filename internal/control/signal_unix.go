// POSIX signal mapping.
//
// This file is compiled on all non-Windows platforms. SIGTERM is the
// conventional stop request from process managers (systemd, launchd) and
// container runtimes; SIGHUP is sent when the controlling terminal closes.

//go:build !windows

package control

import (
	"os"

	"golang.org/x/sys/unix"
)

// DefaultSignals returns the signals a [SignalSource] listens for and the
// event each one maps to.
func DefaultSignals() map[os.Signal]Event {
	return map[os.Signal]Event{
		unix.SIGINT:  InterruptRequested,
		unix.SIGHUP:  CloseRequested,
		unix.SIGTERM: ShutdownRequested,
	}
}
