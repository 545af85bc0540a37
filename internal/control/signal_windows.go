// Windows signal mapping.
//
// This file is compiled only on Windows, where os/signal only reports
// os.Interrupt. Close and shutdown events come from [ConsoleSource] instead.

//go:build windows

package control

import "os"

// DefaultSignals returns the signals a [SignalSource] listens for and the
// event each one maps to. The driver command uses [ConsoleSource] on Windows;
// this mapping only serves callers that build a SignalSource themselves.
func DefaultSignals() map[os.Signal]Event {
	return map[os.Signal]Event{
		os.Interrupt: InterruptRequested,
	}
}
