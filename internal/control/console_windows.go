//go:build windows

package control

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetConsoleCtrlHandler = modkernel32.NewProc("SetConsoleCtrlHandler")
)

// ///////////////////////////////////////////////
// Console Source
// ///////////////////////////////////////////////

// ConsoleSource installs a Windows console control handler. The OS invokes it
// on a thread of its own; returning false passes the event to the next
// handler in the chain, which ends with the Go runtime and ExitProcess.
type ConsoleSource struct {
	log *slog.Logger

	mu sync.Mutex
	cb uintptr
}

// NewConsoleSource returns an unregistered console source.
func NewConsoleSource(log *slog.Logger) *ConsoleSource {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ConsoleSource{log: log}
}

// consoleEvent maps a CTRL_*_EVENT code. Logoff and break events are Other.
func consoleEvent(ctrlType uint32) Event {
	switch ctrlType {
	case windows.CTRL_C_EVENT:
		return InterruptRequested
	case windows.CTRL_CLOSE_EVENT:
		return CloseRequested
	case windows.CTRL_SHUTDOWN_EVENT:
		return ShutdownRequested
	default:
		return Other
	}
}

// Register calls SetConsoleCtrlHandler(h, TRUE).
func (s *ConsoleSource) Register(h HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb != 0 {
		return &RegistrationError{Source: "console", Err: ErrAlreadyRegistered}
	}
	if err := procSetConsoleCtrlHandler.Find(); err != nil {
		return &RegistrationError{Source: "console", Err: err}
	}

	cb := windows.NewCallback(func(ctrlType uintptr) uintptr {
		if h(consoleEvent(uint32(ctrlType))) {
			return 1
		}
		return 0
	})
	r, _, err := procSetConsoleCtrlHandler.Call(cb, 1)
	if r == 0 {
		return &RegistrationError{Source: "console", Err: err}
	}
	s.cb = cb
	return nil
}

// Close removes the handler again.
func (s *ConsoleSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == 0 {
		return nil
	}
	r, _, err := procSetConsoleCtrlHandler.Call(s.cb, 0)
	s.cb = 0
	if r == 0 {
		s.log.Debug("could not remove control handler", "error", err)
		return err
	}
	return nil
}
