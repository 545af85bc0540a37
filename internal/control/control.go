// Package control translates OS process-control events (interrupt, console
// close, system shutdown) into a set latch.
//
// A [Source] is the platform-specific registration mechanism: POSIX signals,
// the Windows console control handler, a stop file in the data directory, or
// a [Fake] in tests. Every source delivers the same tagged [Event] values to
// a [HandlerFunc], normally [Handler.Handle].
package control

import (
	"errors"
	"fmt"
	"log/slog"
)

// ///////////////////////////////////////////////
// Events
// ///////////////////////////////////////////////

// Event is a process-control notification kind.
type Event int

const (
	// Other is any event this package does not act on.
	Other Event = iota
	// InterruptRequested is Ctrl-C / SIGINT.
	InterruptRequested
	// CloseRequested is a console window close or terminal hangup.
	CloseRequested
	// ShutdownRequested is a system shutdown, service stop, or stop file.
	ShutdownRequested
)

// String returns the short lower-case event name used in log attributes.
func (e Event) String() string {
	switch e {
	case InterruptRequested:
		return "interrupt"
	case CloseRequested:
		return "close"
	case ShutdownRequested:
		return "shutdown"
	default:
		return "other"
	}
}

// HandlerFunc receives control events and reports whether the event was
// handled. Returning false lets the source fall back to the platform default
// or the next handler in the chain.
type HandlerFunc func(Event) bool

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// Setter is the write side of a shutdown latch.
type Setter interface {
	Set()
}

// Handler sets a latch for every shutdown-class event.
type Handler struct {
	latch Setter
	log   *slog.Logger
}

// NewHandler returns a Handler that sets l. A nil logger discards output.
func NewHandler(l Setter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{latch: l, log: log}
}

// Handle implements [HandlerFunc]. It is safe to call concurrently and any
// number of times.
func (h *Handler) Handle(ev Event) bool {
	switch ev {
	case InterruptRequested:
		h.log.Debug("received interrupt, shutting down", "event", ev)
	case CloseRequested:
		h.log.Debug("received close event, shutting down", "event", ev)
	case ShutdownRequested:
		h.log.Debug("received shutdown event, shutting down", "event", ev)
	default:
		return false
	}
	h.latch.Set()
	return true
}

// ///////////////////////////////////////////////
// Sources
// ///////////////////////////////////////////////

// Source delivers control events to a handler once registered.
type Source interface {
	// Register installs h. It may be called at most once per source.
	Register(h HandlerFunc) error
	// Close uninstalls the handler and stops delivery.
	Close() error
}

// ErrAlreadyRegistered is returned when a handler is already installed on a
// source.
var ErrAlreadyRegistered = errors.New("control handler already registered")

// RegistrationError reports that a source refused to install a handler.
type RegistrationError struct {
	Source string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s control handler: %v", e.Source, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Multi registers several sources as one. Events from every member reach the
// same handler, possibly from different goroutines.
type Multi []Source

// Register installs h on each source in order. If one fails, the sources
// already registered are closed again and the failure is returned.
func (m Multi) Register(h HandlerFunc) error {
	for i, s := range m {
		if err := s.Register(h); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m[j].Close()
			}
			return err
		}
	}
	return nil
}

// Close closes every source and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
