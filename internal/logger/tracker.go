package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// ///////////////////////////////////////////////
// Error Tracking
// ///////////////////////////////////////////////

// Tracker is a slog.Handler that remembers whether any record at
// [LevelError] or above passed through it, then forwards the record to the
// wrapped handler. Records at error severity are tracked even when the wrapped
// handler filters them out, so "--log-level none" still fails a run that
// logged an error.
//
// Handlers derived through WithAttrs and WithGroup share the same flag.
type Tracker struct {
	next   slog.Handler
	logged *atomic.Bool
}

// NewTracker wraps next.
func NewTracker(next slog.Handler) *Tracker {
	return &Tracker{next: next, logged: new(atomic.Bool)}
}

// ErrorLogged reports whether a record at error severity or above has been
// handled since the tracker was created.
func (t *Tracker) ErrorLogged() bool {
	return t.logged.Load()
}

// Enabled always accepts error-level records so they can be tracked.
func (t *Tracker) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= LevelError || t.next.Enabled(ctx, level)
}

// Handle records error-level records and forwards anything the wrapped
// handler accepts.
func (t *Tracker) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= LevelError {
		t.logged.Store(true)
	}
	if !t.next.Enabled(ctx, r.Level) {
		return nil
	}
	return t.next.Handle(ctx, r)
}

// WithAttrs returns a Tracker sharing this tracker's flag.
func (t *Tracker) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Tracker{next: t.next.WithAttrs(attrs), logged: t.logged}
}

// WithGroup returns a Tracker sharing this tracker's flag.
func (t *Tracker) WithGroup(name string) slog.Handler {
	return &Tracker{next: t.next.WithGroup(name), logged: t.logged}
}
