// Package latch provides the set-once shutdown flag shared between the
// asynchronous control handler (writer) and the service loop (reader).
//
// A latch starts unset, may be set any number of times from any goroutine
// or OS callback, and never resets. Waiting is always bounded by a timeout so
// the reader stays responsive without a second communication channel.
package latch

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ///////////////////////////////////////////////
// Wait Results
// ///////////////////////////////////////////////

// Status is the kind of result a bounded wait produced.
type Status int

const (
	// TimedOut means the timeout elapsed without the latch being set.
	TimedOut Status = iota
	// Signaled means the latch is set.
	Signaled
	// Failed means the wait primitive itself failed; see [Result.Code].
	Failed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case TimedOut:
		return "timed_out"
	case Signaled:
		return "signaled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Error codes reported by the portable latch. The values match the Win32
// error codes the native event variant reports for the same conditions, so
// logs read the same on every platform.
const (
	CodeInvalidHandle    uint32 = 6  // ERROR_INVALID_HANDLE
	CodeInvalidParameter uint32 = 87 // ERROR_INVALID_PARAMETER
)

// Result is the outcome of a single [Latch.Wait] call.
type Result struct {
	Status Status
	// Code is the numeric error code when Status is Failed, zero otherwise.
	Code uint32
}

// Timeout, Signal and Failure are convenience constructors, mainly for tests
// and alternative wait primitives.
func Timeout() Result            { return Result{Status: TimedOut} }
func Signal() Result             { return Result{Status: Signaled} }
func Failure(code uint32) Result { return Result{Status: Failed, Code: code} }

// Err returns a [*WaitError] when the result is Failed, nil otherwise.
func (r Result) Err() error {
	if r.Status != Failed {
		return nil
	}
	return &WaitError{Code: r.Code}
}

// String renders the result for log output.
func (r Result) String() string {
	if r.Status == Failed {
		return fmt.Sprintf("failed(%d)", r.Code)
	}
	return r.Status.String()
}

// WaitError reports that the underlying wait primitive failed.
type WaitError struct {
	Code uint32
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("wait failed with error %d", e.Code)
}

// ///////////////////////////////////////////////
// Latch
// ///////////////////////////////////////////////

// Latch is the portable set-once flag. The zero value is not usable; create
// latches with [New].
type Latch struct {
	set    atomic.Bool
	closed atomic.Bool
	done   chan struct{}
}

// New returns an unset latch.
func New() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Set marks the latch as set and wakes every waiter. It never blocks,
// allocates, or performs I/O, so it may be called from signal delivery
// goroutines and OS callbacks. Calling Set on an already-set latch is a no-op.
func (l *Latch) Set() {
	if l == nil {
		return
	}
	if l.set.CompareAndSwap(false, true) {
		close(l.done)
	}
}

// IsSet reports whether [Latch.Set] has been called.
func (l *Latch) IsSet() bool {
	return l != nil && l.set.Load()
}

// Done returns a channel that is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Wait blocks for up to timeout and reports whether the latch was set.
// A set latch always wins over an elapsed timeout. Waiting on a nil or closed
// latch fails with [CodeInvalidHandle]; a negative timeout fails with
// [CodeInvalidParameter].
func (l *Latch) Wait(timeout time.Duration) Result {
	if l == nil || l.closed.Load() {
		return Failure(CodeInvalidHandle)
	}
	if timeout < 0 {
		return Failure(CodeInvalidParameter)
	}
	if l.set.Load() {
		return Signal()
	}
	if timeout == 0 {
		return Timeout()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return Signal()
	case <-timer.C:
		if l.set.Load() {
			return Signal()
		}
		return Timeout()
	}
}

// Close destroys the latch. Subsequent waits fail; Set remains a safe no-op
// with respect to waiters.
func (l *Latch) Close() error {
	if l != nil {
		l.closed.Store(true)
	}
	return nil
}
