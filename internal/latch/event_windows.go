// Native kernel-event latch for Windows.
//
// This file is compiled only on Windows. [Event] wraps a manual-reset,
// initially non-signaled event object created with CreateEvent, so the latch
// can be set from a console control handler running on a system thread and
// waited on with WaitForSingleObject.

//go:build windows

package latch

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

// Event is a [Latch] equivalent backed by a Win32 event object.
type Event struct {
	// mu lets Set run on the console handler thread while Close runs on
	// another: Close waits for in-flight Set and Wait calls, and later calls
	// see a zero handle instead of a recycled one.
	mu sync.RWMutex
	h  windows.Handle
}

// NewEvent creates an unset manual-reset event.
func NewEvent() (*Event, error) {
	h, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &Event{h: h}, nil
}

// Set signals the event. SetEvent is safe to call from any thread; failures
// are ignored because there is nothing a control handler could do about them.
func (e *Event) Set() {
	if e == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.h == 0 {
		return
	}
	_ = windows.SetEvent(e.h)
}

// Wait blocks on the event for up to timeout.
func (e *Event) Wait(timeout time.Duration) Result {
	if e == nil {
		return Failure(CodeInvalidHandle)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.h == 0 {
		return Failure(CodeInvalidHandle)
	}
	if timeout < 0 {
		return Failure(CodeInvalidParameter)
	}
	ms := timeout.Milliseconds()
	if ms >= math.MaxUint32 {
		ms = math.MaxUint32 - 1 // INFINITE is reserved
	}

	ev, err := windows.WaitForSingleObject(e.h, uint32(ms))
	switch ev {
	case windows.WAIT_OBJECT_0:
		return Signal()
	case uint32(windows.WAIT_TIMEOUT):
		return Timeout()
	}
	var errno windows.Errno
	if errors.As(err, &errno) {
		return Failure(uint32(errno))
	}
	return Failure(ev)
}

// Close releases the event handle. Later waits fail with [CodeInvalidHandle].
func (e *Event) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.h == 0 {
		return nil
	}
	h := e.h
	e.h = 0
	return windows.CloseHandle(h)
}
