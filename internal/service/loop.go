// Package service runs the bounded-poll worker loop.
//
// A [Loop] alternates between waiting on a shutdown latch for one poll
// interval and, when the wait times out, performing one unit of work. The
// latch being set is the only clean way out; a failed wait stops the loop
// with an error. Work errors are logged and never stop the loop.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tools.zach/dev/driver/internal/latch"
	"tools.zach/dev/driver/internal/logger"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Waiter is the read side of a shutdown latch.
type Waiter interface {
	Wait(timeout time.Duration) latch.Result
}

// Worker performs one unit of periodic work. ctx expires after the loop's
// work timeout.
type Worker interface {
	Work(ctx context.Context) error
}

// WorkerFunc adapts a function to [Worker].
type WorkerFunc func(ctx context.Context) error

// Work calls f(ctx).
func (f WorkerFunc) Work(ctx context.Context) error { return f(ctx) }

// Observer receives loop measurements. *metrics.Recorder implements it.
type Observer interface {
	ObserveWork(d time.Duration, err error)
	ObserveState(state string)
}

// State is the loop lifecycle phase.
type State int32

const (
	Starting State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultInterval is the poll interval used when Config.Interval is zero.
const DefaultInterval = time.Second

// Config configures a [Loop].
type Config struct {
	// Interval is the longest the loop blocks before checking the latch
	// again. Zero means DefaultInterval.
	Interval time.Duration
	// WorkTimeout bounds one unit of work. Zero means Interval.
	WorkTimeout time.Duration
	// Logger receives work errors and state transitions. Nil discards.
	Logger *slog.Logger
	// Observer, when set, is told about every unit of work and state change.
	Observer Observer
}

// Outcome is the result of a finished run.
type Outcome struct {
	// Result is the wait result that ended the loop: Signaled or Failed.
	Result latch.Result
	// Works is the number of units of work performed.
	Works int
}

// Err returns the wait error that stopped the loop, or nil for a clean stop.
func (o Outcome) Err() error {
	return o.Result.Err()
}

// ///////////////////////////////////////////////
// Loop
// ///////////////////////////////////////////////

// Loop is a one-shot service loop.
type Loop struct {
	waiter Waiter
	worker Worker
	cfg    Config
	log    *slog.Logger

	state atomic.Int32
	// once makes Run one-shot; outcome is written inside it.
	once    sync.Once
	outcome Outcome
}

// New returns a loop in the Starting state.
func New(w Waiter, work Worker, cfg Config) (*Loop, error) {
	if w == nil {
		return nil, errors.New("service: nil waiter")
	}
	if work == nil {
		return nil, errors.New("service: nil worker")
	}
	if cfg.Interval < 0 || cfg.WorkTimeout < 0 {
		return nil, fmt.Errorf("service: negative interval %v or work timeout %v", cfg.Interval, cfg.WorkTimeout)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WorkTimeout == 0 {
		cfg.WorkTimeout = cfg.Interval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Loop{waiter: w, worker: work, cfg: cfg, log: log}, nil
}

// State returns the current lifecycle phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run drives the loop until the latch is signaled or a wait fails. It
// returns the Outcome and, for a failed wait, the *latch.WaitError.
//
// Run is one-shot: later calls return the first run's outcome immediately.
// ctx only scopes units of work; cancellation is requested through the
// latch.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	l.once.Do(func() {
		l.outcome = l.run(ctx)
	})
	return l.outcome, l.outcome.Err()
}

func (l *Loop) run(ctx context.Context) Outcome {
	l.setState(Running)

	var out Outcome
	for {
		res := l.waiter.Wait(l.cfg.Interval)
		if res.Status != latch.TimedOut {
			out.Result = res
			break
		}
		l.work(ctx)
		out.Works++
	}

	l.setState(Stopping)
	if err := out.Err(); err != nil {
		l.log.Error("wait failed", "code", out.Result.Code, "error", err)
	} else {
		l.log.Debug("shutdown signaled", "works", out.Works)
	}
	l.setState(Stopped)
	return out
}

func (l *Loop) work(ctx context.Context) {
	wctx, cancel := context.WithTimeout(ctx, l.cfg.WorkTimeout)
	defer cancel()
	start := time.Now()
	err := l.worker.Work(wctx)
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveWork(time.Since(start), err)
	}
	if err != nil {
		l.log.Error("work failed", "error", err)
	}
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveState(s.String())
	}
	logger.Trace(l.log, "service state", "state", s)
}
