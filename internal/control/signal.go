package control

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// ///////////////////////////////////////////////
// Signal Source
// ///////////////////////////////////////////////

// SignalSource delivers OS signals through os/signal. Signals are read by a
// single goroutine, so the handler never runs concurrently with itself for
// events from this source.
type SignalSource struct {
	events map[os.Signal]Event
	log    *slog.Logger

	mu   sync.Mutex
	ch   chan os.Signal
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSignalSource returns a source for the platform's shutdown signals (see
// [DefaultSignals]).
func NewSignalSource(log *slog.Logger) *SignalSource {
	return NewSignalSourceFor(DefaultSignals(), log)
}

// NewSignalSourceFor returns a source listening for exactly the signals in
// events.
func NewSignalSourceFor(events map[os.Signal]Event, log *slog.Logger) *SignalSource {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &SignalSource{events: events, log: log}
}

// Register starts signal delivery to h.
func (s *SignalSource) Register(h HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		return &RegistrationError{Source: "signal", Err: ErrAlreadyRegistered}
	}

	// Buffered so a signal arriving while the handler runs is not dropped.
	s.ch = make(chan os.Signal, 1)
	s.done = make(chan struct{})

	sigs := make([]os.Signal, 0, len(s.events))
	for sig := range s.events {
		sigs = append(sigs, sig)
	}
	signal.Notify(s.ch, sigs...)

	s.wg.Add(1)
	go s.deliver(h)
	return nil
}

func (s *SignalSource) deliver(h HandlerFunc) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.ch:
			ev, ok := s.events[sig]
			if !ok {
				ev = Other
			}
			if !h(ev) {
				// Give the signal its default disposition back for next time.
				s.log.Debug("signal not handled, restoring default", "signal", sig.String())
				signal.Reset(sig)
			}
		}
	}
}

// Close stops delivery. It is safe to call on an unregistered source and
// more than once.
func (s *SignalSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil || s.done == nil {
		return nil
	}
	signal.Stop(s.ch)
	close(s.done)
	s.done = nil
	s.wg.Wait()
	return nil
}
