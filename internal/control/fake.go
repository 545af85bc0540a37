package control

import "sync"

// Fake is a [Source] for tests. Events are injected with [Fake.Deliver].
type Fake struct {
	// RegisterErr, when set, makes Register fail with a *RegistrationError
	// wrapping it.
	RegisterErr error

	mu     sync.Mutex
	h      HandlerFunc
	closed bool
}

// Register records h.
func (f *Fake) Register(h HandlerFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegisterErr != nil {
		return &RegistrationError{Source: "fake", Err: f.RegisterErr}
	}
	if f.h != nil {
		return &RegistrationError{Source: "fake", Err: ErrAlreadyRegistered}
	}
	f.h = h
	return nil
}

// Deliver invokes the registered handler synchronously and returns its
// answer. It returns false when nothing is registered or after Close.
func (f *Fake) Deliver(ev Event) bool {
	f.mu.Lock()
	h := f.h
	closed := f.closed
	f.mu.Unlock()
	if h == nil || closed {
		return false
	}
	return h(ev)
}

// Registered reports whether a handler is installed and not closed.
func (f *Fake) Registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h != nil && !f.closed
}

// Close uninstalls the handler.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
