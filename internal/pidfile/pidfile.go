// Package pidfile enforces a single running instance per data directory.
//
// The PID file holds "PID:TOKEN". The open handle carries an exclusive
// advisory lock for the life of the process, so a crashed instance never
// blocks the next start: the OS drops the lock with the process. The random
// token lets [Lock.Release] remove the file only if this instance wrote it.
package pidfile

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrLocked is returned by [Acquire] when another process holds the lock.
var ErrLocked = errors.New("another instance is running")

// LockedError reports the PID recorded by the running instance, if readable.
type LockedError struct {
	Path string
	PID  int
	Err  error
}

func (e *LockedError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: %v (pid %d)", e.Path, ErrLocked, e.PID)
	}
	return fmt.Sprintf("%s: %v", e.Path, ErrLocked)
}

// Is makes errors.Is(err, ErrLocked) match.
func (e *LockedError) Is(target error) bool { return target == ErrLocked }

func (e *LockedError) Unwrap() error { return e.Err }

// Lock is a held PID file.
type Lock struct {
	path  string
	token string
	f     *os.File
}

// acquireAttempts bounds how often Acquire reopens a PID file that was
// replaced or removed between its open and its lock.
const acquireAttempts = 5

// errStale means the locked handle no longer names the file at path.
var errStale = errors.New("PID file replaced while locking")

// Acquire opens path, takes a non-blocking exclusive lock, and writes the
// current PID with a fresh token. The returned Lock must be released on
// shutdown.
func Acquire(path string) (*Lock, error) {
	for attempt := 1; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open PID file: %w", err)
		}
		l, err := acquireOpened(path, f)
		if errors.Is(err, errStale) && attempt < acquireAttempts {
			continue
		}
		return l, err
	}
}

// acquireOpened locks f, which was opened from path, and writes the PID. A
// previous holder may have removed path between the open and the lock; the
// lock on the old file then guards nothing, so errStale is returned. f is
// closed on any error.
func acquireOpened(path string, f *os.File) (*Lock, error) {
	if err := lockFile(f); err != nil {
		f.Close()
		pid, _ := readPID(path)
		return nil, &LockedError{Path: path, PID: pid, Err: err}
	}
	fail := func(err error) (*Lock, error) {
		_ = unlockFile(f)
		f.Close()
		return nil, err
	}

	held, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat PID file: %w", err))
	}
	cur, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !os.SameFile(held, cur)) {
		return fail(errStale)
	}
	if err != nil {
		return fail(fmt.Errorf("stat PID file: %w", err))
	}

	token := newToken()
	if err := f.Truncate(0); err != nil {
		return fail(fmt.Errorf("truncate PID file: %w", err))
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+":"+token), 0); err != nil {
		return fail(fmt.Errorf("write PID file: %w", err))
	}
	return &Lock{path: path, token: token, f: f}, nil
}

// Path returns the PID file path.
func (l *Lock) Path() string { return l.path }

// Release removes the file if it still carries this instance's token, then
// unlocks and closes it. It is safe to call on a nil Lock and more than once.
//
// Where the platform allows it the file is removed while still locked, so an
// instance that opened it in the meantime finds its handle stale instead of
// sharing the lock with a later one.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	buf := make([]byte, 64)
	n, readErr := l.f.ReadAt(buf, 0)
	if errors.Is(readErr, io.EOF) {
		readErr = nil
	}
	own := false
	if readErr == nil {
		_, token, ok := strings.Cut(string(buf[:n]), ":")
		own = ok && token == l.token
	}

	var removeErr error
	if own && removeWhileLocked {
		removeErr = removeFile(l.path)
	}
	_ = unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if own && !removeWhileLocked {
		removeErr = removeFile(l.path)
	}

	if removeErr != nil {
		return removeErr
	}
	if closeErr != nil {
		return fmt.Errorf("close PID file: %w", closeErr)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// readPID returns the PID stored in path.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, _, _ := strings.Cut(strings.TrimSpace(string(data)), ":")
	return strconv.Atoi(pid)
}

// newToken returns a random 16-character hex token.
func newToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
