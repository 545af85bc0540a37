// flock(2) advisory locking for non-Windows platforms.

//go:build !windows

package pidfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// removeWhileLocked is true because an open file can be unlinked: Release
// removes it before dropping the lock.
const removeWhileLocked = true

// lockFile takes an exclusive, non-blocking flock on f. EWOULDBLOCK means
// another process holds it.
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the flock on f. Closing the descriptor also releases it.
func unlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
