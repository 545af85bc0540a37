// LockFileEx locking for Windows.

//go:build windows

package pidfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// removeWhileLocked is false because an open file cannot be deleted: Release
// removes it after closing. Another instance holding it open makes the
// delete fail, which leaves the file for that instance to reuse.
const removeWhileLocked = false

// lockFile takes an exclusive lock on the first byte of f. With
// LOCKFILE_FAIL_IMMEDIATELY it fails at once if another process holds it.
func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0,
		ol,
	); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the byte-range lock on f.
func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
