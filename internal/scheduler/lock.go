//go:build !windows

package scheduler

import (
	"os"
	"syscall"
)

// FileLock guards a scheduler tick with flock(2). Two drover daemons pointed
// at the same state directory would otherwise both dispatch the same cron
// match; whichever loses the lock skips its tick entirely, it does not wait.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock on the given path. The file is created on first
// acquisition and removed on release.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock attempts the lock without blocking. Returns false, nil when another
// drover process holds it.
func (l *FileLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}

	l.file = f
	return true, nil
}

// Unlock releases the lock and removes the lock file. A no-op when the lock
// is not held, so it is safe to defer unconditionally from tick.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return err
	}
	name := l.file.Name()
	l.file.Close()
	l.file = nil
	os.Remove(name)
	return nil
}
