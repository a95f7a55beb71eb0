// Package lock provides file-based locking of a rigging data directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// StoreName names the lock that serve and mutating commands take on a data
// directory.
const StoreName = "rigging"

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// Lock represents a file-based lock.
type Lock struct {
	name string
	path string
	file *os.File
}

// New creates a lock named name inside dataDir.
func New(dataDir, name string) *Lock {
	return &Lock{
		name: name,
		path: filepath.Join(dataDir, name+".lock"),
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire attempts to acquire the lock without blocking.
// Returns an error wrapping ErrHeld if another process holds it.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		l.file = nil
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := holder(l.path); pid != "" {
				return fmt.Errorf("%s store is in use by pid %s: %w", l.name, pid, ErrHeld)
			}
			return fmt.Errorf("%s store is in use: %w", l.name, ErrHeld)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	// PID for the error message of the next contender.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	l.file = f
	return nil
}

func holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	// Remove before unlocking so a contender never locks a file that is
	// about to disappear.
	os.Remove(l.path)
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return fmt.Errorf("release lock: %w", err)
	}

	l.file.Close()
	l.file = nil
	return nil
}

// WithLock executes fn while holding the lock.
func WithLock(dataDir, name string, fn func() error) error {
	lock := New(dataDir, name)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	return fn()
}
