// Package lock keeps a second station from grabbing the same camera and
// worker by holding an exclusive file lock for the life of the process.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock: another instance is running")

// DefaultPath is used when no path is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "go-inspect.lock")
}

// Lock is a held instance lock.
type Lock struct {
	f *flock.Flock
}

// Acquire takes the lock at path without waiting.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}

	f := flock.New(path)
	ok, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return &Lock{f: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.f.Path()
}

// Release drops the lock. The file is left in place.
func (l *Lock) Release() error {
	return l.f.Unlock()
}
