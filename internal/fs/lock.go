package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"svld/internal/svld"
)

// LockFileName is the advisory lock file kept in the backup root.
const LockFileName = ".svld.lock"

const lockRetryDelay = 100 * time.Millisecond

// FileLocker is an inter-process advisory lock on a file.
type FileLocker struct {
	path    string
	timeout time.Duration
}

// NewFileLocker creates a locker on path. Lock waits up to timeout for a
// competing holder; a zero timeout tries exactly once.
func NewFileLocker(path string, timeout time.Duration) *FileLocker {
	return &FileLocker{path: path, timeout: timeout}
}

// Lock acquires the lock, returning svld.ErrBusy when it stays held by
// another process past the timeout.
func (l *FileLocker) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(l.path)

	var locked bool
	var err error
	if l.timeout <= 0 {
		locked, err = fl.TryLock()
	} else {
		lctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		locked, err = fl.TryLockContext(lctx, lockRetryDelay)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", l.path, svld.ErrBusy)
	}

	return func() { _ = fl.Unlock() }, nil
}

var _ svld.Locker = (*FileLocker)(nil)
