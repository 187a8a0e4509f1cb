package testutil

import (
	"context"
	"sync"
	"testing"

	"svld/internal/fs"
	"svld/internal/svld"
)

// NewTestFilesystem returns a real filesystem manager that only uses the
// native copier, so results do not depend on tools installed on the host.
func NewTestFilesystem(t *testing.T) *fs.OSFilesystemManager {
	t.Helper()
	m, err := fs.NewOSFilesystemManager(fs.Options{
		Workers:    4,
		Strategies: []string{"native"},
	})
	if err != nil {
		t.Fatalf("NewOSFilesystemManager() error = %v", err)
	}
	return m
}

// RecordingFilesystem wraps a FilesystemManager, counting calls and
// optionally replacing CopyTree.
type RecordingFilesystem struct {
	svld.FilesystemManager

	mu           sync.Mutex
	copyCalls    int
	fingerprints int

	// CopyHook, when set, runs instead of the wrapped CopyTree.
	CopyHook func(ctx context.Context, src, dst string) error
}

func NewRecordingFilesystem(inner svld.FilesystemManager) *RecordingFilesystem {
	return &RecordingFilesystem{FilesystemManager: inner}
}

func (r *RecordingFilesystem) Fingerprint(path string) (string, error) {
	r.mu.Lock()
	r.fingerprints++
	r.mu.Unlock()
	return r.FilesystemManager.Fingerprint(path)
}

func (r *RecordingFilesystem) CopyTree(ctx context.Context, src, dst string) error {
	r.mu.Lock()
	r.copyCalls++
	hook := r.CopyHook
	r.mu.Unlock()
	if hook != nil {
		return hook(ctx, src, dst)
	}
	return r.FilesystemManager.CopyTree(ctx, src, dst)
}

// CopyCalls returns how many times CopyTree was called.
func (r *RecordingFilesystem) CopyCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyCalls
}

// Fingerprints returns how many times Fingerprint was called.
func (r *RecordingFilesystem) Fingerprints() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fingerprints
}

var _ svld.FilesystemManager = (*RecordingFilesystem)(nil)
