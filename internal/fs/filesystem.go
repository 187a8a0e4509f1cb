package fs

import (
	"context"

	"svld/internal/svld"
)

// Options configures an OSFilesystemManager.
type Options struct {
	// Workers bounds parallel directory reads and file copies; <= 0 uses
	// the number of CPUs.
	Workers int
	// Strategies names copy strategies in the order they are tried. Empty
	// selects the platform default.
	Strategies []string
	Logger     svld.Logger
}

// OSFilesystemManager is the real filesystem implementation of
// svld.FilesystemManager.
type OSFilesystemManager struct {
	walker *Walker
	copier *Copier
}

// NewOSFilesystemManager creates a filesystem manager operating on the real
// filesystem.
func NewOSFilesystemManager(opts Options) (*OSFilesystemManager, error) {
	walker := NewWalker(opts.Workers, opts.Logger)
	strategies, err := StrategiesFromNames(opts.Strategies, walker, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &OSFilesystemManager{
		walker: walker,
		copier: NewCopier(opts.Logger, strategies...),
	}, nil
}

func (m *OSFilesystemManager) Walk(root string) ([]svld.TreeEntry, error) {
	return m.walker.Walk(root)
}

func (m *OSFilesystemManager) Fingerprint(path string) (string, error) {
	return m.walker.Fingerprint(path)
}

func (m *OSFilesystemManager) TotalSize(path string) (uint64, error) {
	return m.walker.TotalSize(path)
}

func (m *OSFilesystemManager) CopyTree(ctx context.Context, src, dst string) error {
	return m.copier.CopyTree(ctx, src, dst)
}

// CopyStrategies returns the copy strategy names in the order they are tried.
func (m *OSFilesystemManager) CopyStrategies() []string {
	return m.copier.Strategies()
}

// Compile-time check that OSFilesystemManager implements svld.FilesystemManager
var _ svld.FilesystemManager = (*OSFilesystemManager)(nil)
