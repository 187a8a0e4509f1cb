package svld

import "context"

// FilesystemManager provides the tree-level filesystem operations the
// snapshot engine is built on. It abstracts the walker, fingerprinting and
// copying so orchestration can be tested with counting or failing fakes.
type FilesystemManager interface {
	// Walk returns every file and directory below root, root excluded, in
	// no particular order. Unreadable children are skipped; only a failure
	// to read root itself is returned.
	Walk(root string) ([]TreeEntry, error)

	// Fingerprint returns the 64-character hex metadata digest of path,
	// which may be a file or a directory.
	Fingerprint(path string) (string, error)

	// TotalSize returns the sum of file sizes below path, or the size of
	// path itself when it is a file.
	TotalSize(path string) (uint64, error)

	// CopyTree recreates src under dst. It never deletes anything at dst.
	// Per-file failures are reported as a *PartialCopyError.
	CopyTree(ctx context.Context, src, dst string) error
}
