package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"svld/internal/svld"
)

// digestSuffix names the sidecar file holding a snapshot's full digest.
const digestSuffix = ".digest"

// FileSystemVault stores snapshots as plain directory trees under a backup
// root:
//
//	<root>/
//	  backup_<12 hex>/          (snapshot tree, identical to the saved directory)
//	  backup_<12 hex>.digest    (full 64-char digest of the tree)
//	  .tmp-backup_<12 hex>-*    (in-progress snapshot, renamed into place when complete)
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving backup root: %w", err)
	}
	return &FileSystemVault{name: name, root: abs}, nil
}

// Root returns the backup root directory.
func (v *FileSystemVault) Root() string { return v.root }

// SnapshotPath returns where the snapshot for digest is stored.
func (v *FileSystemVault) SnapshotPath(digest string) string {
	return filepath.Join(v.root, svld.SnapshotName(digest))
}

func (v *FileSystemVault) sidecarPath(digest string) string {
	return v.SnapshotPath(digest) + digestSuffix
}

// Has reports whether a snapshot for digest exists. Snapshots without a
// sidecar are trusted on their name alone.
func (v *FileSystemVault) Has(digest string) (bool, error) {
	info, err := os.Stat(v.SnapshotPath(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat snapshot: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("snapshot path %s is not a directory", v.SnapshotPath(digest))
	}

	stored, err := os.ReadFile(v.sidecarPath(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("reading digest sidecar: %w", err)
	}
	if s := strings.TrimSpace(string(stored)); s != digest {
		return false, fmt.Errorf("%s holds %s, not %s: %w", svld.SnapshotName(digest), s, digest, svld.ErrDigestCollision)
	}
	return true, nil
}

// Put fills a scratch directory via fill and atomically renames it to the
// snapshot path. The scratch directory is removed if anything fails.
func (v *FileSystemVault) Put(digest string, fill func(dir string) error) (string, error) {
	destPath := v.SnapshotPath(digest)

	// Create the scratch directory in the root so the rename stays on one filesystem.
	tmpDir, err := os.MkdirTemp(v.root, ".tmp-"+svld.SnapshotName(digest)+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	success := false
	defer func() {
		if !success {
			os.RemoveAll(tmpDir)
		}
	}()

	if err := fill(tmpDir); err != nil {
		return "", err
	}

	// The sidecar goes first: a crash after it leaves a harmless orphan,
	// while a snapshot without one is accepted as legacy.
	if err := v.writeSidecar(digest); err != nil {
		return "", err
	}

	if err := os.Rename(tmpDir, destPath); err != nil {
		return "", fmt.Errorf("failed to publish snapshot: %w", err)
	}

	success = true
	return destPath, nil
}

// writeSidecar records digest next to its snapshot using temp file + rename.
func (v *FileSystemVault) writeSidecar(digest string) error {
	tmpFile, err := os.CreateTemp(v.root, ".tmp-*"+digestSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.WriteString(digest + "\n"); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write digest: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, v.sidecarPath(digest)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes the snapshot tree and its sidecar.
func (v *FileSystemVault) Delete(digest string) error {
	if err := os.RemoveAll(v.SnapshotPath(digest)); err != nil {
		return fmt.Errorf("removing snapshot: %w", err)
	}
	if err := os.Remove(v.sidecarPath(digest)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing digest sidecar: %w", err)
	}
	return nil
}

// CleanupScratch removes scratch directories left by interrupted saves and
// returns how many were removed.
func (v *FileSystemVault) CleanupScratch() (int, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return 0, fmt.Errorf("reading backup root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(v.root, e.Name())); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// ValidateSetup verifies that the backup root is an accessible directory.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("backup root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup root is not a directory: %s", v.root)
	}
	return nil
}

// Compile-time check that FileSystemVault implements svld.Vault interface
var _ svld.Vault = (*FileSystemVault)(nil)
