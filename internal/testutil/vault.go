package testutil

import (
	"path/filepath"
	"testing"

	"svld/internal/vault"
)

// NewTestVault creates a filesystem vault in a fresh temporary backup root.
func NewTestVault(t *testing.T) *vault.FileSystemVault {
	t.Helper()
	v, err := vault.NewFileSystemVault("test", filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return v
}
