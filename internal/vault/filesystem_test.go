package vault

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"svld/internal/svld"
)

const (
	digestA = "aaaaaaaaaaaa1111111111111111111111111111111111111111111111111111"
	digestB = "aaaaaaaaaaaa2222222222222222222222222222222222222222222222222222"
)

func newTestVault(t *testing.T) *FileSystemVault {
	t.Helper()
	v, err := NewFileSystemVault("test", filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return v
}

func fillWith(name, data string) func(dir string) error {
	return func(dir string) error {
		return os.WriteFile(filepath.Join(dir, name), []byte(data), 0644)
	}
}

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates backup root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "a", "b")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		if _, err := os.Stat(root); err != nil {
			t.Errorf("backup root not created: %v", err)
		}
		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_SnapshotPath(t *testing.T) {
	v := newTestVault(t)
	want := filepath.Join(v.Root(), "backup_aaaaaaaaaaaa")
	if got := v.SnapshotPath(digestA); got != want {
		t.Errorf("SnapshotPath() = %q, want %q", got, want)
	}
}

func TestFileSystemVault_Put(t *testing.T) {
	v := newTestVault(t)

	path, err := v.Put(digestA, fillWith("level.dat", "world"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if path != v.SnapshotPath(digestA) {
		t.Errorf("Put() path = %q, want %q", path, v.SnapshotPath(digestA))
	}

	data, err := os.ReadFile(filepath.Join(path, "level.dat"))
	if err != nil {
		t.Fatalf("reading snapshot file: %v", err)
	}
	if string(data) != "world" {
		t.Errorf("content = %q, want %q", data, "world")
	}

	sidecar, err := os.ReadFile(path + ".digest")
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	if strings.TrimSpace(string(sidecar)) != digestA {
		t.Errorf("sidecar = %q, want %q", sidecar, digestA)
	}

	has, err := v.Has(digestA)
	if err != nil || !has {
		t.Errorf("Has() = %v, %v; want true, nil", has, err)
	}
	assertNoScratch(t, v)
}

func TestFileSystemVault_Put_FillFails(t *testing.T) {
	v := newTestVault(t)
	errFill := errors.New("copy failed")

	_, err := v.Put(digestA, func(dir string) error {
		if err := os.WriteFile(filepath.Join(dir, "half"), []byte("x"), 0644); err != nil {
			return err
		}
		return errFill
	})
	if !errors.Is(err, errFill) {
		t.Fatalf("Put() error = %v, want %v", err, errFill)
	}

	if _, err := os.Stat(v.SnapshotPath(digestA)); !os.IsNotExist(err) {
		t.Errorf("snapshot directory exists after failed put: %v", err)
	}
	if has, _ := v.Has(digestA); has {
		t.Error("Has() = true after failed put")
	}
	assertNoScratch(t, v)
}

func TestFileSystemVault_Has(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		v := newTestVault(t)
		has, err := v.Has(digestA)
		if err != nil || has {
			t.Errorf("Has() = %v, %v; want false, nil", has, err)
		}
	})

	t.Run("prefix collision", func(t *testing.T) {
		v := newTestVault(t)
		if _, err := v.Put(digestA, fillWith("a", "a")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		_, err := v.Has(digestB)
		if !errors.Is(err, svld.ErrDigestCollision) {
			t.Errorf("Has() error = %v, want ErrDigestCollision", err)
		}
	})

	t.Run("legacy snapshot without sidecar", func(t *testing.T) {
		v := newTestVault(t)
		if err := os.Mkdir(v.SnapshotPath(digestA), 0755); err != nil {
			t.Fatal(err)
		}
		has, err := v.Has(digestB)
		if err != nil || !has {
			t.Errorf("Has() = %v, %v; want true, nil", has, err)
		}
	})
}

func TestFileSystemVault_Delete(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Put(digestA, fillWith("a", "a")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := v.Delete(digestA); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(v.SnapshotPath(digestA)); !os.IsNotExist(err) {
		t.Errorf("snapshot still present: %v", err)
	}
	if _, err := os.Stat(v.SnapshotPath(digestA) + ".digest"); !os.IsNotExist(err) {
		t.Errorf("sidecar still present: %v", err)
	}

	if err := v.Delete(digestA); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestFileSystemVault_CleanupScratch(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Put(digestA, fillWith("a", "a")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	for _, name := range []string{".tmp-backup_bbbbbbbbbbbb-123", ".tmp-456.digest"} {
		if err := os.Mkdir(filepath.Join(v.Root(), name), 0755); err != nil {
			t.Fatal(err)
		}
	}

	n, err := v.CleanupScratch()
	if err != nil {
		t.Fatalf("CleanupScratch() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CleanupScratch() = %d, want 2", n)
	}
	assertNoScratch(t, v)
	if has, _ := v.Has(digestA); !has {
		t.Error("published snapshot removed by cleanup")
	}
}

func assertNoScratch(t *testing.T, v *FileSystemVault) {
	t.Helper()
	entries, err := os.ReadDir(v.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("scratch entry left behind: %s", e.Name())
		}
	}
}
