package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"svld/internal/fs"
	"svld/internal/svld"
	"svld/internal/testutil"
)

func sortedEntries(entries []svld.TreeEntry) []svld.TreeEntry {
	slices.SortFunc(entries, func(a, b svld.TreeEntry) int { return strings.Compare(a.RelPath, b.RelPath) })
	return entries
}

func TestWalker_Walk(t *testing.T) {
	root := t.TempDir()
	testutil.BuildTree(t, root,
		testutil.File("a.txt", 10, 1000),
		testutil.Dir("sub", 1500),
		testutil.File("sub/b.txt", 20, 2000),
		testutil.Dir("sub/deeper", 1600),
		testutil.File("sub/deeper/c.bin", 3, 3000),
	)

	got, err := fs.NewWalker(2, nil).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []svld.TreeEntry{
		{RelPath: "a.txt", Size: 10, Modified: 1000},
		{RelPath: "sub", Modified: 1500, IsDir: true},
		{RelPath: "sub/b.txt", Size: 20, Modified: 2000},
		{RelPath: "sub/deeper", Modified: 1600, IsDir: true},
		{RelPath: "sub/deeper/c.bin", Size: 3, Modified: 3000},
	}
	if got := sortedEntries(got); !slices.Equal(got, want) {
		t.Errorf("Walk() =\n%v\nwant\n%v", got, want)
	}
}

func TestWalker_Walk_ManyDirectories(t *testing.T) {
	root := t.TempDir()
	var nodes []testutil.Node
	for i := 0; i < 40; i++ {
		dir := filepath.ToSlash(filepath.Join("d", string(rune('a'+i%26)), strings.Repeat("n", i%5+1)))
		nodes = append(nodes, testutil.File(dir+"/f"+strings.Repeat("x", i)+".dat", i, int64(1000+i)))
	}
	testutil.BuildTree(t, root, nodes...)

	serial, err := fs.NewWalker(1, nil).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	parallel, err := fs.NewWalker(16, nil).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if !slices.Equal(sortedEntries(serial), sortedEntries(parallel)) {
		t.Errorf("parallel walk differs from serial walk: %d vs %d entries", len(parallel), len(serial))
	}
	files := 0
	for _, e := range parallel {
		if !e.IsDir {
			files++
		}
	}
	if files != 40 {
		t.Errorf("walked %d files, want 40", files)
	}
}

func TestWalker_Walk_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	testutil.BuildTree(t, root, testutil.File("real.txt", 5, 1000))
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := fs.NewWalker(1, nil).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(got) != 1 || got[0].RelPath != "real.txt" {
		t.Errorf("Walk() = %v, want only real.txt", got)
	}
}

func TestWalker_Walk_EmptyAndMissing(t *testing.T) {
	t.Run("empty root", func(t *testing.T) {
		got, err := fs.NewWalker(1, nil).Walk(t.TempDir())
		if err != nil {
			t.Fatalf("Walk() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Walk() returned %d entries, want 0", len(got))
		}
	})

	t.Run("missing root is fatal", func(t *testing.T) {
		_, err := fs.NewWalker(1, nil).Walk(filepath.Join(t.TempDir(), "missing"))
		if !errors.Is(err, svld.ErrIOFatal) {
			t.Errorf("Walk() error = %v, want ErrIOFatal", err)
		}
	})
}

func TestWalker_Walk_PreEpochMtime(t *testing.T) {
	root := t.TempDir()
	testutil.BuildTree(t, root, testutil.File("old.sav", 1, -86400))

	got, err := fs.NewWalker(1, nil).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Walk() returned %d entries, want 1", len(got))
	}
	if got[0].Modified != 0 {
		t.Errorf("Modified = %d, want 0 for pre-epoch time", got[0].Modified)
	}
}
