package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// Node describes one file or directory of a test tree.
type Node struct {
	Path  string // slash separated, relative to the tree root
	Data  string // file contents; ignored for directories
	Dir   bool
	Mtime int64 // seconds since the epoch; 0 keeps whatever the filesystem set
}

// File returns a file node whose contents are size bytes of 'x'.
func File(path string, size int, mtime int64) Node {
	return Node{Path: path, Data: strings.Repeat("x", size), Mtime: mtime}
}

// Dir returns a directory node.
func Dir(path string, mtime int64) Node {
	return Node{Path: path, Dir: true, Mtime: mtime}
}

// BuildTree creates nodes under root. File times are applied as files are
// written and directory times last, so later writes do not disturb them.
func BuildTree(t *testing.T, root string, nodes ...Node) {
	t.Helper()

	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("creating tree root: %v", err)
	}

	var dirs []Node
	for _, n := range nodes {
		p := filepath.Join(root, filepath.FromSlash(n.Path))
		if n.Dir {
			if err := os.MkdirAll(p, 0755); err != nil {
				t.Fatalf("creating directory %s: %v", n.Path, err)
			}
			dirs = append(dirs, n)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("creating parent of %s: %v", n.Path, err)
		}
		if err := os.WriteFile(p, []byte(n.Data), 0644); err != nil {
			t.Fatalf("writing %s: %v", n.Path, err)
		}
		if n.Mtime != 0 {
			SetMtime(t, p, n.Mtime)
		}
	}

	slices.SortFunc(dirs, func(a, b Node) int { return strings.Compare(b.Path, a.Path) })
	for _, d := range dirs {
		if d.Mtime != 0 {
			SetMtime(t, filepath.Join(root, filepath.FromSlash(d.Path)), d.Mtime)
		}
	}
}

// SetMtime sets both access and modification time of path.
func SetMtime(t *testing.T, path string, sec int64) {
	t.Helper()
	ts := time.Unix(sec, 0)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("setting times on %s: %v", path, err)
	}
}

// ReadFile returns the contents of path or fails the test.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// SaveTree returns a typical game save layout with fixed timestamps.
func SaveTree() []Node {
	return []Node{
		Dir("persistent", 1_700_000_000),
		File("persistent/player.dat", 128, 1_700_000_100),
		Dir("stats", 1_700_000_000),
		File("stats/stats.json", 64, 1_700_000_200),
		Dir("world", 1_700_000_000),
		Dir("world/region", 1_700_000_000),
		File("world/region/r.0.0.mca", 4096, 1_700_000_300),
		File("world/level.dat", 512, 1_700_000_400),
	}
}
