package fs

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"slices"
	"strings"

	"svld/internal/svld"
)

// Fingerprint returns the metadata digest of path.
//
// For a directory the digest covers every descendant's relative path,
// size, modification second and directory flag, in byte-wise path order.
// File contents are never read. For a single file it covers the file name,
// size and modification second.
func (w *Walker) Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("fingerprint %s: %w", path, svld.ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		h := sha256.New()
		h.Write([]byte(info.Name()))
		writeUint64(h, uint64(info.Size()))
		if mtime := info.ModTime(); mtime.Unix() >= 0 {
			writeUint64(h, uint64(mtime.Unix()))
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	entries, err := w.Walk(path)
	if err != nil {
		return "", err
	}
	return DigestEntries(entries), nil
}

// DigestEntries computes the directory digest over entries. The input order
// does not matter.
func DigestEntries(entries []svld.TreeEntry) string {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b svld.TreeEntry) int {
		return strings.Compare(a.RelPath, b.RelPath)
	})

	h := sha256.New()
	for _, e := range sorted {
		h.Write([]byte(e.RelPath))
		writeUint64(h, e.Size)
		writeUint64(h, e.Modified)
		if e.IsDir {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// TotalSize returns the combined size of all files below path, or the size
// of path itself when it is a file.
func (w *Walker) TotalSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("size of %s: %w", path, svld.ErrNotFound)
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return uint64(info.Size()), nil
	}

	entries, err := w.Walk(path)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, e := range entries {
		if !e.IsDir {
			total += e.Size
		}
	}
	return total, nil
}
