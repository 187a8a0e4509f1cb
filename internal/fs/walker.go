package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"svld/internal/svld"
)

// Walker enumerates directory trees, reading sibling branches in parallel.
type Walker struct {
	workers int
	logger  svld.Logger
}

// NewWalker creates a Walker bounded to workers concurrent directory reads.
// workers <= 0 uses the number of CPUs.
func NewWalker(workers int, logger svld.Logger) *Walker {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = svld.NewNopLogger()
	}
	return &Walker{workers: workers, logger: logger}
}

// Workers returns the concurrency bound of the walker.
func (w *Walker) Workers() int { return w.workers }

// Walk returns every regular file and directory below root in no particular
// order. Symlinks and special files are skipped. Children that cannot be
// read are logged and skipped; failing to read root is an error wrapping
// svld.ErrIOFatal.
func (w *Walker) Walk(root string) ([]svld.TreeEntry, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", root, svld.ErrIOFatal, err)
	}

	batches := make(chan []svld.TreeEntry, w.workers)
	var entries []svld.TreeEntry
	collected := make(chan struct{})
	go func() {
		for b := range batches {
			entries = append(entries, b...)
		}
		close(collected)
	}()

	var g errgroup.Group
	g.SetLimit(w.workers)

	var visit func(dir, rel string, dirents []os.DirEntry)
	walkDir := func(dir, rel string) {
		children, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
			return
		}
		visit(dir, rel, children)
	}
	visit = func(dir, rel string, dirents []os.DirEntry) {
		batch := make([]svld.TreeEntry, 0, len(dirents))
		for _, d := range dirents {
			full := filepath.Join(dir, d.Name())
			relPath := d.Name()
			if rel != "" {
				relPath = rel + "/" + d.Name()
			}

			typ := d.Type()
			if !typ.IsDir() && !typ.IsRegular() {
				w.logger.Debug("skipping special file", "path", full, "type", typ.String())
				continue
			}

			info, err := d.Info()
			if err != nil {
				w.logger.Warn("skipping unreadable entry", "path", full, "error", err)
				continue
			}

			if typ.IsDir() {
				batch = append(batch, svld.TreeEntry{
					RelPath:  relPath,
					Modified: modSeconds(info.ModTime()),
					IsDir:    true,
				})
				// Run the subtree inline when the pool is saturated.
				if !g.TryGo(func() error { walkDir(full, relPath); return nil }) {
					walkDir(full, relPath)
				}
				continue
			}

			batch = append(batch, svld.TreeEntry{
				RelPath:  relPath,
				Size:     uint64(info.Size()),
				Modified: modSeconds(info.ModTime()),
			})
		}
		if len(batch) > 0 {
			batches <- batch
		}
	}

	visit(root, "", dirents)
	_ = g.Wait()
	close(batches)
	<-collected

	return entries, nil
}

// modSeconds converts t to whole seconds since the epoch, or 0 for times
// before it.
func modSeconds(t time.Time) uint64 {
	if t.Before(time.Unix(0, 0)) {
		return 0
	}
	return uint64(t.Unix())
}
