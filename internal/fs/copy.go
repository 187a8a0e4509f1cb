package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"svld/internal/svld"
)

// ErrStrategyUnavailable is returned by a Strategy that cannot run on this
// host (wrong platform, tool not installed). The Copier moves on to the
// next strategy without logging a failure.
var ErrStrategyUnavailable = errors.New("copy strategy unavailable")

// maxLoggedFailures bounds how many failed paths a partial copy logs.
const maxLoggedFailures = 10

// Strategy is one way of copying a directory tree.
type Strategy interface {
	Name() string
	Copy(ctx context.Context, src, dst string) error
}

// Copier tries its strategies in order until one succeeds.
type Copier struct {
	strategies []Strategy
	logger     svld.Logger
}

func NewCopier(logger svld.Logger, strategies ...Strategy) *Copier {
	if logger == nil {
		logger = svld.NewNopLogger()
	}
	return &Copier{strategies: strategies, logger: logger}
}

// Strategies returns the names of the configured strategies in order.
func (c *Copier) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// CopyTree copies src into dst with the first strategy that succeeds. When
// every strategy fails, the error of the last one that actually ran is
// returned.
func (c *Copier) CopyTree(ctx context.Context, src, dst string) error {
	if len(c.strategies) == 0 {
		return fmt.Errorf("no copy strategies configured")
	}

	var lastErr error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.Copy(ctx, src, dst)
		if err == nil {
			c.logger.Debug("tree copied", "strategy", s.Name(), "src", src, "dst", dst)
			return nil
		}
		if errors.Is(err, ErrStrategyUnavailable) {
			c.logger.Debug("copy strategy unavailable", "strategy", s.Name())
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		c.logger.Warn("copy strategy failed", "strategy", s.Name(), "error", err)
		lastErr = err
	}
	return lastErr
}

// NativeStrategy copies a tree with the walker and a bounded pool of file
// copies. It always runs.
type NativeStrategy struct {
	walker *Walker
	logger svld.Logger

	// copyFile copies one regular file. Replaced in tests.
	copyFile func(src, dst string) error
}

func NewNativeStrategy(walker *Walker, logger svld.Logger) *NativeStrategy {
	if logger == nil {
		logger = svld.NewNopLogger()
	}
	return &NativeStrategy{walker: walker, logger: logger, copyFile: copyFile}
}

func (*NativeStrategy) Name() string { return "native" }

// Copy creates dst, recreates the directory structure of src beneath it and
// then copies every file in parallel. Files and directories keep their
// permission bits and modification times. Per-file failures do not stop
// the copy; they are collected into a *svld.PartialCopyError.
func (n *NativeStrategy) Copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating destination %s: %w: %w", dst, svld.ErrIOFatal, err)
	}

	entries, err := n.walker.Walk(src)
	if err != nil {
		return err
	}

	var dirs, files []string
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e.RelPath)
		} else {
			files = append(files, e.RelPath)
		}
	}
	// A parent path is a prefix of its children, so it sorts first.
	slices.Sort(dirs)

	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dst, filepath.FromSlash(d)), 0755); err != nil {
			n.logger.Warn("creating directory", "path", d, "error", err)
		}
	}

	results := make([]error, len(files))
	var g errgroup.Group
	g.SetLimit(n.walker.Workers())
	for i, rel := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = err
				return nil
			}
			native := filepath.FromSlash(rel)
			results[i] = n.copyFile(filepath.Join(src, native), filepath.Join(dst, native))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Backwards, so a parent's mode is applied after its children are done.
	for i := len(dirs) - 1; i >= 0; i-- {
		native := filepath.FromSlash(dirs[i])
		if err := copyDirAttrs(filepath.Join(src, native), filepath.Join(dst, native)); err != nil {
			n.logger.Warn("restoring directory attributes", "path", dirs[i], "error", err)
		}
	}

	var failures []svld.FileFailure
	for i, err := range results {
		if err != nil {
			failures = append(failures, svld.FileFailure{Path: files[i], Err: err})
		}
	}
	if len(failures) > 0 {
		for i, f := range failures {
			if i == maxLoggedFailures {
				n.logger.Warn("further copy failures omitted", "count", len(failures)-maxLoggedFailures)
				break
			}
			n.logger.Warn("file copy failed", "path", f.Path, "error", f.Err)
		}
		return &svld.PartialCopyError{Total: len(files), Failures: failures}
	}

	n.logger.Debug("native copy complete", "files", len(files), "dirs", len(dirs))
	return nil
}

// copyFile copies a regular file, preserving permission bits and
// modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing destination: %w", err)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("setting file times: %w", err)
	}
	return nil
}

func copyDirAttrs(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
