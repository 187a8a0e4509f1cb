package svld

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RestoreState is a step of a restore. A restore moves forward through the
// states and ends in RestoreDone or RestoreFailed; it is never retried.
type RestoreState int

const (
	RestoreIdle RestoreState = iota
	RestoreValidating
	RestoreVerifying
	RestoreCopying
	RestoreReplacing
	RestoreDone
	RestoreFailed
)

func (s RestoreState) String() string {
	switch s {
	case RestoreIdle:
		return "idle"
	case RestoreValidating:
		return "validating"
	case RestoreVerifying:
		return "verifying"
	case RestoreCopying:
		return "copying"
	case RestoreReplacing:
		return "replacing"
	case RestoreDone:
		return "done"
	case RestoreFailed:
		return "failed"
	default:
		return fmt.Sprintf("RestoreState(%d)", int(s))
	}
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Name        string
	Target      string
	StoragePath string
	Summary     string
}

// RestoreEngine writes a verified snapshot back over a live save directory.
//
// The snapshot is copied into a staging directory next to the target and
// verified there first. The old target is then renamed aside, the staged
// tree renamed into its place, and only then is the old tree removed. At
// every point the target is either the old tree or the restored one.
type RestoreEngine struct {
	vault  Vault
	fsmgr  FilesystemManager
	logger Logger
	idgen  IDGenerator

	rename    func(oldpath, newpath string) error
	removeAll func(path string) error

	// OnState, when set, is called on every state transition.
	OnState func(RestoreState)
}

func NewRestoreEngine(vault Vault, fsmgr FilesystemManager, logger Logger, idgen IDGenerator) *RestoreEngine {
	return &RestoreEngine{
		vault:     vault,
		fsmgr:     fsmgr,
		logger:    logger,
		idgen:     idgen,
		rename:    os.Rename,
		removeAll: os.RemoveAll,
	}
}

const (
	stagingMarker  = ".svld-restore-"
	setAsideMarker = ".svld-replaced-"
)

func stagingName(base, id string) string  { return "." + base + stagingMarker + id }
func setAsideName(base, id string) string { return "." + base + setAsideMarker + id }

func (e *RestoreEngine) enter(s RestoreState) {
	if e.OnState != nil {
		e.OnState(s)
	}
}

// Verify checks that the snapshot for record is present and still matches
// its digest. It returns the snapshot's storage path.
func (e *RestoreEngine) Verify(record *BackupRecord) (string, error) {
	storagePath := e.vault.SnapshotPath(record.Digest)
	info, err := os.Stat(storagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("snapshot %s for %q: %w", SnapshotName(record.Digest), record.Name, ErrNotFound)
		}
		return "", fmt.Errorf("stat snapshot: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("snapshot %s is not a directory: %w", storagePath, ErrCorrupted)
	}

	digest, err := e.fsmgr.Fingerprint(storagePath)
	if err != nil {
		return "", fmt.Errorf("fingerprinting snapshot: %w", err)
	}
	if digest != record.Digest {
		e.logger.Warn("snapshot digest mismatch", "name", record.Name, "want", record.Digest, "got", digest)
		return "", fmt.Errorf("snapshot %s for %q: %w", SnapshotName(record.Digest), record.Name, ErrCorrupted)
	}
	return storagePath, nil
}

// Restore verifies the snapshot described by record and replaces target
// with its contents.
func (e *RestoreEngine) Restore(ctx context.Context, record *BackupRecord, target string) (result *RestoreResult, err error) {
	defer func() {
		if err != nil {
			e.enter(RestoreFailed)
		}
	}()

	e.enter(RestoreValidating)
	if target == "" {
		return nil, fmt.Errorf("restore target is empty: %w", ErrInvalidSource)
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving target: %w", err)
	}

	e.enter(RestoreVerifying)
	storagePath, err := e.Verify(record)
	if err != nil {
		return nil, err
	}

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("creating target parent: %w: %v", ErrIOFatal, err)
	}
	base := filepath.Base(target)
	if err := e.sweepLeftovers(parent, base); err != nil {
		return nil, err
	}

	e.enter(RestoreCopying)
	staged := filepath.Join(parent, stagingName(base, e.idgen.New()))
	defer func() {
		// Nothing to clean up once the staged tree has been renamed away.
		if rmErr := e.removeAll(staged); rmErr != nil {
			e.logger.Warn("removing restore staging directory", "path", staged, "error", rmErr)
		}
	}()

	if err := e.fsmgr.CopyTree(ctx, storagePath, staged); err != nil {
		return nil, fmt.Errorf("copying snapshot to staging: %w", err)
	}
	stagedDigest, err := e.fsmgr.Fingerprint(staged)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting staged restore: %w", err)
	}
	if stagedDigest != record.Digest {
		return nil, fmt.Errorf("staged restore does not match snapshot digest (got %s)", stagedDigest)
	}

	e.enter(RestoreReplacing)
	if err := e.replace(target, staged, filepath.Join(parent, setAsideName(base, e.idgen.New()))); err != nil {
		return nil, err
	}

	e.enter(RestoreDone)
	e.logger.Info("snapshot restored", "name", record.Name, "target", target)
	return &RestoreResult{
		Name:        record.Name,
		Target:      target,
		StoragePath: storagePath,
		Summary:     fmt.Sprintf("restored %q to %s", record.Name, target),
	}, nil
}

// replace swaps staged into target. The existing target is moved to aside
// first and moved back if the swap fails; aside is removed afterwards on a
// best-effort basis.
func (e *RestoreEngine) replace(target, staged, aside string) error {
	hadTarget := true
	if err := e.rename(target, aside); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving existing target aside: %w", err)
		}
		hadTarget = false
	}

	if err := e.rename(staged, target); err != nil {
		if hadTarget {
			if backErr := e.rename(aside, target); backErr != nil {
				e.logger.Error("could not move previous save back", "path", aside, "target", target, "error", backErr)
				return fmt.Errorf("moving restored tree into place: %w (previous save kept at %s)", err, aside)
			}
		}
		return fmt.Errorf("moving restored tree into place: %w", err)
	}

	if hadTarget {
		if err := e.removeAll(aside); err != nil {
			e.logger.Warn("removing previous save", "path", aside, "error", err)
		}
	}
	return nil
}

// sweepLeftovers clears what an interrupted restore left next to the
// target. Staging trees are removed. A set-aside previous save is moved
// back when the target is missing, otherwise removed.
func (e *RestoreEngine) sweepLeftovers(parent, base string) error {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return fmt.Errorf("reading target parent: %w", err)
	}
	target := filepath.Join(parent, base)
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(parent, name)
		switch {
		case strings.HasPrefix(name, "."+base+stagingMarker):
			e.logger.Info("removing leftover restore staging directory", "path", path)
			if err := e.removeAll(path); err != nil {
				e.logger.Warn("removing leftover restore staging directory", "path", path, "error", err)
			}
		case strings.HasPrefix(name, "."+base+setAsideMarker):
			if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
				e.logger.Warn("recovering previous save from interrupted restore", "path", path, "target", target)
				if err := e.rename(path, target); err != nil {
					return fmt.Errorf("recovering previous save %s: %w", path, err)
				}
				continue
			}
			if err := e.removeAll(path); err != nil {
				e.logger.Warn("removing leftover previous save", "path", path, "error", err)
			}
		}
	}
	return nil
}
