package svld

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a source path, snapshot or catalog
	// record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupted means a stored snapshot no longer matches the digest
	// recorded for it.
	ErrCorrupted = errors.New("snapshot corrupted")

	// ErrPartialCopy means some files could not be copied. The concrete
	// error is a *PartialCopyError.
	ErrPartialCopy = errors.New("partial copy")

	// ErrIOFatal covers failures that stop an operation before any useful
	// work happened (destination not creatable, source root unreadable).
	ErrIOFatal = errors.New("fatal i/o error")

	// ErrDuplicateDigest is returned when the catalog already holds a
	// record with the same digest. The concrete error is a
	// *DuplicateDigestError.
	ErrDuplicateDigest = errors.New("duplicate digest")

	// ErrDigestCollision means the snapshot directory for a digest prefix
	// belongs to a different full digest.
	ErrDigestCollision = errors.New("digest prefix collision")

	// ErrInvalidSource is returned when a save source fails validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrBusy is returned when another process holds the backup root lock.
	ErrBusy = errors.New("backup root is locked by another process")
)

// FileFailure records one file that could not be copied.
type FileFailure struct {
	Path string
	Err  error
}

// PartialCopyError reports per-file failures of a tree copy. Files not
// listed in Failures were copied.
type PartialCopyError struct {
	Total    int
	Failures []FileFailure
}

func (e *PartialCopyError) Error() string {
	paths := make([]string, 0, 3)
	for i, f := range e.Failures {
		if i == 3 {
			break
		}
		paths = append(paths, f.Path)
	}
	msg := fmt.Sprintf("%d of %d files failed to copy (%s", len(e.Failures), e.Total, strings.Join(paths, ", "))
	if len(e.Failures) > 3 {
		msg += ", ..."
	}
	return msg + ")"
}

func (e *PartialCopyError) Is(target error) bool { return target == ErrPartialCopy }

// DuplicateDigestError carries the catalog record that already holds the
// digest.
type DuplicateDigestError struct {
	Existing *BackupRecord
}

func (e *DuplicateDigestError) Error() string {
	if e.Existing == nil {
		return ErrDuplicateDigest.Error()
	}
	return fmt.Sprintf("content unchanged since snapshot %q (id %d)", e.Existing.Name, e.Existing.ID)
}

func (e *DuplicateDigestError) Is(target error) bool { return target == ErrDuplicateDigest }
