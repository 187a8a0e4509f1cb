package svld

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// SnapshotDraft describes a stored snapshot before it is recorded in the
// catalog.
type SnapshotDraft struct {
	Name         string
	Digest       string
	Size         uint64
	StoragePath  string
	SaveTime     time.Time
	MoreInfo     string
	Deduplicated bool // true when an existing snapshot was reused without copying
}

// Record converts the draft into an unsaved catalog record.
func (d *SnapshotDraft) Record() *BackupRecord {
	return &BackupRecord{
		Name:        d.Name,
		Digest:      d.Digest,
		Size:        d.Size,
		StoragePath: d.StoragePath,
		SaveTime:    d.SaveTime,
		MoreInfo:    d.MoreInfo,
	}
}

// DefaultName is the snapshot name used when the caller gives none.
func DefaultName(t time.Time) string {
	return "save_" + t.UTC().Format(time.RFC3339)
}

// SnapshotStore turns a live save directory into an immutable,
// content-addressed snapshot under the backup root.
type SnapshotStore struct {
	vault  Vault
	fsmgr  FilesystemManager
	logger Logger
	clock  Clock
}

func NewSnapshotStore(vault Vault, fsmgr FilesystemManager, logger Logger, clock Clock) *SnapshotStore {
	return &SnapshotStore{
		vault:  vault,
		fsmgr:  fsmgr,
		logger: logger,
		clock:  clock,
	}
}

// Save fingerprints source and stores it unless a snapshot with the same
// digest already exists. An empty name is replaced by DefaultName.
func (s *SnapshotStore) Save(ctx context.Context, source, name, moreInfo string) (*SnapshotDraft, error) {
	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("source %s: %w", source, ErrNotFound)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory: %w", source, ErrInvalidSource)
	}

	digest, err := s.fsmgr.Fingerprint(source)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting source: %w", err)
	}
	s.logger.Debug("source fingerprinted", "path", source, "digest", digest)

	exists, err := s.vault.Has(digest)
	if err != nil {
		return nil, fmt.Errorf("checking snapshot store: %w", err)
	}

	var storagePath string
	if exists {
		storagePath = s.vault.SnapshotPath(digest)
		s.logger.Info("snapshot already stored, skipping copy", "name", SnapshotName(digest), "path", storagePath)
	} else {
		storagePath, err = s.vault.Put(digest, func(dir string) error {
			if err := s.fsmgr.CopyTree(ctx, source, dir); err != nil {
				return err
			}
			copied, err := s.fsmgr.Fingerprint(dir)
			if err != nil {
				return fmt.Errorf("fingerprinting copy: %w", err)
			}
			if copied != digest {
				return fmt.Errorf("source changed during snapshot: copy digest %s does not match %s", copied, digest)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("storing snapshot: %w", err)
		}
		s.logger.Info("snapshot stored", "name", SnapshotName(digest), "path", storagePath)
	}

	size, err := s.fsmgr.TotalSize(storagePath)
	if err != nil {
		return nil, fmt.Errorf("calculating snapshot size: %w", err)
	}

	now := s.clock.Now().UTC()
	if name == "" {
		name = DefaultName(now)
	}

	return &SnapshotDraft{
		Name:         name,
		Digest:       digest,
		Size:         size,
		StoragePath:  storagePath,
		SaveTime:     now,
		MoreInfo:     moreInfo,
		Deduplicated: exists,
	}, nil
}

// Delete removes the stored snapshot for digest.
func (s *SnapshotStore) Delete(digest string) error {
	if err := s.vault.Delete(digest); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", SnapshotName(digest), err)
	}
	s.logger.Info("snapshot deleted", "name", SnapshotName(digest))
	return nil
}
