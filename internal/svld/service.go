package svld

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Service is the orchestration layer the CLI talks to. It combines the
// snapshot store, the restore engine and the catalog, and holds the backup
// root lock around every operation that touches stored snapshots.
type Service struct {
	store    *SnapshotStore
	vault    Vault
	restorer *RestoreEngine
	catalog  Catalog
	history  OperationLog
	paths    PathProvider
	mirror   Mirror
	locker   Locker
	logger   Logger

	// RequiredEntries lists names that must exist directly inside a save
	// directory for ValidateSource to accept it.
	RequiredEntries []string
}

// ServiceDeps bundles the collaborators of a Service. Vault, Fsmgr and
// Catalog are required; nil Logger, Clock, IDGen, Locker and Paths get
// defaults, and a nil Mirror or History disables that feature.
type ServiceDeps struct {
	Vault   Vault
	Fsmgr   FilesystemManager
	Catalog Catalog
	History OperationLog
	Paths   PathProvider
	Mirror  Mirror
	Locker  Locker
	Logger  Logger
	Clock   Clock
	IDGen   IDGenerator
}

// NewService creates a Service from deps.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock{}
	}
	idgen := deps.IDGen
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	locker := deps.Locker
	if locker == nil {
		locker = NopLocker{}
	}
	paths := deps.Paths
	if paths == nil {
		paths = StaticPath("")
	}
	return &Service{
		store:    NewSnapshotStore(deps.Vault, deps.Fsmgr, logger, clock),
		vault:    deps.Vault,
		restorer: NewRestoreEngine(deps.Vault, deps.Fsmgr, logger, idgen),
		catalog:  deps.Catalog,
		history:  deps.History,
		paths:    paths,
		mirror:   deps.Mirror,
		locker:   locker,
		logger:   logger,
	}
}

// SaveRequest describes a save. An empty Source uses the configured save
// directory; an empty Name gets a timestamped default.
type SaveRequest struct {
	Source   string
	Name     string
	MoreInfo string
}

// SaveResult reports a completed save.
type SaveResult struct {
	Record       *BackupRecord
	Deduplicated bool
	// MirrorErr is set when the snapshot was stored locally but could not
	// be mirrored.
	MirrorErr error
}

// Save snapshots the save directory and records it in the catalog.
// If the catalog already holds a record with the same digest the save is
// rejected with a *DuplicateDigestError and nothing is written.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	source, err := s.resolveSource(req.Source)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if n, err := s.vault.CleanupScratch(); err != nil {
		s.logger.Warn("cleaning up scratch directories", "error", err)
	} else if n > 0 {
		s.logger.Info("removed leftover scratch directories", "count", n)
	}

	s.logger.Info("save started", "source", source)

	draft, err := s.store.Save(ctx, source, req.Name, req.MoreInfo)
	if err != nil {
		return nil, err
	}

	existing, err := s.catalog.FindBackupByDigest(draft.Digest)
	if err != nil {
		return nil, fmt.Errorf("checking catalog: %w", err)
	}
	if existing != nil {
		s.logger.Info("content already saved", "digest", draft.Digest, "existing", existing.Name)
		return nil, &DuplicateDigestError{Existing: existing}
	}

	rec := draft.Record()
	id, err := s.catalog.CreateBackup(rec)
	if err != nil {
		return nil, fmt.Errorf("recording snapshot: %w", err)
	}
	rec.ID = id

	result := &SaveResult{Record: rec, Deduplicated: draft.Deduplicated}
	if s.mirror != nil && !draft.Deduplicated {
		if err := s.mirror.PutSnapshot(ctx, SnapshotName(rec.Digest), rec.StoragePath); err != nil {
			s.logger.Warn("mirroring snapshot failed", "name", SnapshotName(rec.Digest), "error", err)
			result.MirrorErr = err
		}
	}

	s.logger.Info("save complete", "id", rec.ID, "name", rec.Name, "digest", rec.Digest, "size", rec.Size)
	return result, nil
}

// Restore restores the snapshot with the given catalog id over target.
// An empty target restores over the configured save directory.
func (s *Service) Restore(ctx context.Context, id int64, target string) (*RestoreResult, error) {
	rec, err := s.findRecord(id)
	if err != nil {
		return nil, err
	}

	if target == "" {
		target, err = s.paths.SourcePath()
		if err != nil {
			return nil, fmt.Errorf("resolving restore target: %w", err)
		}
	}

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.logger.Info("restore started", "id", id, "name", rec.Name, "target", target)
	return s.restorer.Restore(ctx, rec, target)
}

// OnRestoreState registers fn to be called on every restore state transition.
func (s *Service) OnRestoreState(fn func(RestoreState)) {
	s.restorer.OnState = fn
}

// Verify re-fingerprints the stored snapshot for id without restoring it.
func (s *Service) Verify(ctx context.Context, id int64) (*BackupRecord, error) {
	rec, err := s.findRecord(id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.restorer.Verify(rec); err != nil {
		return rec, err
	}
	s.logger.Info("snapshot verified", "id", id, "name", rec.Name)
	return rec, nil
}

// Delete removes the catalog record for id and then its stored snapshot.
// A snapshot that cannot be removed is reported with its path; it holds no
// record, so a later save of the same content reuses it.
func (s *Service) Delete(ctx context.Context, id int64) (*BackupRecord, error) {
	rec, err := s.findRecord(id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.catalog.DeleteBackup(rec.ID); err != nil {
		return nil, fmt.Errorf("deleting catalog record: %w", err)
	}
	if err := s.store.Delete(rec.Digest); err != nil {
		s.logger.Error("snapshot left without a catalog record", "id", rec.ID, "path", rec.StoragePath, "error", err)
		return rec, fmt.Errorf("backup %d removed from catalog, snapshot left at %s: %w", rec.ID, rec.StoragePath, err)
	}

	if s.mirror != nil {
		if err := s.mirror.DeleteSnapshot(ctx, SnapshotName(rec.Digest)); err != nil {
			s.logger.Warn("deleting mirrored snapshot failed", "name", SnapshotName(rec.Digest), "error", err)
		}
	}

	s.logger.Info("backup deleted", "id", rec.ID, "name", rec.Name)
	return rec, nil
}

// List returns all catalog records, newest first.
func (s *Service) List() ([]*BackupRecord, error) {
	recs, err := s.catalog.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	return recs, nil
}

// Stats summarizes the catalog.
type Stats struct {
	BackupCount int
	TotalSize   uint64
	// Ready is true when the configured save directory passes validation.
	Ready bool
}

// Stats returns the snapshot count, their combined size and whether the
// configured save directory is ready to be saved.
func (s *Service) Stats() (*Stats, error) {
	recs, err := s.List()
	if err != nil {
		return nil, err
	}
	st := &Stats{BackupCount: len(recs)}
	for _, r := range recs {
		st.TotalSize += r.Size
	}
	if src, err := s.paths.SourcePath(); err == nil {
		st.Ready = s.ValidateSource(src) == nil
	}
	return st, nil
}

// ValidateSource checks that path is an existing directory containing every
// entry in RequiredEntries.
func (s *Service) ValidateSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("save directory %s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("stat save directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", path, ErrInvalidSource)
	}

	var missing []string
	for _, name := range s.RequiredEntries {
		if _, err := os.Stat(filepath.Join(path, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is missing %v: %w", path, missing, ErrInvalidSource)
	}
	return nil
}

func (s *Service) resolveSource(source string) (string, error) {
	if source == "" {
		p, err := s.paths.SourcePath()
		if err != nil {
			return "", fmt.Errorf("no save directory configured: %w", err)
		}
		source = p
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolving source: %w", err)
	}
	return abs, nil
}

func (s *Service) findRecord(id int64) (*BackupRecord, error) {
	rec, err := s.catalog.FindBackupByID(id)
	if err != nil {
		return nil, fmt.Errorf("finding backup %d: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("backup %d: %w", id, ErrNotFound)
	}
	return rec, nil
}
