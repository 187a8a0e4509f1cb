package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"svld/internal/config"
	"svld/internal/database"
	"svld/internal/fs"
	"svld/internal/mirror"
	"svld/internal/svld"
	"svld/internal/vault"
)

// SvldApp is the application layer between the CLI and svld.Service.
// It constructs all dependencies from config, records mutating commands in
// the operation log, and manages the catalog lifecycle on Close.
type SvldApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	vault   svld.Vault
	fsmgr   *fs.OSFilesystemManager
	mirror  *mirror.S3Mirror
	service *svld.Service
	op      *BackupOperation
	logger  svld.Logger
	logFile *os.File
}

// NewSvldApp creates a fully wired SvldApp from the given config.
// op identifies the CLI command being run. The caller must call Close when done.
func NewSvldApp(ctx context.Context, cfg *config.Config, op *BackupOperation) (*SvldApp, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("op", op.Operation)}

	a := &SvldApp{cfg: cfg, op: op, logger: logger, logFile: logFile}
	if err := a.wire(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *SvldApp) wire(ctx context.Context) error {
	cfg := a.cfg

	fsmgr, err := fs.NewOSFilesystemManager(fs.Options{
		Workers:    cfg.Copy.Workers,
		Strategies: cfg.Copy.Strategies,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating filesystem manager: %w", err)
	}
	a.fsmgr = fsmgr

	v, err := vault.NewVaultFromConfig(cfg.Vault)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	a.vault = v

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := a.prepareDatabase(); err != nil {
		return err
	}

	m, err := mirror.NewMirrorFromConfig(ctx, cfg.Mirror, fsmgr, a.logger)
	if err != nil {
		return fmt.Errorf("creating mirror: %w", err)
	}
	a.mirror = m

	deps := svld.ServiceDeps{
		Vault:   v,
		Fsmgr:   fsmgr,
		Catalog: db,
		History: db,
		Paths:   config.NewSourcePathProvider(cfg),
		Locker:  fs.NewFileLocker(filepath.Join(cfg.Vault.Root, fs.LockFileName), cfg.LockTimeout()),
		Logger:  a.logger,
	}
	if m != nil {
		deps.Mirror = m
	}
	a.service = svld.NewService(deps)
	a.service.RequiredEntries = cfg.Validation.RequiredEntries
	return nil
}

// prepareDatabase migrates a brand-new catalog and refuses one whose schema
// does not match this binary.
func (a *SvldApp) prepareDatabase() error {
	st, err := a.db.MigrationStatus()
	if err != nil {
		return fmt.Errorf("reading database schema version: %w", err)
	}
	if st.Version == 0 && !st.Dirty {
		a.logger.Info("initializing catalog", "path", a.db.Path())
		if err := a.db.Migrate(); err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		return nil
	}
	if err := a.db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}
	return nil
}

// persistOperation saves the backup operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *SvldApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateBackupOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting backup operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Save snapshots source (the configured save directory when empty).
func (a *SvldApp) Save(ctx context.Context, source, name, note string) (*svld.SaveResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	res, err := a.service.Save(ctx, svld.SaveRequest{Source: source, Name: name, MoreInfo: note})
	return res, a.op.Record(err)
}

// Restore restores backup id over target (the configured save directory when empty).
// onState, if non-nil, observes the restore's progress.
func (a *SvldApp) Restore(ctx context.Context, id int64, target string, onState func(svld.RestoreState)) (*svld.RestoreResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	if target != "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, a.op.Record(fmt.Errorf("resolving path: %w", err))
		}
		target = abs
	}
	a.service.OnRestoreState(onState)
	res, err := a.service.Restore(ctx, id, target)
	return res, a.op.Record(err)
}

// Delete removes backup id from disk, the catalog and the mirror.
func (a *SvldApp) Delete(ctx context.Context, id int64) (*svld.BackupRecord, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	rec, err := a.service.Delete(ctx, id)
	return rec, a.op.Record(err)
}

// Verify re-fingerprints backup id.
func (a *SvldApp) Verify(ctx context.Context, id int64) (*svld.BackupRecord, error) {
	return a.service.Verify(ctx, id)
}

// FindBackup returns the catalog record for id.
func (a *SvldApp) FindBackup(id int64) (*svld.BackupRecord, error) {
	rec, err := a.db.FindBackupByID(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("backup %d: %w", id, svld.ErrNotFound)
	}
	return rec, nil
}

// List returns all backups, newest first.
func (a *SvldApp) List() ([]*svld.BackupRecord, error) {
	return a.service.List()
}

// Stats summarizes the catalog.
func (a *SvldApp) Stats() (*svld.Stats, error) {
	return a.service.Stats()
}

// GetHistory returns the most recent backup operations.
func (a *SvldApp) GetHistory(limit int) ([]*svld.BackupOperation, error) {
	return a.service.GetHistory(limit)
}

// CheckResult is the outcome of one setup check.
type CheckResult struct {
	Name   string
	Detail string
	Err    error
}

// Check inspects the configured setup: save directory, backup root,
// catalog schema, copy strategies and mirror.
func (a *SvldApp) Check() []CheckResult {
	var results []CheckResult

	if src, err := config.NewSourcePathProvider(a.cfg).SourcePath(); err != nil {
		results = append(results, CheckResult{Name: "save directory", Err: err})
	} else {
		results = append(results, CheckResult{Name: "save directory", Detail: src, Err: a.service.ValidateSource(src)})
	}

	results = append(results, CheckResult{Name: "backup root", Detail: a.cfg.Vault.Root, Err: a.vault.ValidateSetup()})
	results = append(results, CheckResult{Name: "catalog", Detail: a.db.Path(), Err: a.db.CheckMigrations()})
	results = append(results, CheckResult{Name: "copy strategies", Detail: fmt.Sprint(a.fsmgr.CopyStrategies())})

	mirrorDetail := "disabled"
	if a.mirror != nil {
		mirrorDetail = "s3://" + a.mirror.Bucket()
	}
	results = append(results, CheckResult{Name: "mirror", Detail: mirrorDetail})
	return results
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record and, when a mirror
// is configured, uploads a copy of the catalog.
func (a *SvldApp) Close() error {
	var firstErr error
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.db.FinishBackupOperation(a.op.ID, a.op.Status); err != nil {
			setErr(fmt.Errorf("finishing backup operation: %w", err))
		}
		if a.mirror != nil {
			if err := a.uploadCatalog(); err != nil {
				a.logger.Warn("catalog upload failed", "error", err)
				setErr(err)
			}
		}
	}

	if err := a.closeResources(); err != nil {
		setErr(err)
	}
	return firstErr
}

// uploadCatalog snapshots the catalog to a temp file and mirrors it as
// catalog/<host_id>.db.
func (a *SvldApp) uploadCatalog() error {
	tmpFile, err := os.CreateTemp("", "svld-db-backup-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for db backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.db.BackupTo(tmpPath); err != nil {
		return err
	}
	if err := a.mirror.PutFile(context.Background(), "catalog/"+a.cfg.HostID+".db", tmpPath); err != nil {
		return fmt.Errorf("uploading catalog: %w", err)
	}
	return nil
}

func (a *SvldApp) closeResources() error {
	var err error
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
