package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"svld/internal/database/migrations"
	"svld/internal/svld"
)

// SQLiteDatabase is the snapshot catalog and operation log, stored in SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path, now: time.Now}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db, now: time.Now}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Backup catalog

const backupColumns = "id, name, digest, size, storage_path, save_time, more_info"

func (s *SQLiteDatabase) CreateBackup(rec *svld.BackupRecord) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO backups (name, digest, size, storage_path, save_time, more_info) VALUES (?, ?, ?, ?, ?, ?)",
		rec.Name, rec.Digest, int64(rec.Size), rec.StoragePath, rec.SaveTime.UTC().Format(time.RFC3339), rec.MoreInfo,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			existing, findErr := s.FindBackupByDigest(rec.Digest)
			if findErr != nil {
				return 0, fmt.Errorf("creating backup: %w", svld.ErrDuplicateDigest)
			}
			return 0, &svld.DuplicateDigestError{Existing: existing}
		}
		return 0, fmt.Errorf("creating backup: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading backup id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) ListBackups() ([]*svld.BackupRecord, error) {
	rows, err := s.db.Query("SELECT " + backupColumns + " FROM backups ORDER BY save_time DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	defer rows.Close()

	var recs []*svld.BackupRecord
	for rows.Next() {
		rec, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("listing backups: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	return recs, nil
}

func (s *SQLiteDatabase) FindBackupByID(id int64) (*svld.BackupRecord, error) {
	rec, err := scanBackup(s.db.QueryRow("SELECT "+backupColumns+" FROM backups WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding backup by id: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) FindBackupByDigest(digest string) (*svld.BackupRecord, error) {
	rec, err := scanBackup(s.db.QueryRow("SELECT "+backupColumns+" FROM backups WHERE digest = ?", digest))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding backup by digest: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) DeleteBackup(id int64) error {
	res, err := s.db.Exec("DELETE FROM backups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting backup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting backup: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("backup %d: %w", id, svld.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*svld.BackupRecord, error) {
	var (
		rec      svld.BackupRecord
		size     int64
		saveTime string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Digest, &size, &rec.StoragePath, &saveTime, &rec.MoreInfo); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, saveTime)
	if err != nil {
		return nil, fmt.Errorf("parsing save_time %q: %w", saveTime, err)
	}
	rec.Size = uint64(size)
	rec.SaveTime = t
	return &rec, nil
}

// Backup operation tracking

func (s *SQLiteDatabase) CreateBackupOperation(operation string, parameters string) (*svld.BackupOperation, error) {
	op := &svld.BackupOperation{
		StartedAt:  s.now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}
	res, err := s.db.Exec(
		"INSERT INTO backup_operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)",
		op.StartedAt, op.Operation, op.Parameters, op.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating backup operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating backup operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishBackupOperation(id int64, status string) error {
	_, err := s.db.Exec(
		"UPDATE backup_operations SET finished_at = ?, status = ? WHERE id = ?",
		s.now().UTC(), status, id,
	)
	if err != nil {
		return fmt.Errorf("finishing backup operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListBackupOperations(limit int) ([]*svld.BackupOperation, error) {
	rows, err := s.db.Query(
		"SELECT id, started_at, finished_at, operation, parameters, status FROM backup_operations ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing backup operations: %w", err)
	}
	defer rows.Close()

	var ops []*svld.BackupOperation
	for rows.Next() {
		var op svld.BackupOperation
		if err := rows.Scan(&op.ID, &op.StartedAt, &op.FinishedAt, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("listing backup operations: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing backup operations: %w", err)
	}
	return ops, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// MigrationStatus reports the schema version against the latest known version.
func (s *SQLiteDatabase) MigrationStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ svld.Catalog      = (*SQLiteDatabase)(nil)
	_ svld.OperationLog = (*SQLiteDatabase)(nil)
)
