package svld

// Catalog is the persistent metadata store of snapshot records.
// Lookups that find nothing return (nil, nil).
type Catalog interface {
	// CreateBackup inserts rec and returns its assigned id. A record with
	// the same digest already present yields ErrDuplicateDigest.
	CreateBackup(rec *BackupRecord) (int64, error)

	// ListBackups returns all records, newest first.
	ListBackups() ([]*BackupRecord, error)

	// FindBackupByID returns the record with the given id.
	FindBackupByID(id int64) (*BackupRecord, error)

	// FindBackupByDigest returns the record holding digest.
	FindBackupByDigest(digest string) (*BackupRecord, error)

	// DeleteBackup removes the record with the given id.
	DeleteBackup(id int64) error

	// Close closes the underlying store.
	Close() error
}
