package svld

// Vault is the on-disk snapshot store under the backup root.
// Each snapshot is a plain directory tree named after its digest prefix.
type Vault interface {
	// SnapshotPath returns the storage path for digest, whether or not a
	// snapshot exists there.
	SnapshotPath(digest string) string

	// Has reports whether a snapshot for digest is stored. It returns
	// ErrDigestCollision when the slot is occupied by a different digest.
	Has(digest string) (bool, error)

	// Put publishes a new snapshot. fill is called with an empty scratch
	// directory and must populate it; on success the scratch directory is
	// atomically renamed into place. Returns the final storage path.
	Put(digest string, fill func(dir string) error) (string, error)

	// Delete removes the snapshot for digest. Deleting a missing snapshot
	// is not an error.
	Delete(digest string) error

	// CleanupScratch removes scratch directories left behind by
	// interrupted saves and returns how many were removed.
	CleanupScratch() (int, error)

	// ValidateSetup verifies that the backup root is accessible.
	ValidateSetup() error
}
