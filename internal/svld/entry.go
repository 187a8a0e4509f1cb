package svld

import "time"

// TreeEntry is the metadata of one descendant of a scanned directory.
// RelPath uses forward slashes regardless of platform. Directories carry
// Size 0. Modified is whole seconds since the Unix epoch, 0 when the
// timestamp is unavailable or predates the epoch.
type TreeEntry struct {
	RelPath  string
	Size     uint64
	Modified uint64
	IsDir    bool
}

// BackupRecord is one catalog row describing a stored snapshot.
type BackupRecord struct {
	ID          int64
	Name        string
	Digest      string
	Size        uint64
	StoragePath string
	SaveTime    time.Time
	MoreInfo    string
}

// SnapshotName is the on-disk directory name for a digest: "backup_" plus
// the first 12 hex characters.
func SnapshotName(digest string) string {
	prefix := digest
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return "backup_" + prefix
}
