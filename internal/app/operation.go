package app

import "strings"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// BackupOperation tracks a CLI operation that may change the backup root.
// Operations are created in memory with ID=0. Only mutating commands
// (save, restore, delete) persist them, giving them an ID from the catalog.
type BackupOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewBackupOperation creates a new in-memory backup operation.
// args are recorded space-separated as the operation's parameters.
func NewBackupOperation(operation string, args ...string) *BackupOperation {
	return &BackupOperation{
		Operation:  operation,
		Parameters: strings.Join(args, " "),
		Status:     statusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *BackupOperation) Persisted() bool {
	return op.ID != 0
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *BackupOperation) Record(err error) error {
	if err != nil {
		op.Status = statusError
	}
	return err
}
