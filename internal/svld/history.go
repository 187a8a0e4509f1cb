package svld

import (
	"database/sql"
	"fmt"
	"time"
)

// BackupOperation is one recorded CLI operation that mutated the backup root.
type BackupOperation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string
}

// OperationLog persists BackupOperation rows.
type OperationLog interface {
	CreateBackupOperation(operation, parameters string) (*BackupOperation, error)
	FinishBackupOperation(id int64, status string) error
	// ListBackupOperations returns up to limit operations, newest first.
	ListBackupOperations(limit int) ([]*BackupOperation, error)
}

// GetHistory returns the most recent backup operations, ordered newest first.
func (s *Service) GetHistory(limit int) ([]*BackupOperation, error) {
	if s.history == nil {
		return nil, nil
	}
	ops, err := s.history.ListBackupOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing backup operations: %w", err)
	}
	return ops, nil
}
