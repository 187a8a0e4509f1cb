package database

import (
	"fmt"
	"os"
	"path/filepath"

	"svld/internal/config"
)

// NewDatabaseFromConfig opens the catalog database described by cfg.
// SQLite catalogs live at <data_dir>/<hostID>.db.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if hostID == "" {
			return nil, fmt.Errorf("host_id required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
