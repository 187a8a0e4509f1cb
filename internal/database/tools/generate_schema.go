// Command generate_schema migrates an empty catalog and writes the
// resulting schema to internal/database/schema.sql. It fails when the
// migrated schema lacks a constraint the catalog code depends on.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"svld/internal/database"
	"svld/internal/database/migrations"
)

const schemaHeader = `-- This file is auto-generated from migration files.
-- DO NOT EDIT MANUALLY. Run 'go generate ./internal/database' to regenerate.
-- Source: internal/database/migrations/files/*.sql

`

// requiredColumns are read by scanBackup and scanned operations.
var requiredColumns = map[string][]string{
	"backups":           {"id", "name", "digest", "size", "storage_path", "save_time", "more_info"},
	"backup_operations": {"id", "started_at", "finished_at", "operation", "parameters", "status"},
}

func main() {
	outPath := filepath.Join("internal", "database", "schema.sql")
	if err := generate(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("generated %s\n", outPath)
}

func generate(outPath string) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	if err := checkCatalogSchema(db); err != nil {
		return err
	}

	schema, err := extractSchema(db)
	if err != nil {
		return fmt.Errorf("extracting schema: %w", err)
	}
	return os.WriteFile(outPath, []byte(schema), 0644)
}

// checkCatalogSchema verifies the columns the catalog reads and the unique
// digest index that turns a duplicate save into ErrDuplicateDigest.
func checkCatalogSchema(db *sql.DB) error {
	for table, want := range requiredColumns {
		have := make(map[string]bool)
		rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
		if err != nil {
			return fmt.Errorf("reading columns of %s: %w", table, err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("reading columns of %s: %w", table, err)
			}
			have[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading columns of %s: %w", table, err)
		}
		for _, col := range want {
			if !have[col] {
				return fmt.Errorf("table %s is missing column %s", table, col)
			}
		}
	}

	var unique int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM pragma_index_list('backups') AS il
		JOIN pragma_index_info(il.name) AS ii
		WHERE il."unique" = 1
		  AND ii.name = 'digest'
		  AND (SELECT COUNT(*) FROM pragma_index_info(il.name)) = 1
	`).Scan(&unique)
	if err != nil {
		return fmt.Errorf("reading indexes of backups: %w", err)
	}
	if unique == 0 {
		return fmt.Errorf("backups.digest has no unique index")
	}
	return nil
}

// extractSchema returns the CREATE statements of all tables and indexes,
// tables first, without SQLite internals and the migration bookkeeping table.
func extractSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY type DESC, name
	`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var stmts []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", err
		}
		stmts = append(stmts, stmt+";")
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return schemaHeader + strings.Join(stmts, "\n\n") + "\n", nil
}
