// Package store is the SQLite flight recorder for session, state and
// instruction history.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DefaultListLimit caps List* queries when the caller passes a non-positive limit.
const DefaultListLimit = 100

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Prune keeps the newest keep rows of every log table.
func (db *DB) Prune(keep int) error {
	for _, table := range []string{"session_log", "transitions", "instruction_log"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM %s) - ?`, table, table)
		if _, err := db.Exec(q, keep); err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
