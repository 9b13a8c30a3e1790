package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DB wraps the SQLite connection backing registry.db, the daemon's
// record of which sessions exist. Conversation state never lands here.
type DB struct {
	*sql.DB
}

// Open opens the registry database at path, creating it when missing.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry db: %w", err)
	}
	return &DB{db}, nil
}
