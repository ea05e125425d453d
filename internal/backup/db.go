// Package backup mirrors the in-memory message cache to SQLite so a
// restart can serve history without a cold bulk fetch. Writes are
// best-effort: a backup failure never fails a sync.
package backup

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding the cache mirror.
type DB struct {
	*sql.DB
}

// Open creates the SQLite connection with WAL mode and a busy timeout.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open backup db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping backup db: %w", err)
	}
	return &DB{db}, nil
}
