package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the runs table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		archive_path TEXT NOT NULL,
		target_dir TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		stage TEXT,
		error TEXT,
		bytes_written INTEGER DEFAULT 0,
		expected_bytes INTEGER DEFAULT -1,
		entries INTEGER DEFAULT 0,
		instance TEXT,
		started_at TEXT,
		finished_at TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	return db, nil
}
