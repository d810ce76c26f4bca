package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the chapters table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chapters (
		id INTEGER PRIMARY KEY,
		series TEXT NOT NULL,
		chapter TEXT NOT NULL,
		url TEXT,
		status TEXT DEFAULT 'downloading',
		artifact_path TEXT,
		pages INTEGER DEFAULT 0,
		failed_pages INTEGER DEFAULT 0,
		updated_at DATETIME,
		UNIQUE(series, chapter)
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create chapters table: %w", err)
	}

	return db, nil
}
