package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection holding annotation logs
type DB struct {
	conn *sql.DB
	Path string
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id          INTEGER PRIMARY KEY,
	path        TEXT NOT NULL UNIQUE,
	fingerprint TEXT NOT NULL DEFAULT '',
	saved_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS annotations (
	source_id    INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	id           TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	attribute    TEXT NOT NULL,
	new_value    TEXT NOT NULL,
	baseline     TEXT,
	status       TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	committed_at INTEGER,
	supersedes   TEXT,
	PRIMARY KEY (source_id, position),
	UNIQUE (source_id, id)
);
CREATE INDEX IF NOT EXISTS idx_annotations_entity ON annotations(source_id, entity_id);
`

// OpenDB opens a SQLite database with WAL mode and foreign keys enabled
// and creates the annotation tables if needed.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{conn: conn, Path: path}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (d *DB) Conn() *sql.DB {
	return d.conn
}
