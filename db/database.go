// Package db persists generation history and training job status in a
// local SQLite database.
//
//	database, err := db.Open(db.Config{Path: "data/history.db"})
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//	repo := db.NewRepository(database)
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("db: database is closed")

// Config configures Open.
type Config struct {
	Path string
	// Connection overrides DefaultConnectionConfig(Path).
	Connection *ConnectionConfig
}

// Database owns the SQLite connection.
type Database struct {
	mu   sync.RWMutex
	conn *sql.DB
	path string
}

// Open creates the parent directory, applies pending migrations and opens
// the connection.
func Open(cfg Config) (*Database, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	if err := migratePath(cfg.Path); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	connCfg := DefaultConnectionConfig(cfg.Path)
	if cfg.Connection != nil {
		connCfg = *cfg.Connection
		connCfg.Path = cfg.Path
	}
	conn, err := NewSQLiteConnection(connCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	return &Database{conn: conn, path: cfg.Path}, nil
}

// DB returns the connection, or nil after Close.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Version reports the applied schema version using a separate connection.
func (d *Database) Version() (uint, bool, error) {
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(d.path))
	if err != nil {
		return 0, false, err
	}
	return MigrationVersion(conn)
}

// Close checkpoints the WAL and closes the connection. Calling it twice is
// safe.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	_, _ = d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := d.conn.Close()
	d.conn = nil
	return err
}
