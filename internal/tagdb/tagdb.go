// Package tagdb persists detection sessions and accepted detections to
// SQLite. The schema is managed by embedded migrations applied at open.
package tagdb

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

// DevMode switches getMigrationsFS to read migration files from the
// working tree instead of the embedded copy.
var DevMode bool

//go:embed migrations
var migrationsFS embed.FS

// getMigrationsFS returns the migrations filesystem (embedded in
// production, local files in dev).
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/tagdb/migrations"), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}

type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database with the session PRAGMAs applied and without
// touching the schema. Migrations manage the schema.
func OpenDB(path string) (*DB, error) {
	// The _pragma parameters are applied to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get migrations filesystem: %w", err)
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}

	version, dirty, err := db.MigrateVersion(migrations)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[TagDB] database %s ready at schema version %d (dirty: %v)", path, version, dirty)

	return db, nil
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string { return db.path }
