// Package sqlite provides the durable, single-writer on-disk table used by
// LocalStore (C2) for refresh tokens and claims/ID-token records. Access
// tokens never touch disk — they live only in the volatile in-memory table
// in package memory.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/tanguilp/oauth2-token-manager/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a single-connection *sql.DB handle opened against a WAL-mode
// SQLite file, with the pragmas the durable table relies on for
// crash-safety. Reads and writes through the handle are serialized on that
// one connection; they do not run in parallel.
type DB struct {
	db *sql.DB
}

// DefaultDBPath returns the default location for the durable store file,
// under the user's configuration directory.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "oauth2-token-manager", "tokens.db")
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and configures it for use over a single connection.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: reads and writes from this process are serialized.
	// WAL lets readers on other connections to the file proceed alongside it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -2000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Debugf("opened token store database at %s", path)
	return &DB{db: db}, nil
}

// DB returns the underlying *sql.DB, for callers that need direct access
// (tests, migrations introspection).
func (d *DB) DB() *sql.DB { return d.db }

// Close flushes and closes the database handle.
func (d *DB) Close() error { return d.db.Close() }
