// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which needs a C compiler and makes
// cross-compilation painful. modernc.org/sqlite is a pure Go translation of
// the SQLite C code and works everywhere Go works.
//
// DATABASE/SQL OVERVIEW:
// Go's standard library provides "database/sql", a generic interface for SQL
// databases that works with any driver. Key types:
//   - sql.DB   : a connection pool (NOT a single connection!)
//   - sql.Row  : a single result row
//   - sql.Rows : multiple result rows (must be closed!)
//
// SCHEMA:
// Tables are created by goose from the SQL files embedded in ./migrations.
// goose tracks applied versions in goose_db_version, so New can run the
// migrations on every start.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/sakif/goal-tracker/internal/repository/sqlite/migrations"

	// BLANK IMPORT:
	// The sqlite package's init() registers a database/sql driver named
	// "sqlite". After this import, sql.Open("sqlite", ...) knows how to talk
	// to SQLite.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and hands out the per-table repositories.
//
//	db.Users()  → *UserDB  (repository.UserRepository)
//	db.Goals()  → *GoalDB  (repository.GoalRepository)
//	db.Tokens() → *TokenDB (repository.TokenRepository)
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/goals.db" → file-based database (persistent)
//   - ":memory:"      → in-memory database (tests; lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite allows one writer at a time, and every ":memory:" connection is
	// its own empty database. A single pooled connection gives both file and
	// in-memory databases the same behaviour, and the PRAGMAs below apply to
	// every query.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. goals.user_id and
	// auth_tokens.user_id depend on them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	if err := migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// newFromConn wraps an existing pool without running migrations.
// Tests use it with go-sqlmock to simulate driver failures.
func newFromConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Users returns the user repository backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Goals returns the goal repository backed by this database.
func (db *DB) Goals() *GoalDB {
	return &GoalDB{conn: db.conn}
}

// Tokens returns the auth token repository backed by this database.
func (db *DB) Tokens() *TokenDB {
	return &TokenDB{conn: db.conn}
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// The driver reports these as "constraint failed: UNIQUE constraint failed: users.email (2067)".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isNoRows reports whether err means the query matched no row.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
