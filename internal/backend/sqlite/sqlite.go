// Package sqlite is the relational-store backend, built on SQLite through
// github.com/mattn/go-sqlite3.
//
// # Database Configuration
//
//   - WAL mode for file databases (in-memory databases keep the default journal)
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - one pooled connection, so an in-memory database is a single database
//
// Every call is serialized behind the adapter's mutex. SQLite has one writer
// at a time, and a single connection means reads would queue anyway.
//
// External sources are not supported; RegisterExternal and DropExternal
// return backend.ErrUnsupported.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Backend is the SQLite adapter.
type Backend struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ backend.Backend = (*Backend)(nil)

// Open creates or opens a SQLite database at path. An empty path or
// ":memory:" opens a private in-memory database.
func Open(path string) (*Backend, error) {
	if path == "" {
		path = MemoryPath
	}

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := applyPragmas(db, isMemory(path)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &Backend{db: db, path: path}, nil
}

func isMemory(path string) bool {
	return path == MemoryPath || strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, memory bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !memory {
		pragmas = append([]string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// ID implements backend.Backend.
func (b *Backend) ID() backend.ID { return backend.SQLite }

// Path returns the database path the backend was opened with.
func (b *Backend) Path() string { return b.path }

// Execute implements backend.Backend.
func (b *Backend) Execute(ctx context.Context, req backend.Request) (*ir.ResultSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, mapError("execute", sql.ErrConnDone)
	}
	return backend.RunSQL(ctx, b.db, req, mapError)
}

// DescribeSchema implements backend.Backend. Internal sqlite_ tables are
// omitted; tables are listed before views, each group by name.
func (b *Backend) DescribeSchema(ctx context.Context) ([]backend.TableInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, mapError("describe schema", sql.ErrConnDone)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY type ASC, name ASC`)
	if err != nil {
		return nil, mapError("describe schema", err)
	}
	var tables []backend.TableInfo
	for rows.Next() {
		var t backend.TableInfo
		if err := rows.Scan(&t.Name, &t.Kind); err != nil {
			rows.Close()
			return nil, mapError("describe schema", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError("describe schema", err)
	}
	rows.Close()

	for i := range tables {
		cols, err := b.tableColumns(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
	}
	return tables, nil
}

// tableColumns reads PRAGMA table_info for one table. Caller holds b.mu.
func (b *Backend) tableColumns(ctx context.Context, table string) ([]ir.Column, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT cid, name, type FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, mapError("table info", err)
	}
	defer rows.Close()

	var cols []ir.Column
	for rows.Next() {
		var c ir.Column
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.Type); err != nil {
			return nil, mapError("table info", err)
		}
		c.Ordinal = len(cols)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("table info", err)
	}
	return cols, nil
}

// RegisterExternal implements backend.Backend. Unsupported.
func (b *Backend) RegisterExternal(context.Context, backend.Source, string) error {
	return mapError("register external", backend.ErrUnsupported)
}

// DropExternal implements backend.Backend. Unsupported.
func (b *Backend) DropExternal(context.Context, string) error {
	return mapError("drop external", backend.ErrUnsupported)
}

// Close closes the database connection. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// mapError converts a native SQLite error into a backend execution failure.
// The sqlite3 result code is folded into the message so callers can tell a
// constraint violation from a missing table without importing the driver.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *ir.Error
	if errors.As(err, &ie) && ie.Kind != ir.KindInternal {
		return err
	}

	e := ir.NewBackendError(string(backend.SQLite), op, err)
	var se sqlite3.Error
	if errors.As(err, &se) {
		e.Message = fmt.Sprintf("%s: %s failed (%s)", backend.SQLite, op, se.Code)
	}
	return e
}
