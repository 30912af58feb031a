// Package duckdb is the file-native backend, built on DuckDB through
// github.com/marcboeker/go-duckdb.
//
// External files are exposed as views over DuckDB's table functions
// (read_csv_auto, read_json_auto, read_ndjson_auto, read_parquet), so an
// attached alias is queried like any other table and DuckDB re-reads the
// file on every query.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/rql"
)

// Options configure the engine.
type Options struct {
	// Path is the database file. Empty opens an in-memory database.
	Path string

	// Threads bounds DuckDB's worker pool. Zero keeps the engine default.
	Threads int
}

// Backend is the DuckDB adapter. DuckDB manages its own thread pool and
// connection-level concurrency; the mutex only guards Close.
type Backend struct {
	mu     sync.RWMutex
	db     *sql.DB
	opts   Options
	closed bool
}

var _ backend.Backend = (*Backend)(nil)

// Open opens (or creates) a DuckDB database.
func Open(opts Options) (*Backend, error) {
	db, err := sql.Open("duckdb", dsn(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Backend{db: db, opts: opts}, nil
}

// dsn builds the connector string: path plus DuckDB config options as
// query parameters.
func dsn(opts Options) string {
	if opts.Threads <= 0 {
		return opts.Path
	}
	q := url.Values{}
	q.Set("threads", strconv.Itoa(opts.Threads))
	return opts.Path + "?" + q.Encode()
}

// ID implements backend.Backend.
func (b *Backend) ID() backend.ID { return backend.DuckDB }

// Execute implements backend.Backend.
func (b *Backend) Execute(ctx context.Context, req backend.Request) (*ir.ResultSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, mapError("execute", sql.ErrConnDone)
	}
	return backend.RunSQL(ctx, b.db, req, mapError)
}

// DescribeSchema implements backend.Backend. Lists base tables before views,
// each group by name, columns in declaration order.
func (b *Backend) DescribeSchema(ctx context.Context) ([]backend.TableInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, mapError("describe schema", sql.ErrConnDone)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT t.table_name, t.table_type, c.column_name, c.data_type
		FROM information_schema.tables t
		JOIN information_schema.columns c
		  ON c.table_catalog = t.table_catalog
		 AND c.table_schema = t.table_schema
		 AND c.table_name = t.table_name
		WHERE t.table_schema = 'main' AND t.table_catalog = current_database()
		ORDER BY t.table_type, t.table_name, c.ordinal_position`)
	if err != nil {
		return nil, mapError("describe schema", err)
	}
	defer rows.Close()

	var tables []backend.TableInfo
	for rows.Next() {
		var name, kind, col, typ string
		if err := rows.Scan(&name, &kind, &col, &typ); err != nil {
			return nil, mapError("describe schema", err)
		}
		if n := len(tables); n == 0 || tables[n-1].Name != name {
			tables = append(tables, backend.TableInfo{Name: name, Kind: tableKind(kind)})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, ir.Column{Name: col, Type: typ, Ordinal: len(t.Columns)})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("describe schema", err)
	}
	return tables, nil
}

func tableKind(infoSchemaType string) string {
	if infoSchemaType == "VIEW" {
		return "view"
	}
	return "table"
}

// RegisterExternal implements backend.Backend by creating (or replacing) a
// view named alias over the file. DuckDB binds the view immediately, so a
// missing or unreadable file fails here rather than at first query.
func (b *Backend) RegisterExternal(ctx context.Context, src backend.Source, alias string) error {
	reader, err := readerFor(src)
	if err != nil {
		return mapError("register external", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return mapError("register external", sql.ErrConnDone)
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", backend.QuoteIdent(alias), reader)
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return mapError("register external", err)
	}
	return nil
}

// readerFor returns the table-function call that reads src.
func readerFor(src backend.Source) (string, error) {
	loc := backend.QuoteLiteral(src.Location)
	switch src.Kind {
	case rql.SourceCSV:
		return fmt.Sprintf("read_csv_auto(%s)", loc), nil
	case rql.SourceTSV:
		return fmt.Sprintf("read_csv_auto(%s, delim = '\t')", loc), nil
	case rql.SourceJSON:
		return fmt.Sprintf("read_json_auto(%s)", loc), nil
	case rql.SourceNDJSON:
		return fmt.Sprintf("read_ndjson_auto(%s)", loc), nil
	case rql.SourceParquet:
		return fmt.Sprintf("read_parquet(%s)", loc), nil
	}
	return "", fmt.Errorf("source kind %q: %w", src.Kind, backend.ErrUnsupported)
}

// DropExternal implements backend.Backend.
func (b *Backend) DropExternal(ctx context.Context, alias string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return mapError("drop external", sql.ErrConnDone)
	}
	if _, err := b.db.ExecContext(ctx, "DROP VIEW IF EXISTS "+backend.QuoteIdent(alias)); err != nil {
		return mapError("drop external", err)
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// mapError converts a native DuckDB error into a backend execution failure,
// keeping the engine message as the wrapped error.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *ir.Error
	if errors.As(err, &ie) && ie.Kind != ir.KindInternal {
		return err
	}
	return ir.NewBackendError(string(backend.DuckDB), op, err)
}
