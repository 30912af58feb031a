// Package backend defines the capability contract every storage engine
// adapter satisfies, plus the database/sql plumbing the adapters share.
//
// Adapters form a closed set (sqlite, duckdb). Each one maps its native
// errors into ir.Error values of kind BACKEND_EXECUTION_FAILURE at its own
// boundary; nothing above this package sees a driver error type.
package backend

import (
	"context"
	"errors"

	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/rql"
)

// ID names a backend. IDs are the owner values stored in the registry.
type ID string

const (
	// SQLite is the relational-store adapter.
	SQLite ID = "sqlite"
	// DuckDB is the file-native adapter.
	DuckDB ID = "duckdb"
)

// ParseID validates a backend name from configuration.
func ParseID(s string) (ID, bool) {
	switch ID(s) {
	case SQLite, DuckDB:
		return ID(s), true
	}
	return "", false
}

// Mode selects how a request is executed.
type Mode int

const (
	// ModeQuery returns rows.
	ModeQuery Mode = iota
	// ModeExec returns rows affected (and the last insert id when known).
	ModeExec
)

func (m Mode) String() string {
	if m == ModeExec {
		return "exec"
	}
	return "query"
}

// Request is one statement ready for execution. SQL uses native ? markers;
// Args holds one value per marker, in order.
type Request struct {
	SQL  string
	Args []ir.Value
	Mode Mode
}

// Source is an external file to expose as a virtual table.
type Source struct {
	Kind     rql.SourceKind `json:"kind" yaml:"kind"`
	Location string         `json:"location" yaml:"location"`
}

// TableInfo describes one table or view visible in a backend.
type TableInfo struct {
	Name    string      `json:"name" yaml:"name"`
	Kind    string      `json:"kind" yaml:"kind"` // "table" or "view"
	Columns []ir.Column `json:"columns" yaml:"columns"`
}

// ErrUnsupported is returned (wrapped) by adapters for capabilities they do
// not provide, such as external sources on the relational store.
var ErrUnsupported = errors.New("operation not supported by this backend")

// Backend is the capability contract of a storage engine.
//
// Implementations must be safe for concurrent use; they decide internally
// whether to serialize.
type Backend interface {
	// ID identifies the backend.
	ID() ID

	// Execute runs one statement. Query mode reads every row eagerly.
	Execute(ctx context.Context, req Request) (*ir.ResultSet, error)

	// DescribeSchema lists the tables and views of the backend.
	DescribeSchema(ctx context.Context) ([]TableInfo, error)

	// RegisterExternal exposes the source under alias.
	RegisterExternal(ctx context.Context, src Source, alias string) error

	// DropExternal removes an alias created by RegisterExternal.
	DropExternal(ctx context.Context, alias string) error

	// Close releases the engine.
	Close() error
}
