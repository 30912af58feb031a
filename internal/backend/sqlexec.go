package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/noctra/internal/ir"
)

// Conn is the subset of *sql.DB (or *sql.Conn) used by RunSQL.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ErrorMapper converts a native driver error into an *ir.Error.
type ErrorMapper func(op string, err error) error

// RunSQL executes req on conn through database/sql. Adapters call it with
// their own error mapper so driver errors never cross the backend boundary.
func RunSQL(ctx context.Context, conn Conn, req Request, mapErr ErrorMapper) (*ir.ResultSet, error) {
	args := ir.Natives(req.Args)

	if req.Mode == ModeExec {
		res, err := conn.ExecContext(ctx, req.SQL, args...)
		if err != nil {
			return nil, mapErr("exec", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, mapErr("rows affected", err)
		}
		rs := ir.NewExecResult(n)
		if id, err := res.LastInsertId(); err == nil && id != 0 {
			rs.LastInsertID = &id
		}
		return rs, nil
	}

	rows, err := conn.QueryContext(ctx, req.SQL, args...)
	if err != nil {
		return nil, mapErr("query", err)
	}
	defer rows.Close()

	rs, err := CollectRows(rows)
	if err != nil {
		return nil, mapErr("read rows", err)
	}
	return rs, nil
}

// CollectRows reads every row into a ResultSet. Column types come from the
// driver's declared type names.
func CollectRows(rows *sql.Rows) (*ir.ResultSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	cols := make([]ir.Column, len(types))
	for i, ct := range types {
		cols[i] = ir.Column{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName()), Ordinal: i}
	}
	rs := ir.NewResultSetFromColumns(cols)

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		vals := make([]ir.Value, len(cols))
		for i, v := range raw {
			vals[i] = ir.FromColumn(v, cols[i].Type)
		}
		if err := rs.AppendRow(vals...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

// QuoteIdent quotes an identifier with double quotes, doubling embedded
// quotes. Both engines accept the standard form.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal with single quotes.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
