package ir

import "fmt"

// Column describes one result field.
type Column struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`       // Declared type name as reported by the engine (may be empty)
	Ordinal int    `json:"ordinal" yaml:"ordinal"` // 0-based, dense, unique within a ResultSet
}

// Row is one tuple of values. Its length always equals the column count of
// the ResultSet it belongs to.
type Row struct {
	Values []Value
}

// ResultSet is the uniform output of every executed statement.
//
// For queries Columns and Rows are populated and RowsAffected is nil.
// For mutations and definitions Columns and Rows may be empty while
// RowsAffected is set. LastInsertID is set only when the engine reports one.
type ResultSet struct {
	Columns      []Column
	Rows         []Row
	RowsAffected *int64
	LastInsertID *int64
}

// NewResultSet creates a ResultSet whose columns are named in order.
// Ordinals are assigned from position, so they are dense by construction.
func NewResultSet(names ...string) *ResultSet {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Ordinal: i}
	}
	return &ResultSet{Columns: cols}
}

// NewResultSetFromColumns creates a ResultSet from column metadata, renumbering
// ordinals from position.
func NewResultSetFromColumns(cols []Column) *ResultSet {
	out := make([]Column, len(cols))
	for i, c := range cols {
		c.Ordinal = i
		out[i] = c
	}
	return &ResultSet{Columns: out}
}

// NewExecResult creates the result of a mutation or definition.
func NewExecResult(rowsAffected int64) *ResultSet {
	return &ResultSet{RowsAffected: &rowsAffected}
}

// AppendRow adds one row. The value count must equal the column count;
// a row is never partially populated.
func (rs *ResultSet) AppendRow(values ...Value) error {
	if len(values) != len(rs.Columns) {
		return NewInternalError(fmt.Sprintf("row has %d values, result has %d columns", len(values), len(rs.Columns)))
	}
	row := make([]Value, len(values))
	for i, v := range values {
		if v == nil {
			v = Null{}
		}
		row[i] = v
	}
	rs.Rows = append(rs.Rows, Row{Values: row})
	return nil
}

// ColumnNames returns the column names in ordinal order.
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// IsQuery reports whether the result came from a row-returning statement.
func (rs *ResultSet) IsQuery() bool {
	return rs.RowsAffected == nil
}

// Validate checks the shape invariants: ordinals are 0-based, dense and
// unique, and every row is exactly as wide as the column list.
func (rs *ResultSet) Validate() error {
	for i, c := range rs.Columns {
		if c.Ordinal != i {
			return NewInternalError(fmt.Sprintf("column %q has ordinal %d at position %d", c.Name, c.Ordinal, i))
		}
	}
	for i, r := range rs.Rows {
		if len(r.Values) != len(rs.Columns) {
			return NewInternalError(fmt.Sprintf("row %d has %d values, result has %d columns", i, len(r.Values), len(rs.Columns)))
		}
	}
	return nil
}
