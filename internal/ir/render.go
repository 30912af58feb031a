package ir

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Table returns the result as a grid of strings: the column names as the
// header row followed by every row stringified per variant.
func (rs *ResultSet) Table() [][]string {
	grid := make([][]string, 0, len(rs.Rows)+1)
	grid = append(grid, rs.ColumnNames())
	for _, r := range rs.Rows {
		line := make([]string, len(r.Values))
		for i, v := range r.Values {
			line[i] = v.String()
		}
		grid = append(grid, line)
	}
	return grid
}

// WriteDelimited writes the result as delimiter-separated text with a header
// line. Nulls are written as empty fields.
func (rs *ResultSet) WriteDelimited(w io.Writer, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	if err := cw.Write(rs.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range rs.Rows {
		record := make([]string, len(r.Values))
		for j, v := range r.Values {
			if IsNull(v) {
				continue
			}
			record[j] = v.String()
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Document is the structured form of a ResultSet: the column list plus the
// ordered rows, with values converted to plain JSON/YAML scalars.
type Document struct {
	Columns      []Column `json:"columns" yaml:"columns"`
	Rows         [][]any  `json:"rows" yaml:"rows"`
	RowsAffected *int64   `json:"rows_affected,omitempty" yaml:"rows_affected,omitempty"`
	LastInsertID *int64   `json:"last_insert_id,omitempty" yaml:"last_insert_id,omitempty"`
}

// Document converts the result to its structured form.
func (rs *ResultSet) Document() Document {
	cols := rs.Columns
	if cols == nil {
		cols = []Column{}
	}
	rows := make([][]any, len(rs.Rows))
	for i, r := range rs.Rows {
		line := make([]any, len(r.Values))
		for j, v := range r.Values {
			line[j] = documentValue(v)
		}
		rows[i] = line
	}
	return Document{
		Columns:      cols,
		Rows:         rows,
		RowsAffected: rs.RowsAffected,
		LastInsertID: rs.LastInsertID,
	}
}

// documentValue maps a Value to a scalar both encoders render natively.
// Blobs use their hex text form.
func documentValue(v Value) any {
	switch x := v.(type) {
	case Blob:
		return x.String()
	case nil:
		return nil
	default:
		return x.Native()
	}
}

// WriteJSON writes the structured document as indented JSON.
func (rs *ResultSet) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rs.Document())
}

// WriteYAML writes the structured document as YAML.
func (rs *ResultSet) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rs.Document()); err != nil {
		return err
	}
	return enc.Close()
}
