package harness

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/executor"
	"github.com/roach88/noctra/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Phase, event.Query, event.Outcome)
		}
	}
	return buf.String()
}

// checkExpect compares a step's outcome with its expect clause and returns
// a description of the first mismatch, or "" if it matches.
func checkExpect(want *Expect, rs *ir.ResultSet, err error) string {
	if want == nil {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
		return ""
	}

	if want.Error != "" {
		if err == nil {
			return fmt.Sprintf("expected error %s, got success", want.Error)
		}
		if got := ir.KindOf(err); string(got) != want.Error {
			return fmt.Sprintf("expected error %s, got %s: %v", want.Error, got, err)
		}
		return ""
	}
	if err != nil {
		return fmt.Sprintf("unexpected error: %v", err)
	}

	if want.Columns != nil && !slices.Equal(want.Columns, rs.ColumnNames()) {
		return fmt.Sprintf("columns: expected %v, got %v", want.Columns, rs.ColumnNames())
	}
	if want.Rows != nil {
		if msg := compareRows(want.Rows, rs); msg != "" {
			return msg
		}
	}
	if want.RowsAffected != nil {
		if rs.RowsAffected == nil {
			return fmt.Sprintf("rows_affected: expected %d, got a query result", *want.RowsAffected)
		}
		if *rs.RowsAffected != *want.RowsAffected {
			return fmt.Sprintf("rows_affected: expected %d, got %d", *want.RowsAffected, *rs.RowsAffected)
		}
	}
	return ""
}

// compareRows checks rows in order, cell by cell.
func compareRows(want [][]any, rs *ir.ResultSet) string {
	if len(want) != len(rs.Rows) {
		return fmt.Sprintf("rows: expected %d, got %d", len(want), len(rs.Rows))
	}
	for i, row := range want {
		got := rs.Rows[i].Values
		if len(row) != len(got) {
			return fmt.Sprintf("rows[%d]: expected %d values, got %d", i, len(row), len(got))
		}
		for j, cell := range row {
			if !valuesMatch(cell, got[j]) {
				return fmt.Sprintf("rows[%d][%d]: expected %v, got %s (%s)", i, j, cell, got[j], ir.TypeName(got[j]))
			}
		}
	}
	return ""
}

// valuesMatch compares a YAML-decoded value with a result value. NULL
// matches only NULL, integers and floats compare numerically, and anything
// else falls back to the rendered text, which covers engine types such as
// dates that have no YAML counterpart.
func valuesMatch(expected any, actual ir.Value) bool {
	want := ir.FromNative(expected)
	if ir.IsNull(want) || ir.IsNull(actual) {
		return ir.IsNull(want) && ir.IsNull(actual)
	}
	if c, ok := ir.Compare(want, actual); ok {
		return c == 0
	}
	if a, ok := asFloat(want); ok {
		if b, ok := asFloat(actual); ok {
			return a == b
		}
	}
	return want.String() == actual.String()
}

func asFloat(v ir.Value) (float64, bool) {
	switch x := v.(type) {
	case ir.Int:
		return float64(x), true
	case ir.Float:
		if math.IsNaN(float64(x)) {
			return 0, false
		}
		return float64(x), true
	}
	return 0, false
}

// evaluateAssertions runs every assertion and returns one message per
// failure.
func (h *Harness) evaluateAssertions(ctx context.Context, trace []TraceEvent) []string {
	var errs []string
	for i, a := range h.scenario.Assertions {
		if err := h.evaluate(ctx, a, trace); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, trace []TraceEvent) error {
	switch a.Type {
	case AssertQueryRows:
		return h.assertQueryRows(ctx, a, trace)
	case AssertVarEquals:
		return h.assertVarEquals(a, trace)
	case AssertSourceRegistered:
		return h.assertSourceRegistered(a, trace)
	case AssertHistoryCount:
		return h.assertHistoryCount(a, trace)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertQueryRows runs a query in a separate session so that it does not
// show up in the scenario's history. Attachments are shared and stay
// visible.
func (h *Harness) assertQueryRows(ctx context.Context, a Assertion, trace []TraceEvent) error {
	rs, err := h.exec.Execute(ctx, newSession(h.scenario), executor.Query{Text: h.expand(a.Query)})
	if err != nil {
		return &AssertionError{
			Type:     AssertQueryRows,
			Expected: fmt.Sprintf("%s to succeed", a.Query),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	if msg := compareRows(a.Rows, rs); msg != "" {
		return &AssertionError{
			Type:     AssertQueryRows,
			Expected: fmt.Sprintf("%s to return %v", a.Query, a.Rows),
			Actual:   msg,
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertVarEquals(a Assertion, trace []TraceEvent) error {
	v, ok := h.sess.GetVar(a.Name)
	if !ok {
		return &AssertionError{
			Type:     AssertVarEquals,
			Expected: fmt.Sprintf("@%s = %v", a.Name, a.Value),
			Actual:   "variable not set",
			Trace:    trace,
		}
	}
	if !valuesMatch(a.Value, v) {
		return &AssertionError{
			Type:     AssertVarEquals,
			Expected: fmt.Sprintf("@%s = %v", a.Name, a.Value),
			Actual:   fmt.Sprintf("@%s = %s (%s)", a.Name, v, ir.TypeName(v)),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertSourceRegistered(a Assertion, trace []TraceEvent) error {
	entry, ok := h.exec.Registry().Lookup(a.Alias)
	if !ok {
		return &AssertionError{
			Type:     AssertSourceRegistered,
			Expected: fmt.Sprintf("alias %s registered", a.Alias),
			Actual:   "not registered",
			Trace:    trace,
		}
	}
	if a.Backend != "" && entry.Owner != backend.ID(a.Backend) {
		return &AssertionError{
			Type:     AssertSourceRegistered,
			Expected: fmt.Sprintf("alias %s owned by %s", a.Alias, a.Backend),
			Actual:   fmt.Sprintf("owned by %s", entry.Owner),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertHistoryCount(a Assertion, trace []TraceEvent) error {
	count := 0
	for _, entry := range h.sess.History() {
		if a.Outcome == "" || string(entry.Outcome) == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		what := "history entries"
		if a.Outcome != "" {
			what = a.Outcome + " history entries"
		}
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}
