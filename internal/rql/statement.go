package rql

import (
	"fmt"

	"github.com/xwb1989/sqlparser"

	"github.com/roach88/noctra/internal/ir"
)

// Statement is the parsed form of one RQL statement.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the router and executor.
//
// Statement types:
//   - Query: standard SQL passed through to a backend
//   - Attach: USE '<path>' AS <alias>
//   - SetVariable / UnsetVariable: session variable assignment
//   - Export: EXPORT <query> TO '<path>'
//   - Detach: DETACH <alias>
//   - Show: SHOW VARS | SOURCES | HISTORY
//
// Statements are immutable once produced.
type Statement interface {
	statementNode() // Marker method - seals interface to this package

	// Slots returns every placeholder occurrence in source order.
	Slots() []Slot

	// Parameters returns the distinct parameters the statement declares.
	Parameters() []Parameter
}

// SlotKind distinguishes the three placeholder syntaxes.
type SlotKind int

const (
	// SlotNamed is a :name parameter.
	SlotNamed SlotKind = iota
	// SlotPositional is a $n parameter (1-based).
	SlotPositional
	// SlotVariable is an @name session variable reference.
	SlotVariable
)

// Slot is one placeholder occurrence. Slots are bound in source order,
// which is also the order of the native ? placeholders in the backend text.
type Slot struct {
	Kind     SlotKind
	Name     string // named parameter or variable name
	Index    int    // positional index (1-based)
	TypeHint string // lower-cased type from a trailing ::type, empty if none
	Line     int
	Column   int
}

// Ref returns the placeholder as written: ":name", "$n" or "@name".
func (s Slot) Ref() string {
	switch s.Kind {
	case SlotPositional:
		return fmt.Sprintf("$%d", s.Index)
	case SlotVariable:
		return "@" + s.Name
	default:
		return ":" + s.Name
	}
}

// ParamKind distinguishes named from positional parameters.
type ParamKind int

const (
	// ParamNamed is referenced by name.
	ParamNamed ParamKind = iota
	// ParamPositional is referenced by 1-based index.
	ParamPositional
)

// Parameter is a distinct placeholder declared by a statement. Named
// parameters are listed in order of first appearance; positional
// parameters in strictly increasing index order.
type Parameter struct {
	Kind     ParamKind
	Name     string
	Index    int
	TypeHint string
}

// placeholders is embedded by every statement type.
type placeholders struct {
	slots  []Slot
	params []Parameter
}

// Slots implements Statement.
func (p placeholders) Slots() []Slot { return p.slots }

// Parameters implements Statement.
func (p placeholders) Parameters() []Parameter { return p.params }

// Class tells the executor how a passthrough statement behaves.
type Class int

const (
	// ClassQuery returns rows.
	ClassQuery Class = iota
	// ClassMutation changes rows and reports rows affected.
	ClassMutation
	// ClassDefinition changes the schema.
	ClassDefinition
)

func (c Class) String() string {
	switch c {
	case ClassQuery:
		return "query"
	case ClassMutation:
		return "mutation"
	case ClassDefinition:
		return "definition"
	}
	return "unknown"
}

// Query is a standard SQL statement passed through to one backend.
type Query struct {
	placeholders

	// Source is the statement as written.
	Source string

	// SQL is the backend text: every placeholder rewritten to a native ?.
	SQL string

	// AST is the general-grammar parse of SQL. For a WITH statement it
	// covers the statement after the common table expressions. For a
	// schema statement the grammar only partly knows, it is a *sqlparser.DDL
	// carrying the action and the table the statement names.
	AST sqlparser.Statement

	// With lists the common table expressions the statement declares,
	// including those of a CREATE ... AS query.
	With []CTE

	// Body is the query of CREATE TABLE ... AS or CREATE VIEW ... AS.
	Body sqlparser.Statement

	// Class is derived from the AST.
	Class Class
}

func (*Query) statementNode() {}

// CTE is one common table expression: WITH name AS (query).
type CTE struct {
	Name string
	AST  sqlparser.Statement
}

// SourceKind is the file type of an attached source.
type SourceKind string

const (
	SourceCSV     SourceKind = "csv"
	SourceTSV     SourceKind = "tsv"
	SourceJSON    SourceKind = "json"
	SourceNDJSON  SourceKind = "ndjson"
	SourceParquet SourceKind = "parquet"
)

// Attach registers an external file as a virtual table:
//
//	USE 'data.csv' AS t1
//	USE 'events.log' AS ev FORMAT ndjson
type Attach struct {
	placeholders
	Path  string
	Kind  SourceKind
	Alias string
}

func (*Attach) statementNode() {}

// SetVariable assigns a session variable:
//
//	SET x = 5
//	SET @name = :name
//	SET total = (SELECT count(*) FROM orders) + @bonus
//
// Literal is set for a lone literal and Expr for an expression; with
// neither, the value comes from the statement's single slot. Expr is a
// SELECT of the expression sharing the statement's slots.
type SetVariable struct {
	placeholders
	Name    string
	Literal ir.Value
	Expr    *Query
}

func (*SetVariable) statementNode() {}

// UnsetVariable removes a session variable: UNSET x.
type UnsetVariable struct {
	placeholders
	Name string
}

func (*UnsetVariable) statementNode() {}

// ExportFormat is the output format of an EXPORT directive.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportTSV  ExportFormat = "tsv"
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

// Export runs a query and writes its result to a file, or renders it
// inline when Path is empty:
//
//	EXPORT (SELECT * FROM users) TO 'users.csv'
//	EXPORT users TO 'users.out' FORMAT json
//	EXPORT users TO yaml
type Export struct {
	Query  *Query
	Path   string
	Format ExportFormat
}

func (*Export) statementNode() {}

// Slots implements Statement; an export binds its query's placeholders.
func (e *Export) Slots() []Slot { return e.Query.Slots() }

// Parameters implements Statement.
func (e *Export) Parameters() []Parameter { return e.Query.Parameters() }

// Detach unregisters an attached source: DETACH t1.
type Detach struct {
	placeholders
	Alias string
}

func (*Detach) statementNode() {}

// ShowTarget selects what SHOW lists.
type ShowTarget string

const (
	ShowVars    ShowTarget = "vars"
	ShowSources ShowTarget = "sources"
	ShowHistory ShowTarget = "history"
)

// Show lists session or registry state: SHOW VARS | SOURCES | HISTORY.
type Show struct {
	placeholders
	Target ShowTarget
}

func (*Show) statementNode() {}
