// Package router decides which backend executes a statement.
//
// Routing is a pure function of the statement and the registry snapshot:
// the same statement against the same registry always yields the same
// target. No statement is ever split across backends.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/registry"
	"github.com/roach88/noctra/internal/rql"
)

// Target is where a statement runs.
type Target struct {
	// Control is true for dialect commands handled by the executor itself.
	Control bool

	// Backend is the owning backend of a passthrough statement.
	Backend backend.ID

	// Tables are the distinct table identifiers the statement references,
	// in first-appearance order.
	Tables []string
}

// Router resolves statements against a registry.
type Router struct {
	reg      *registry.Registry
	fallback backend.ID
}

// New creates a router. Statements that reference no table run on fallback.
func New(reg *registry.Registry, fallback backend.ID) *Router {
	return &Router{reg: reg, fallback: fallback}
}

// Route returns the target of stmt.
//
// Rules:
//   - USE, SET, UNSET, DETACH and SHOW go to the control plane
//   - a SET expression is evaluated where its query would run
//   - EXPORT goes wherever its query goes
//   - CREATE ... AS goes wherever its query goes
//   - a query with no table references goes to the fallback backend
//   - all references owned by one backend: that backend
//   - references owned by several backends: RoutingConflict
//   - a reference no backend owns: UnknownSource
//   - a schema statement naming an attached source: RegistryConflict
func (r *Router) Route(stmt rql.Statement) (Target, error) {
	switch s := stmt.(type) {
	case *rql.Query:
		return r.routeQuery(s)
	case *rql.Export:
		return r.routeQuery(s.Query)
	case *rql.SetVariable:
		if s.Expr == nil {
			return Target{Control: true}, nil
		}
		t, err := r.routeQuery(s.Expr)
		if err != nil {
			return Target{}, err
		}
		t.Control = true
		return t, nil
	case *rql.Attach, *rql.UnsetVariable, *rql.Detach, *rql.Show:
		return Target{Control: true}, nil
	}
	return Target{}, ir.NewInternalError("router: unhandled statement type")
}

func (r *Router) routeQuery(q *rql.Query) (Target, error) {
	if name := SchemaObject(q); name != "" {
		if e, ok := r.entry(name); ok && e.IsAttachment() {
			return Target{}, ir.NewRegistryConflictError(e.Alias,
				fmt.Sprintf("%s is an attached source; use DETACH %s", e.Alias, e.Alias))
		}
	}

	refs, lenient := References(q)
	if len(refs) == 0 {
		return Target{Backend: r.fallback}, nil
	}

	owners := make(map[backend.ID]bool)
	for _, name := range refs {
		e, ok := r.entry(name)
		owner := e.Owner
		if !ok {
			if lenient {
				// Dropping or altering a table the catalog does not know:
				// let the engine report it.
				owner = r.fallback
			} else {
				return Target{}, ir.NewUnknownSourceError(name)
			}
		}
		owners[owner] = true
	}

	if len(owners) > 1 {
		ids := make([]string, 0, len(owners))
		for id := range owners {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		return Target{}, ir.NewRoutingConflictError(ids)
	}

	var only backend.ID
	for id := range owners {
		only = id
	}
	return Target{Backend: only, Tables: refs}, nil
}

// entry tries the name as written, then a unique case-insensitive match.
// A qualified name that does not resolve is retried without its qualifier.
func (r *Router) entry(name string) (registry.Entry, bool) {
	if e, ok := r.reg.ResolveFold(name); ok {
		return e, true
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if e, ok := r.reg.ResolveFold(name[i+1:]); ok {
			return e, true
		}
	}
	return registry.Entry{}, false
}

// References lists the distinct table identifiers a statement reads or
// writes, in first-appearance order. Column qualifiers, common table
// expression names and the implicit "dual" table are not references;
// neither is the table a CREATE defines, though the tables its AS query
// reads are. lenient is true for schema changes on existing tables (DROP,
// ALTER, RENAME, TRUNCATE), where an unknown target is the engine's error
// to report.
func References(q *rql.Query) (refs []string, lenient bool) {
	ctes := make(map[string]bool, len(q.With))
	for _, c := range q.With {
		ctes[strings.ToLower(c.Name)] = true
	}

	seen := make(map[string]bool)
	add := func(tn sqlparser.TableName) {
		name := tableName(tn)
		if name == "" || strings.EqualFold(name, "dual") || seen[name] {
			return
		}
		if tn.Qualifier.IsEmpty() && ctes[strings.ToLower(name)] {
			return
		}
		seen[name] = true
		refs = append(refs, name)
	}
	walk := func(ast sqlparser.Statement) {
		if ast == nil {
			return
		}
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			switch n := node.(type) {
			case *sqlparser.AliasedTableExpr:
				if tn, ok := n.Expr.(sqlparser.TableName); ok {
					add(tn)
				}
			case *sqlparser.Insert:
				add(n.Table)
			}
			return true, nil
		}, ast)
	}

	switch ast := q.AST.(type) {
	case *sqlparser.DDL:
		if ast.Action != sqlparser.CreateStr {
			add(ast.Table)
			return refs, true
		}
	case *sqlparser.DBDDL:
		return nil, false
	default:
		walk(ast)
	}
	for _, c := range q.With {
		walk(c.AST)
	}
	walk(q.Body)
	return refs, false
}

// SchemaObject returns the table or view a schema statement creates or
// changes, or "" for any other statement.
func SchemaObject(q *rql.Query) string {
	ddl, ok := q.AST.(*sqlparser.DDL)
	if !ok {
		return ""
	}
	if ddl.Action == sqlparser.CreateStr {
		return tableName(ddl.NewName)
	}
	return tableName(ddl.Table)
}

func tableName(tn sqlparser.TableName) string {
	if tn.Name.IsEmpty() {
		return ""
	}
	if tn.Qualifier.IsEmpty() {
		return tn.Name.String()
	}
	return tn.Qualifier.String() + "." + tn.Name.String()
}
