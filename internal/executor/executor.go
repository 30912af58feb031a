// Package executor is the single entry point of the core: it takes RQL text
// plus parameters, drives it through parse, bind, route and execute, and
// returns a uniform ResultSet.
//
// Each call moves through the stages
//
//	Received → Parsed → Bound → Routed → Executed → Completed
//
// and any stage may end in Failed. Every call, successful or not, appends an
// entry to the session history.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/registry"
	"github.com/roach88/noctra/internal/router"
	"github.com/roach88/noctra/internal/rql"
	"github.com/roach88/noctra/internal/session"
	"github.com/roach88/noctra/internal/template"
)

// Query is one call's input.
type Query struct {
	Text       string
	Named      map[string]ir.Value
	Positional []ir.Value
}

// Executor is shared by every session. Backends and the registry are
// shared; per-caller state lives in the session passed to Execute.
type Executor struct {
	backends   map[backend.ID]backend.Backend
	reg        *registry.Registry
	router     *router.Router
	fallback   backend.ID
	fileNative backend.ID
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultBackend sets the backend for statements that reference no
// table. Defaults to the relational store.
func WithDefaultBackend(id backend.ID) Option {
	return func(e *Executor) { e.fallback = id }
}

// WithRegistry shares an existing registry. By default the executor
// creates its own.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Executor) { e.reg = reg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor over backends and loads each backend's catalog
// into the registry. The executor takes ownership of the backends; Close
// closes them.
func New(ctx context.Context, backends []backend.Backend, opts ...Option) (*Executor, error) {
	e := &Executor{
		backends:   make(map[backend.ID]backend.Backend, len(backends)),
		fallback:   backend.SQLite,
		fileNative: backend.DuckDB,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reg == nil {
		e.reg = registry.New(registry.WithLogger(e.logger))
	}

	for _, b := range backends {
		if _, dup := e.backends[b.ID()]; dup {
			return nil, fmt.Errorf("backend %s configured twice", b.ID())
		}
		e.backends[b.ID()] = b
	}
	if _, ok := e.backends[e.fallback]; !ok {
		return nil, fmt.Errorf("default backend %s is not configured", e.fallback)
	}
	e.router = router.New(e.reg, e.fallback)

	for _, id := range e.backendIDs() {
		if err := e.syncCatalog(ctx, e.backends[id]); err != nil {
			return nil, fmt.Errorf("load %s catalog: %w", id, err)
		}
	}
	return e, nil
}

// Registry returns the shared attachment registry.
func (e *Executor) Registry() *registry.Registry { return e.reg }

// Backend returns the backend with the given id.
func (e *Executor) Backend(id backend.ID) (backend.Backend, bool) {
	b, ok := e.backends[id]
	return b, ok
}

// DefaultBackend returns the backend used for table-less statements.
func (e *Executor) DefaultBackend() backend.ID { return e.fallback }

// Close closes every backend, returning the first error.
func (e *Executor) Close() error {
	var first error
	for _, id := range e.backendIDs() {
		if err := e.backends[id].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Executor) backendIDs() []backend.ID {
	ids := make([]backend.ID, 0, len(e.backends))
	for id := range e.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Execute runs one RQL statement in sess.
//
// Errors are *ir.Error values; ir.KindOf reports the failure kind. The
// session history records the outcome either way.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, q Query) (rs *ir.ResultSet, err error) {
	stage := session.StageReceived
	log := e.logger.With("session", sess.ID())
	log.DebugContext(ctx, "statement received", "stage", stage, "text", q.Text)

	defer func() {
		final := session.StageCompleted
		if err != nil {
			final = session.StageFailed
			log.DebugContext(ctx, "statement failed", "stage", stage, "kind", ir.KindOf(err), "error", err)
		}
		sess.Record(q.Text, final, ir.KindOf(err))
	}()

	stmt, err := rql.Parse(q.Text)
	if err != nil {
		return nil, err
	}
	stage = session.StageParsed
	log.DebugContext(ctx, "statement parsed", "stage", stage, "type", fmt.Sprintf("%T", stmt))

	resolved, err := template.Resolve(stmt, template.Bindings{Named: q.Named, Positional: q.Positional}, sess.Vars())
	if err != nil {
		return nil, err
	}
	stage = session.StageBound
	log.DebugContext(ctx, "statement bound", "stage", stage, "args", len(resolved.Args))

	target, err := e.router.Route(stmt)
	if err != nil {
		return nil, err
	}
	stage = session.StageRouted
	log.DebugContext(ctx, "statement routed", "stage", stage, "control", target.Control, "backend", target.Backend, "tables", target.Tables)

	rs, err = e.dispatch(ctx, sess, resolved, target)
	if err != nil {
		return nil, err
	}
	stage = session.StageExecuted

	if verr := rs.Validate(); verr != nil {
		return nil, ir.NewInternalError(fmt.Sprintf("result shape: %v", verr))
	}
	log.DebugContext(ctx, "statement completed", "stage", session.StageCompleted, "rows", len(rs.Rows))
	return rs, nil
}

// ExecuteScript splits script into statements and executes them in order,
// stopping at the first failure. Results of the statements that ran are
// returned alongside the error. Every statement receives the same bindings.
func (e *Executor) ExecuteScript(ctx context.Context, sess *session.Session, script string, named map[string]ir.Value) ([]*ir.ResultSet, error) {
	stmts, err := rql.Split(script)
	if err != nil {
		return nil, err
	}
	results := make([]*ir.ResultSet, 0, len(stmts))
	for _, text := range stmts {
		rs, err := e.Execute(ctx, sess, Query{Text: text, Named: named})
		if err != nil {
			return results, err
		}
		results = append(results, rs)
	}
	return results, nil
}

func (e *Executor) dispatch(ctx context.Context, sess *session.Session, r *template.Resolved, target router.Target) (*ir.ResultSet, error) {
	switch s := r.Statement.(type) {
	case *rql.Query:
		return e.runQuery(ctx, s, r.Args, target.Backend)
	case *rql.Export:
		return e.export(ctx, s, r.Args, target.Backend)
	case *rql.Attach:
		return e.attach(ctx, sess, s)
	case *rql.Detach:
		return e.detach(ctx, sess, s)
	case *rql.SetVariable:
		v := r.Value
		if s.Expr != nil {
			var err error
			if v, err = e.evaluate(ctx, s.Expr, r.Args, target.Backend); err != nil {
				return nil, err
			}
		}
		sess.SetVar(s.Name, v)
		return ir.NewExecResult(0), nil
	case *rql.UnsetVariable:
		if !sess.UnsetVar(s.Name) {
			return nil, ir.NewSessionVariableNotFoundError(s.Name)
		}
		return ir.NewExecResult(0), nil
	case *rql.Show:
		return e.show(sess, s.Target)
	}
	return nil, ir.NewInternalError(fmt.Sprintf("executor: unhandled statement %T", r.Statement))
}

func (e *Executor) backend(id backend.ID) (backend.Backend, error) {
	b, ok := e.backends[id]
	if !ok {
		return nil, ir.NewInternalError(fmt.Sprintf("routed to unconfigured backend %s", id))
	}
	return b, nil
}

func (e *Executor) runQuery(ctx context.Context, q *rql.Query, args []ir.Value, id backend.ID) (*ir.ResultSet, error) {
	b, err := e.backend(id)
	if err != nil {
		return nil, err
	}

	mode := backend.ModeExec
	if q.Class == rql.ClassQuery {
		mode = backend.ModeQuery
	}
	rs, err := b.Execute(ctx, backend.Request{SQL: q.SQL, Args: args, Mode: mode})
	if err != nil {
		return nil, err
	}

	if q.Class == rql.ClassDefinition {
		if err := e.syncCatalog(ctx, b); err != nil {
			// The statement itself succeeded; a stale catalog only
			// affects routing of later statements.
			e.logger.WarnContext(ctx, "catalog refresh failed", "backend", id, "error", err)
		}
	}
	return rs, nil
}

// evaluate runs a SET expression and returns its value. An expression
// over a scalar subquery that finds no row is NULL.
func (e *Executor) evaluate(ctx context.Context, q *rql.Query, args []ir.Value, id backend.ID) (ir.Value, error) {
	rs, err := e.runQuery(ctx, q, args, id)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 || len(rs.Rows[0].Values) == 0 {
		return ir.Null{}, nil
	}
	return rs.Rows[0].Values[0], nil
}

// syncCatalog reloads a backend's table names into the registry.
func (e *Executor) syncCatalog(ctx context.Context, b backend.Backend) error {
	tables, err := b.DescribeSchema(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	e.reg.SyncCatalog(b.ID(), names)
	return nil
}
