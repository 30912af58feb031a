package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/rql"
	"github.com/roach88/noctra/internal/session"
)

// attach handles USE '<path>' AS <alias>.
//
// The registry is checked before the backend is touched, so a conflicting
// alias never replaces an existing view. Re-attaching the same file under
// the same alias succeeds without re-creating the view.
func (e *Executor) attach(ctx context.Context, sess *session.Session, s *rql.Attach) (*ir.ResultSet, error) {
	loc, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, ir.NewBackendError(string(e.fileNative), "resolve path", err)
	}
	src := backend.Source{Kind: s.Kind, Location: loc}

	if cur, ok := e.reg.Lookup(s.Alias); ok {
		if cur.Owner == e.fileNative && cur.Source == src {
			sess.AddAttachment(s.Alias)
			return ir.NewExecResult(0), nil
		}
		// Register reports the conflict with its standard message.
		return nil, e.reg.Register(s.Alias, src, e.fileNative)
	}

	b, ok := e.backends[e.fileNative]
	if !ok {
		return nil, ir.NewBackendError(string(e.fileNative), "attach",
			fmt.Errorf("file-native backend is not configured: %w", backend.ErrUnsupported))
	}
	if err := b.RegisterExternal(ctx, src, s.Alias); err != nil {
		return nil, err
	}
	if err := e.reg.Register(s.Alias, src, b.ID()); err != nil {
		// Lost a race with another session: undo the view.
		if derr := b.DropExternal(ctx, s.Alias); derr != nil {
			e.logger.WarnContext(ctx, "drop view after failed attach", "alias", s.Alias, "error", derr)
		}
		return nil, err
	}

	sess.AddAttachment(s.Alias)
	e.logger.InfoContext(ctx, "source attached", "alias", s.Alias, "kind", s.Kind, "location", loc)
	return ir.NewExecResult(0), nil
}

// detach handles DETACH <alias>. Only attachments can be detached; native
// tables are dropped with SQL.
func (e *Executor) detach(ctx context.Context, sess *session.Session, s *rql.Detach) (*ir.ResultSet, error) {
	entry, ok := e.reg.Lookup(s.Alias)
	if !ok || !entry.IsAttachment() {
		return nil, ir.NewUnknownSourceError(s.Alias)
	}

	b, err := e.backend(entry.Owner)
	if err != nil {
		return nil, err
	}
	if err := b.DropExternal(ctx, entry.Alias); err != nil {
		return nil, err
	}
	e.reg.Unregister(entry.Alias)
	sess.RemoveAttachment(entry.Alias)
	e.logger.InfoContext(ctx, "source detached", "alias", entry.Alias)
	return ir.NewExecResult(0), nil
}

// show handles SHOW VARS | SOURCES | HISTORY.
func (e *Executor) show(sess *session.Session, target rql.ShowTarget) (*ir.ResultSet, error) {
	var rs *ir.ResultSet
	switch target {
	case rql.ShowVars:
		rs = ir.NewResultSet("name", "value", "type")
		vars := sess.Vars()
		for _, name := range sess.VarNames() {
			v, ok := vars[name]
			if !ok {
				continue
			}
			if err := rs.AppendRow(ir.Text(name), ir.Text(v.String()), ir.Text(ir.TypeName(v))); err != nil {
				return nil, err
			}
		}

	case rql.ShowSources:
		rs = ir.NewResultSet("alias", "kind", "backend", "location")
		for _, entry := range e.reg.Entries() {
			if err := rs.AppendRow(
				ir.Text(entry.Alias),
				ir.Text(string(entry.Source.Kind)),
				ir.Text(string(entry.Owner)),
				ir.Text(entry.Source.Location),
			); err != nil {
				return nil, err
			}
		}

	case rql.ShowHistory:
		rs = ir.NewResultSet("at", "text", "stage", "outcome")
		for _, h := range sess.History() {
			if err := rs.AppendRow(
				ir.Text(h.At.UTC().Format(time.RFC3339)),
				ir.Text(h.Text),
				ir.Text(string(h.Stage)),
				ir.Text(string(h.Outcome)),
			); err != nil {
				return nil, err
			}
		}

	default:
		return nil, ir.NewInternalError(fmt.Sprintf("unknown SHOW target %q", target))
	}
	return rs, nil
}
