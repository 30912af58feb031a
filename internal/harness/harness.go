package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/backend/duckdb"
	"github.com/roach88/noctra/internal/backend/sqlite"
	"github.com/roach88/noctra/internal/executor"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/session"
	"github.com/roach88/noctra/internal/testutil"
)

// DirPlaceholder is replaced with the scenario directory in queries.
const DirPlaceholder = "{{dir}}"

// Harness holds the state of one scenario run.
type Harness struct {
	exec     *executor.Executor
	sess     *session.Session
	scenario *Scenario
	logger   *slog.Logger
}

// Run executes a scenario against fresh in-memory backends.
//
// The returned error reports infrastructure failures: a backend that
// cannot start or a setup statement that fails. Mismatches between a step
// and its expect clause, and failed assertions, are recorded on the
// Result instead.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.exec.Close()

	result := NewResult()
	result.SessionID = h.sess.ID()

	if err := h.executeSetup(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.executeSteps(ctx, result)

	for _, msg := range h.evaluateAssertions(ctx, result.Trace) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	ids, err := scenarioBackends(scenario)
	if err != nil {
		return nil, err
	}

	var backends []backend.Backend
	closeAll := func() {
		for _, b := range backends {
			_ = b.Close()
		}
	}
	for _, id := range ids {
		b, err := openBackend(id)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open %s backend: %w", id, err)
		}
		backends = append(backends, b)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec, err := executor.New(ctx, backends,
		executor.WithDefaultBackend(defaultBackend(scenario, ids)),
		executor.WithLogger(logger),
	)
	if err != nil {
		closeAll()
		return nil, err
	}

	return &Harness{
		exec:     exec,
		sess:     newSession(scenario),
		scenario: scenario,
		logger:   logger,
	}, nil
}

func newSession(scenario *Scenario) *session.Session {
	return session.New(
		session.WithClock(testutil.NewDeterministicClock()),
		session.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.SessionID)),
	)
}

func scenarioBackends(scenario *Scenario) ([]backend.ID, error) {
	if len(scenario.Backends) == 0 {
		return []backend.ID{backend.SQLite, backend.DuckDB}, nil
	}
	ids := make([]backend.ID, 0, len(scenario.Backends))
	for _, name := range scenario.Backends {
		id, ok := backend.ParseID(name)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func defaultBackend(scenario *Scenario, ids []backend.ID) backend.ID {
	if id, ok := backend.ParseID(scenario.DefaultBackend); ok {
		return id
	}
	for _, id := range ids {
		if id == backend.SQLite {
			return id
		}
	}
	return ids[0]
}

func openBackend(id backend.ID) (backend.Backend, error) {
	switch id {
	case backend.SQLite:
		return sqlite.Open(sqlite.MemoryPath)
	case backend.DuckDB:
		return duckdb.Open(duckdb.Options{})
	}
	return nil, fmt.Errorf("unknown backend %q", id)
}

// expand substitutes the scenario directory into a query.
func (h *Harness) expand(query string) string {
	return strings.ReplaceAll(query, DirPlaceholder, h.scenario.Dir)
}

// executeSetup runs setup statements. Each must succeed.
func (h *Harness) executeSetup(ctx context.Context, result *Result) error {
	for i, stmt := range h.scenario.Setup {
		rs, err := h.exec.Execute(ctx, h.sess, executor.Query{Text: h.expand(stmt)})
		result.AddTrace(traceEvent(PhaseSetup, stmt, rs, err))
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		h.logger.Info("setup statement completed", "step", i)
	}
	return nil
}

// executeSteps runs every step and checks its expect clause. A failing
// step does not stop the scenario.
func (h *Harness) executeSteps(ctx context.Context, result *Result) {
	for i, step := range h.scenario.Steps {
		q := executor.Query{
			Text:       h.expand(step.Query),
			Named:      toNamed(step.Params),
			Positional: toPositional(step.Args),
		}
		rs, err := h.exec.Execute(ctx, h.sess, q)
		result.AddTrace(traceEvent(PhaseStep, step.Query, rs, err))

		if msg := checkExpect(step.Expect, rs, err); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d] %q: %s", i, step.Query, msg))
		}
		h.logger.Info("step completed", "step", i, "outcome", ir.KindOf(err))
	}
}

func traceEvent(phase, query string, rs *ir.ResultSet, err error) TraceEvent {
	ev := TraceEvent{
		Phase:   phase,
		Query:   query,
		Outcome: string(ir.KindOf(err)),
	}
	if err != nil || rs == nil {
		return ev
	}
	if rs.IsQuery() {
		grid := rs.Table()
		ev.Columns = grid[0]
		ev.Rows = grid[1:]
		return ev
	}
	n := *rs.RowsAffected
	ev.RowsAffected = &n
	return ev
}

// toNamed converts YAML-decoded parameters. Keys are kept as written; the
// executor matches them against placeholder names.
func toNamed(params map[string]any) map[string]ir.Value {
	if params == nil {
		return nil
	}
	out := make(map[string]ir.Value, len(params))
	for k, v := range params {
		out[k] = ir.FromNative(v)
	}
	return out
}

func toPositional(args []any) []ir.Value {
	if args == nil {
		return nil
	}
	out := make([]ir.Value, len(args))
	for i, v := range args {
		out[i] = ir.FromNative(v)
	}
	return out
}
