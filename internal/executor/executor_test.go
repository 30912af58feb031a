package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/backend/duckdb"
	"github.com/roach88/noctra/internal/backend/sqlite"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/session"
	"github.com/roach88/noctra/internal/testutil"
)

// newExecutor creates an executor over in-memory sqlite and duckdb backends.
func newExecutor(t *testing.T) *Executor {
	t.Helper()
	rel, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	file, err := duckdb.Open(duckdb.Options{Threads: 1})
	require.NoError(t, err)

	e, err := New(context.Background(), []backend.Backend{rel, file},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func run(t *testing.T, e *Executor, sess *session.Session, text string) *ir.ResultSet {
	t.Helper()
	rs, err := e.Execute(context.Background(), sess, Query{Text: text})
	require.NoError(t, err, text)
	return rs
}

func runErr(t *testing.T, e *Executor, sess *session.Session, text string) *ir.Error {
	t.Helper()
	_, err := e.Execute(context.Background(), sess, Query{Text: text})
	require.Error(t, err, text)
	var ie *ir.Error
	require.ErrorAs(t, err, &ie)
	return ie
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func seedUsers(t *testing.T, e *Executor, sess *session.Session) {
	t.Helper()
	run(t, e, sess, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	run(t, e, sess, "INSERT INTO users (id, name) VALUES (1,'Alice'),(2,'Bob')")
}

func TestScenario_SelectExpression(t *testing.T) {
	e := newExecutor(t)
	rs := run(t, e, session.New(), "SELECT 1 + 1 AS result")

	assert.Equal(t, []string{"result"}, rs.ColumnNames())
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, []ir.Value{ir.Int(2)}, rs.Rows[0].Values)
	assert.Nil(t, rs.RowsAffected)
}

func TestScenario_CreateInsertSelect(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()

	run(t, e, sess, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	rs := run(t, e, sess, "INSERT INTO users (id, name) VALUES (1,'Alice'),(2,'Bob')")
	require.NotNil(t, rs.RowsAffected)
	assert.Equal(t, int64(2), *rs.RowsAffected)

	rs = run(t, e, sess, "SELECT * FROM users ORDER BY id")
	assert.Equal(t, []string{"id", "name"}, rs.ColumnNames())
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Text("Alice")}, rs.Rows[0].Values)
}

func TestScenario_AttachAndQueryFile(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	path := writeCSV(t, "id,name\n1,Alice\n2,Bob\n3,Cy\n")

	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", path))
	assert.Equal(t, []string{"t1"}, sess.Attachments())

	owner, ok := e.Registry().Resolve("t1")
	require.True(t, ok)
	assert.Equal(t, backend.DuckDB, owner)

	rs := run(t, e, sess, "SELECT * FROM t1")
	assert.Equal(t, []string{"id", "name"}, rs.ColumnNames())
	assert.Len(t, rs.Rows, 3)
}

func TestScenario_CrossEngineJoinRejected(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", writeCSV(t, "id,score\n1,10\n")))

	err := runErr(t, e, sess, "SELECT u.name, t1.score FROM users u JOIN t1 ON t1.id = u.id")
	assert.Equal(t, ir.KindRoutingConflict, err.Kind)
	assert.Equal(t, []string{"duckdb", "sqlite"}, err.Owners)
}

func TestScenario_UnknownSource(t *testing.T) {
	e := newExecutor(t)
	err := runErr(t, e, session.New(), "SELECT * FROM unknown_alias")
	assert.Equal(t, ir.KindUnknownSource, err.Kind)
	assert.Equal(t, "unknown_alias", err.Name)
	assert.Contains(t, err.Error(), "unknown_alias")
}

func TestScenario_SessionVariables(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()

	run(t, e, sess, "SET x = 5")
	rs := run(t, e, sess, "SELECT @x AS v")
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, ir.Int(5), rs.Rows[0].Values[0])

	err := runErr(t, e, sess, "SELECT @y AS v")
	assert.Equal(t, ir.KindSessionVariableNotFound, err.Kind)
	assert.Equal(t, "y", err.Name)
}

func TestParameterRoundTrip(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	ctx := context.Background()

	rs, err := e.Execute(ctx, sess, Query{
		Text:  "SELECT :a AS a, :b AS b",
		Named: map[string]ir.Value{"a": ir.Int(1), "b": ir.Text("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Int(1), ir.Text("x")}, rs.Rows[0].Values)

	_, err = e.Execute(ctx, sess, Query{
		Text:  "SELECT :a AS a, :b AS b",
		Named: map[string]ir.Value{"a": ir.Int(1)},
	})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.KindParameter))

	rs, err = e.Execute(ctx, sess, Query{
		Text:       "SELECT $2 AS p2, $1 AS p1",
		Positional: []ir.Value{ir.Text("one"), ir.Text("two")},
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Text("two"), ir.Text("one")}, rs.Rows[0].Values)
}

func TestParametersBindAgainstTables(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)

	rs, err := e.Execute(context.Background(), sess, Query{
		Text:  "SELECT name FROM users WHERE id = :id::int",
		Named: map[string]ir.Value{"id": ir.Text("2")},
	})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, ir.Text("Bob"), rs.Rows[0].Values[0])
}

func TestFailuresHaveNoSideEffects(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)

	runErr(t, e, sess, "SET x = :missing")
	_, ok := sess.GetVar("x")
	assert.False(t, ok)

	runErr(t, e, sess, "INSERT INTO users (id, name) VALUES (:id, 'dup')")
	rs := run(t, e, sess, "SELECT COUNT(*) AS n FROM users")
	assert.Equal(t, ir.Int(2), rs.Rows[0].Values[0])
}

func TestBackendFailurePreservesMessage(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)

	err := runErr(t, e, sess, "INSERT INTO users (id, name) VALUES (1, 'again')")
	assert.Equal(t, ir.KindBackend, err.Kind)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
}

func TestHistoryRecordsEveryOutcome(t *testing.T) {
	e := newExecutor(t)
	sess := session.New(session.WithClock(testutil.NewDeterministicClock()), session.WithHistoryLimit(3))

	run(t, e, sess, "SELECT 1")
	runErr(t, e, sess, "SELEC 1")
	runErr(t, e, sess, "SELECT * FROM nowhere")
	run(t, e, sess, "SELECT 2")

	h := sess.History()
	require.Len(t, h, 3, "oldest entry evicted")
	assert.Equal(t, "SELEC 1", h[0].Text)
	assert.Equal(t, ir.KindUnknownCommand, h[0].Outcome)
	assert.Equal(t, session.StageFailed, h[0].Stage)
	assert.Equal(t, ir.KindUnknownSource, h[1].Outcome)
	assert.Equal(t, ir.KindOK, h[2].Outcome)
	assert.Equal(t, session.StageCompleted, h[2].Stage)
	assert.Equal(t, testutil.Epoch.Add(3e9), h[2].At)
}

func TestSessionIsolation(t *testing.T) {
	e := newExecutor(t)
	a, b := session.New(), session.New()

	run(t, e, a, "SET x = 1")
	err := runErr(t, e, b, "SELECT @x AS v")
	assert.Equal(t, ir.KindSessionVariableNotFound, err.Kind)

	var wg sync.WaitGroup
	for i, s := range []*session.Session{a, b} {
		wg.Add(1)
		go func(i int, s *session.Session) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := e.Execute(context.Background(), s, Query{Text: fmt.Sprintf("SET x = %d", i*100+j)})
				assert.NoError(t, err)
			}
		}(i, s)
	}
	wg.Wait()

	va, _ := a.GetVar("x")
	vb, _ := b.GetVar("x")
	assert.Equal(t, ir.Int(9), va)
	assert.Equal(t, ir.Int(109), vb)
}

func TestUnsetAndShowVars(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()

	run(t, e, sess, "SET b = 'two'")
	run(t, e, sess, "SET a = 1")
	rs := run(t, e, sess, "SHOW VARS")
	assert.Equal(t, []string{"name", "value", "type"}, rs.ColumnNames())
	assert.Equal(t, [][]string{
		{"name", "value", "type"},
		{"a", "1", "integer"},
		{"b", "two", "text"},
	}, rs.Table())

	run(t, e, sess, "UNSET a")
	_, ok := sess.GetVar("a")
	assert.False(t, ok)

	err := runErr(t, e, sess, "UNSET a")
	assert.Equal(t, ir.KindSessionVariableNotFound, err.Kind)
}

func TestAttachIdempotenceAndConflict(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	path := writeCSV(t, "id\n1\n")

	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", path))
	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", path))
	rs := run(t, e, sess, "SELECT * FROM t1")
	assert.Len(t, rs.Rows, 1)

	other := writeCSV(t, "id\n1\n2\n")
	err := runErr(t, e, sess, fmt.Sprintf("USE '%s' AS t1", other))
	assert.Equal(t, ir.KindRegistryConflict, err.Kind)
	rs = run(t, e, sess, "SELECT * FROM t1")
	assert.Len(t, rs.Rows, 1, "conflicting attach leaves the original view")

	err = runErr(t, e, sess, fmt.Sprintf("USE '%s' AS users", path))
	assert.Equal(t, ir.KindRegistryConflict, err.Kind)
}

func TestAttachMissingFile(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()

	err := runErr(t, e, sess, fmt.Sprintf("USE '%s' AS gone", filepath.Join(t.TempDir(), "missing.csv")))
	assert.Equal(t, ir.KindBackend, err.Kind)
	_, ok := e.Registry().Resolve("gone")
	assert.False(t, ok)
	assert.Empty(t, sess.Attachments())
}

func TestDetach(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", writeCSV(t, "id\n1\n")))

	run(t, e, sess, "DETACH t1")
	assert.Empty(t, sess.Attachments())
	err := runErr(t, e, sess, "SELECT * FROM t1")
	assert.Equal(t, ir.KindUnknownSource, err.Kind)

	err = runErr(t, e, sess, "DETACH users")
	assert.Equal(t, ir.KindUnknownSource, err.Kind, "native tables are not attachments")
}

func TestShowSourcesAndHistory(t *testing.T) {
	e := newExecutor(t)
	sess := session.New(session.WithClock(testutil.NewDeterministicClock()))
	seedUsers(t, e, sess)
	path := writeCSV(t, "id\n1\n")
	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", path))

	rs := run(t, e, sess, "SHOW SOURCES")
	assert.Equal(t, [][]string{
		{"alias", "kind", "backend", "location"},
		{"t1", "csv", "duckdb", path},
		{"users", "table", "sqlite", "users"},
	}, rs.Table())

	rs = run(t, e, sess, "SHOW HISTORY")
	require.Len(t, rs.Rows, 4)
	assert.Equal(t, "2025-01-01T00:00:00Z", rs.Rows[0].Values[0].String())
	assert.Equal(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", rs.Rows[0].Values[1].String())
	assert.Equal(t, "OK", rs.Rows[3].Values[3].String())
}

func TestDDLRefreshesCatalog(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)

	run(t, e, sess, "DROP TABLE users")
	err := runErr(t, e, sess, "SELECT * FROM users")
	assert.Equal(t, ir.KindUnknownSource, err.Kind)
}

func TestExportToFile(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	dir := t.TempDir()

	out := filepath.Join(dir, "users.csv")
	rs := run(t, e, sess, fmt.Sprintf("EXPORT (SELECT id, name FROM users ORDER BY id) TO '%s'", out))
	require.NotNil(t, rs.RowsAffected)
	assert.Equal(t, int64(2), *rs.RowsAffected)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,Alice\n2,Bob\n", string(data))

	yml := filepath.Join(dir, "users.out")
	run(t, e, sess, fmt.Sprintf("EXPORT users TO '%s' FORMAT yaml", yml))
	data, err = os.ReadFile(yml)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- Alice")
}

func TestExportFileSourceRoundTrip(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	run(t, e, sess, fmt.Sprintf("USE '%s' AS t1", writeCSV(t, "id,name\n1,Alice\n2,Bob\n")))

	out := filepath.Join(t.TempDir(), "filtered.tsv")
	rs, err := e.Execute(context.Background(), sess, Query{
		Text:  fmt.Sprintf("EXPORT SELECT name FROM t1 WHERE id = :id TO '%s'", out),
		Named: map[string]ir.Value{"id": ir.Int(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *rs.RowsAffected)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "name\nBob\n", string(data))
}

func TestExportInline(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)

	rs := run(t, e, sess, "EXPORT (SELECT name FROM users ORDER BY id) TO csv")
	assert.Equal(t, []string{ExportColumn}, rs.ColumnNames())
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, ir.Text("name\nAlice\nBob\n"), rs.Rows[0].Values[0])
}

func TestExecuteScript(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()

	results, err := e.ExecuteScript(context.Background(), sess, `
		CREATE TABLE t (v INTEGER);
		INSERT INTO t VALUES (:v);
		SELECT v FROM t;
	`, map[string]ir.Value{"v": ir.Int(7)})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ir.Int(7), results[2].Rows[0].Values[0])

	results, err = e.ExecuteScript(context.Background(), sess, "SELECT 1; SELEC 2; SELECT 3", nil)
	require.Error(t, err)
	assert.Len(t, results, 1)
	assert.True(t, ir.IsKind(err, ir.KindUnknownCommand))
}

func TestDefaultBackendOption(t *testing.T) {
	rel, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	defer rel.Close()

	_, err = New(context.Background(), []backend.Backend{rel}, WithDefaultBackend(backend.DuckDB))
	assert.Error(t, err, "default backend must be configured")

	e, err := New(context.Background(), []backend.Backend{rel})
	require.NoError(t, err)
	assert.Equal(t, backend.SQLite, e.DefaultBackend())

	err = runErr(t, e, session.New(), fmt.Sprintf("USE '%s' AS t1", writeCSV(t, "id\n1\n"))).Err
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

func attachCities(t *testing.T, e *Executor, sess *session.Session) {
	t.Helper()
	path := writeCSV(t, "id,name\n1,Amsterdam\n2,Berlin\n3,austin\n")
	run(t, e, sess, fmt.Sprintf("USE '%s' AS cities", path))
}

func TestCreateAsQueryRunsWhereItsQueryRuns(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	attachCities(t, e, sess)

	run(t, e, sess, "CREATE VIEW big_cities AS SELECT * FROM cities WHERE id > 1")
	owner, ok := e.Registry().Resolve("big_cities")
	require.True(t, ok)
	assert.Equal(t, backend.DuckDB, owner, "a view over a file lives in the file engine")
	rs := run(t, e, sess, "SELECT * FROM big_cities")
	assert.Len(t, rs.Rows, 2)

	run(t, e, sess, "CREATE TABLE user_names AS SELECT name FROM users")
	owner, ok = e.Registry().Resolve("user_names")
	require.True(t, ok)
	assert.Equal(t, backend.SQLite, owner)

	err := runErr(t, e, sess, "CREATE TABLE joined AS SELECT * FROM users JOIN cities ON cities.id = users.id")
	assert.Equal(t, ir.KindRoutingConflict, err.Kind)
	_, ok = e.Registry().Resolve("joined")
	assert.False(t, ok)
}

func TestWithQueryRunsOnOwningBackend(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	attachCities(t, e, sess)

	rs := run(t, e, sess, "WITH c AS (SELECT * FROM cities WHERE id < 3) SELECT count(*) AS n FROM c")
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "2", rs.Rows[0].Values[0].String())
}

func TestDropAttachmentViewRejected(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	attachCities(t, e, sess)

	err := runErr(t, e, sess, "DROP VIEW cities")
	assert.Equal(t, ir.KindRegistryConflict, err.Kind)
	assert.Contains(t, err.Message, "DETACH cities")

	rs := run(t, e, sess, "SELECT * FROM cities")
	assert.Len(t, rs.Rows, 3, "the view survives")

	run(t, e, sess, "DETACH cities")
	assert.Equal(t, ir.KindUnknownSource, runErr(t, e, sess, "SELECT * FROM cities").Kind)
}

func TestSetExpression(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	attachCities(t, e, sess)

	run(t, e, sess, "SET x = 2 * 3")
	v, ok := sess.GetVar("x")
	require.True(t, ok)
	assert.Equal(t, ir.Int(6), v)

	run(t, e, sess, "SET y = 'a' || 'b'")
	v, _ = sess.GetVar("y")
	assert.Equal(t, ir.Text("ab"), v)

	_, err := e.Execute(context.Background(), sess, Query{
		Text:  "SET n = (SELECT count(*) FROM users) + :bonus",
		Named: map[string]ir.Value{"bonus": ir.Int(10)},
	})
	require.NoError(t, err)
	v, _ = sess.GetVar("n")
	assert.Equal(t, ir.Int(12), v)

	run(t, e, sess, "SET c = (SELECT count(*) FROM cities)")
	v, _ = sess.GetVar("c")
	assert.Equal(t, "3", v.String(), "evaluated by the engine that owns the file")

	rs := run(t, e, sess, "SELECT @x + @n AS total")
	assert.Equal(t, ir.Int(18), rs.Rows[0].Values[0])

	ierr := runErr(t, e, sess, "SET z = (SELECT count(*) FROM users) + (SELECT count(*) FROM cities)")
	assert.Equal(t, ir.KindRoutingConflict, ierr.Kind)
	_, ok = sess.GetVar("z")
	assert.False(t, ok)
}

func TestEngineIdioms(t *testing.T) {
	e := newExecutor(t)
	sess := session.New()
	seedUsers(t, e, sess)
	attachCities(t, e, sess)

	run(t, e, sess, "INSERT OR REPLACE INTO users (id, name) VALUES (1, 'Ann')")
	rs := run(t, e, sess, "SELECT name FROM users WHERE id = 1")
	assert.Equal(t, ir.Text("Ann"), rs.Rows[0].Values[0])

	rs = run(t, e, sess, "SELECT name FROM cities WHERE name ILIKE 'a%' ORDER BY id")
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "Amsterdam", rs.Rows[0].Values[0].String())
	assert.Equal(t, "austin", rs.Rows[1].Values[0].String())

	rs = run(t, e, sess, "SELECT id::VARCHAR AS s FROM cities WHERE id = 2")
	assert.Equal(t, ir.Text("2"), rs.Rows[0].Values[0])
}
