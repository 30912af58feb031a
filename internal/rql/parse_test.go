package rql

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xwb1989/sqlparser"

	"github.com/roach88/noctra/internal/ir"
)

func mustQuery(t *testing.T, text string) *Query {
	t.Helper()
	stmt, err := Parse(text)
	require.NoError(t, err)
	q, ok := stmt.(*Query)
	require.True(t, ok, "expected *Query, got %T", stmt)
	return q
}

func requireKind(t *testing.T, err error, kind ir.ErrorKind) *ir.Error {
	t.Helper()
	require.Error(t, err)
	var e *ir.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, "error: %v", err)
	return e
}

func TestParseSelectPassthrough(t *testing.T) {
	q := mustQuery(t, "SELECT 1 + 1 AS result")
	assert.Equal(t, ClassQuery, q.Class)
	assert.Equal(t, "SELECT 1 + 1 AS result", q.SQL)
	assert.Empty(t, q.Slots())
	assert.Empty(t, q.Parameters())
	assert.NotNil(t, q.AST)
}

func TestParseClasses(t *testing.T) {
	tests := []struct {
		text  string
		class Class
	}{
		{"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", ClassDefinition},
		{"DROP TABLE users", ClassDefinition},
		{"INSERT INTO users (id, name) VALUES (1,'Alice'),(2,'Bob')", ClassMutation},
		{"UPDATE users SET name = 'x' WHERE id = 1", ClassMutation},
		{"DELETE FROM users WHERE id = 2", ClassMutation},
		{"SELECT * FROM users ORDER BY id;", ClassQuery},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.class, mustQuery(t, tt.text).Class)
		})
	}
}

func TestQuotedIdentifiers(t *testing.T) {
	q := mustQuery(t, `SELECT "full name" FROM "my table" WHERE "id" = :id`)
	assert.Equal(t, `SELECT "full name" FROM "my table" WHERE "id" = ?`, q.SQL, "backend text keeps standard quoting")

	stmt, err := Parse(`EXPORT "my table" TO 'out.csv'`)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "my table"`, stmt.(*Export).Query.SQL)
}

func TestNamedParameters(t *testing.T) {
	q := mustQuery(t, "SELECT * FROM users WHERE id = :a AND name = :b OR id = :a")

	assert.Equal(t, "SELECT * FROM users WHERE id = ? AND name = ? OR id = ?", q.SQL)
	require.Len(t, q.Parameters(), 2)
	assert.Equal(t, "a", q.Parameters()[0].Name)
	assert.Equal(t, "b", q.Parameters()[1].Name)

	slots := q.Slots()
	require.Len(t, slots, 3)
	assert.Equal(t, []string{":a", ":b", ":a"}, []string{slots[0].Ref(), slots[1].Ref(), slots[2].Ref()})
	assert.Equal(t, 1, slots[0].Line)
	assert.Equal(t, 32, slots[0].Column)
}

func TestPositionalParameters(t *testing.T) {
	q := mustQuery(t, "SELECT * FROM users WHERE name = $2 AND id = $1")

	params := q.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, 1, params[0].Index, "positional parameters are listed in increasing index order")
	assert.Equal(t, 2, params[1].Index)
	assert.Equal(t, ParamPositional, params[0].Kind)

	slots := q.Slots()
	require.Len(t, slots, 2)
	assert.Equal(t, 2, slots[0].Index, "slots keep source order")
	assert.Equal(t, 1, slots[1].Index)
}

func TestMixedStylesRejected(t *testing.T) {
	for _, text := range []string{
		"SELECT * FROM t WHERE a = :a AND b = $1",
		"SELECT * FROM t WHERE a = $1 AND b = :a",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			e := requireKind(t, err, ir.KindParameter)
			assert.Contains(t, e.Message, "cannot be mixed")
			assert.Equal(t, 1, e.Line)
		})
	}
}

func TestInvalidPlaceholders(t *testing.T) {
	_, err := Parse("SELECT * FROM t WHERE a = $0")
	e := requireKind(t, err, ir.KindParameter)
	assert.Equal(t, "$0", e.Name)

	_, err = Parse("SELECT * FROM t WHERE a = ?")
	requireKind(t, err, ir.KindParameter)
}

func TestPlaceholdersIgnoredInStringsAndComments(t *testing.T) {
	q := mustQuery(t, "SELECT ':skip', 'it''s $1' FROM t /* :nope */ WHERE x = :x -- :also\n")
	require.Len(t, q.Slots(), 1)
	assert.Equal(t, "x", q.Slots()[0].Name)
	assert.Contains(t, q.SQL, "'it''s $1'")
}

func TestTypeHint(t *testing.T) {
	q := mustQuery(t, "SELECT * FROM t WHERE id = :id::integer AND other = :id")
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND other = ?", q.SQL)
	require.Len(t, q.Parameters(), 1)
	assert.Equal(t, "integer", q.Parameters()[0].TypeHint)
	assert.Equal(t, "integer", q.Slots()[1].TypeHint, "hint applies to every occurrence")

	_, err := Parse("SELECT * FROM t WHERE id = :id::integer AND other = :id::text")
	requireKind(t, err, ir.KindParameter)
}

func TestFailedParseReturnsNilStatement(t *testing.T) {
	for _, text := range []string{
		"SELECT * FROM t WHERE a = $1 AND b = :b",
		"SELECT * FRM t",
		"(SELECT 1",
	} {
		stmt, err := Parse(text)
		require.Error(t, err, text)
		assert.True(t, stmt == nil, "%q: got %#v", text, stmt)
	}
}

func TestVariableNamesAreNormalized(t *testing.T) {
	q := mustQuery(t, "SELECT @cafe\u0301 AS v")
	require.Len(t, q.Slots(), 1)
	assert.Equal(t, "caf\u00e9", q.Slots()[0].Name)
}

func TestSessionVariableSlots(t *testing.T) {
	q := mustQuery(t, "SELECT @x AS v, :p AS w")
	assert.Equal(t, "SELECT ? AS v, ? AS w", q.SQL)
	require.Len(t, q.Slots(), 2)
	assert.Equal(t, SlotVariable, q.Slots()[0].Kind)
	assert.Equal(t, "@x", q.Slots()[0].Ref())
	require.Len(t, q.Parameters(), 1, "session variables are not parameters")
}

func TestParseAttach(t *testing.T) {
	stmt, err := Parse("USE 'data.csv' AS t1")
	require.NoError(t, err)
	a, ok := stmt.(*Attach)
	require.True(t, ok)
	assert.Equal(t, "data.csv", a.Path)
	assert.Equal(t, SourceCSV, a.Kind)
	assert.Equal(t, "t1", a.Alias)

	stmt, err = Parse("use 'logs/events.log' as \"Events\" format ndjson;")
	require.NoError(t, err)
	a = stmt.(*Attach)
	assert.Equal(t, SourceNDJSON, a.Kind)
	assert.Equal(t, "Events", a.Alias)

	stmt, err = Parse("USE 'archive/data.csv.gz' AS old")
	require.NoError(t, err)
	assert.Equal(t, SourceCSV, stmt.(*Attach).Kind)

	stmt, err = Parse("USE 'it''s.parquet' AS p")
	require.NoError(t, err)
	assert.Equal(t, "it's.parquet", stmt.(*Attach).Path)
}

func TestParseAttachErrors(t *testing.T) {
	tests := []struct {
		text   string
		column int
	}{
		{"USE mydb", 5},
		{"USE 'data.csv' t1", 16},
		{"USE 'data' AS t1", 5},
		{"USE 'data.csv' AS t1 FORMAT xml", 29},
		{"USE 'data.csv' AS t1 extra", 22},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := Parse(tt.text)
			e := requireKind(t, err, ir.KindSyntax)
			assert.Equal(t, 1, e.Line)
			assert.Equal(t, tt.column, e.Column)
		})
	}
}

func TestParseSet(t *testing.T) {
	tests := []struct {
		text    string
		name    string
		literal ir.Value
	}{
		{"SET x = 5", "x", ir.Int(5)},
		{"SET @y TO 'abc'", "y", ir.Text("abc")},
		{"SET z = -2.5", "z", ir.Float(-2.5)},
		{"SET f = TRUE", "f", ir.Bool(true)},
		{"SET n = null", "n", ir.Null{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			stmt, err := Parse(tt.text)
			require.NoError(t, err)
			s, ok := stmt.(*SetVariable)
			require.True(t, ok)
			assert.Equal(t, tt.name, s.Name)
			assert.Equal(t, tt.literal, s.Literal)
			assert.Empty(t, s.Slots())
		})
	}
}

func TestParseSetFromPlaceholder(t *testing.T) {
	stmt, err := Parse("SET limit_to = :n::int")
	require.NoError(t, err)
	s := stmt.(*SetVariable)
	assert.Nil(t, s.Literal)
	require.Len(t, s.Slots(), 1)
	assert.Equal(t, "int", s.Slots()[0].TypeHint)

	stmt, err = Parse("SET copy = @other")
	require.NoError(t, err)
	assert.Equal(t, SlotVariable, stmt.Slots()[0].Kind)

	_, err = Parse("SET q 1")
	requireKind(t, err, ir.KindSyntax)
}

func TestParseSetExpression(t *testing.T) {
	tests := []struct {
		text  string
		sql   string
		slots int
	}{
		{"SET x = 2 * 3", "SELECT 2 * 3", 0},
		{"SET y = 'a' || 'b'", "SELECT 'a' || 'b'", 0},
		{"SET n = (SELECT count(*) FROM users) + :bonus", "SELECT (SELECT count(*) FROM users) + ?", 1},
		{"SET total TO @base * 2", "SELECT ? * 2", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			stmt, err := Parse(tt.text)
			require.NoError(t, err)
			s := stmt.(*SetVariable)
			assert.Nil(t, s.Literal)
			require.NotNil(t, s.Expr)
			assert.Equal(t, tt.sql, s.Expr.SQL)
			assert.Equal(t, ClassQuery, s.Expr.Class)
			assert.Len(t, s.Slots(), tt.slots)
		})
	}

	for _, text := range []string{
		"SET q = 1 +",
		"SET q = id FROM users",
		"SET q = 1, 2",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			requireKind(t, err, ir.KindSyntax)
		})
	}
}

func TestParseUnsetDetachShow(t *testing.T) {
	stmt, err := Parse("UNSET @x")
	require.NoError(t, err)
	assert.Equal(t, "x", stmt.(*UnsetVariable).Name)

	stmt, err = Parse("DETACH t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", stmt.(*Detach).Alias)

	for text, target := range map[string]ShowTarget{
		"SHOW VARS":      ShowVars,
		"show variables": ShowVars,
		"SHOW SOURCES":   ShowSources,
		"SHOW HISTORY":   ShowHistory,
	} {
		stmt, err := Parse(text)
		require.NoError(t, err, text)
		assert.Equal(t, target, stmt.(*Show).Target)
	}

	_, err = Parse("SHOW TABLES")
	requireKind(t, err, ir.KindSyntax)
}

func TestParseExport(t *testing.T) {
	stmt, err := Parse("EXPORT (SELECT * FROM users) TO 'out.csv'")
	require.NoError(t, err)
	e, ok := stmt.(*Export)
	require.True(t, ok)
	assert.Equal(t, ExportCSV, e.Format)
	assert.Equal(t, "out.csv", e.Path)
	assert.Equal(t, "SELECT * FROM users", e.Query.SQL)

	stmt, err = Parse("EXPORT users TO 'u.data' FORMAT json")
	require.NoError(t, err)
	e = stmt.(*Export)
	assert.Equal(t, ExportJSON, e.Format)
	assert.Equal(t, "SELECT * FROM users", e.Query.SQL)

	stmt, err = Parse("EXPORT SELECT * FROM t WHERE id = :id TO 'o.yml'")
	require.NoError(t, err)
	e = stmt.(*Export)
	assert.Equal(t, ExportYAML, e.Format)
	require.Len(t, e.Slots(), 1)
	assert.Equal(t, "SELECT * FROM t WHERE id = ?", e.Query.SQL)
}

func TestParseExportInline(t *testing.T) {
	stmt, err := Parse("EXPORT (SELECT id FROM users) TO json")
	require.NoError(t, err)
	e := stmt.(*Export)
	assert.Equal(t, ExportJSON, e.Format)
	assert.Empty(t, e.Path)
	assert.Equal(t, "SELECT id FROM users", e.Query.SQL)

	_, err = Parse("EXPORT users TO xml")
	requireKind(t, err, ir.KindSyntax)
}

func TestParseExportErrors(t *testing.T) {
	for _, text := range []string{
		"EXPORT users TO 'u.data'",
		"EXPORT users",
		"EXPORT TO 'x.csv'",
		"EXPORT (DELETE FROM users) TO 'x.csv'",
		"EXPORT users TO 'x.csv' FORMAT xml",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			requireKind(t, err, ir.KindSyntax)
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := Parse("SELEC * FROM users")
	e := requireKind(t, err, ir.KindUnknownCommand)
	assert.Equal(t, "SELEC", e.Name)
	assert.Equal(t, 1, e.Line)
	assert.Equal(t, 1, e.Column)

	_, err = Parse("-- leading comment\n  ATTACH 'x.csv'")
	e = requireKind(t, err, ir.KindUnknownCommand)
	assert.Equal(t, 2, e.Line)
	assert.Equal(t, 3, e.Column)
}

func TestParseWith(t *testing.T) {
	q := mustQuery(t, "WITH c AS (SELECT * FROM cities) SELECT * FROM c")
	assert.Equal(t, ClassQuery, q.Class)
	assert.Equal(t, "WITH c AS (SELECT * FROM cities) SELECT * FROM c", q.SQL)
	require.Len(t, q.With, 1)
	assert.Equal(t, "c", q.With[0].Name)
	assert.NotNil(t, q.With[0].AST)

	q = mustQuery(t, "WITH RECURSIVE n(x) AS (SELECT :start UNION ALL SELECT x + 1 FROM n WHERE x < 5), "+
		"m AS MATERIALIZED (SELECT 2 AS y) SELECT x, y FROM n, m")
	assert.Equal(t, ClassQuery, q.Class)
	require.Len(t, q.With, 2)
	assert.Equal(t, "n", q.With[0].Name)
	assert.Equal(t, "m", q.With[1].Name)
	require.Len(t, q.Slots(), 1)
	assert.Equal(t, "start", q.Slots()[0].Name)

	q = mustQuery(t, "WITH src AS (SELECT 1 AS id) INSERT INTO t (id) SELECT id FROM src")
	assert.Equal(t, ClassMutation, q.Class)
}

func TestParseWithErrors(t *testing.T) {
	_, err := Parse("WITH c AS (SELECT * FRM t) SELECT * FROM c")
	e := requireKind(t, err, ir.KindSyntax)
	assert.Equal(t, 21, e.Column, "position points into the expression body")

	for _, text := range []string{
		"WITH c AS (SELECT 1)",
		"WITH c (SELECT 1) SELECT * FROM c",
		"WITH c AS () SELECT * FROM c",
		"WITH c AS (DELETE FROM t) SELECT * FROM c",
		"WITH AS (SELECT 1) SELECT 1",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			requireKind(t, err, ir.KindSyntax)
		})
	}
}

func TestEngineIdiomsPassThrough(t *testing.T) {
	tests := []struct {
		text  string
		class Class
	}{
		{"SELECT id::VARCHAR AS s FROM t", ClassQuery},
		{"SELECT '1.5'::DECIMAL(10, 2) AS d", ClassQuery},
		{"SELECT * FROM t WHERE name ILIKE 'p%'", ClassQuery},
		{"SELECT * FROM t WHERE name NOT ILIKE :pattern", ClassQuery},
		{"INSERT OR REPLACE INTO t (id, name) VALUES (1, 'a')", ClassMutation},
		{"INSERT OR IGNORE INTO t (id) VALUES (1)", ClassMutation},
		{"INSERT OR ABORT INTO t (id) VALUES (1)", ClassMutation},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			q := mustQuery(t, tt.text)
			assert.Equal(t, tt.class, q.Class)
			if len(q.Slots()) == 0 {
				assert.Equal(t, tt.text, q.SQL, "backend text is unchanged")
			}
		})
	}
}

func TestParseCreateAsQuery(t *testing.T) {
	q := mustQuery(t, "CREATE TABLE joined AS SELECT * FROM users JOIN cities ON cities.id = users.city_id")
	assert.Equal(t, ClassDefinition, q.Class)
	require.NotNil(t, q.Body)
	ddl, ok := q.AST.(*sqlparser.DDL)
	require.True(t, ok)
	assert.Equal(t, sqlparser.CreateStr, ddl.Action)
	assert.Equal(t, "joined", ddl.NewName.Name.String())

	q = mustQuery(t, "CREATE OR REPLACE VIEW v (a) AS WITH c AS (SELECT 1 AS x) SELECT x FROM c")
	assert.Equal(t, ClassDefinition, q.Class)
	require.NotNil(t, q.Body)
	require.Len(t, q.With, 1)
	assert.Equal(t, "v", q.AST.(*sqlparser.DDL).NewName.Name.String())

	q = mustQuery(t, "CREATE TEMP TABLE t2 AS (SELECT :id AS id)")
	require.NotNil(t, q.Body)
	require.Len(t, q.Slots(), 1)

	for _, text := range []string{
		"CREATE TABLE bad AS SELECT * FRM users",
		"CREATE VIEW v AS DELETE FROM users",
		"CREATE VIEW v",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			requireKind(t, err, ir.KindSyntax)
		})
	}
}

func TestParseEngineSpecificDDL(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	tests := []struct {
		text   string
		action string
		table  string
	}{
		{"CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)", sqlparser.CreateStr, "t"},
		{"CREATE TABLE IF NOT EXISTS main.t (id INTEGER) STRICT", sqlparser.CreateStr, "t"},
		{"CREATE UNIQUE INDEX IF NOT EXISTS idx ON users (name)", sqlparser.AlterStr, "users"},
		{`DROP VIEW IF EXISTS "old view"`, sqlparser.DropStr, "old view"},
		{"ALTER TABLE users ADD COLUMN age INTEGER DEFAULT 0 NOT NULL", sqlparser.AlterStr, "users"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			q := mustQuery(t, tt.text)
			assert.Equal(t, ClassDefinition, q.Class)
			ddl, ok := q.AST.(*sqlparser.DDL)
			require.True(t, ok)
			assert.Equal(t, tt.action, ddl.Action)
			name := ddl.Table.Name.String()
			if ddl.Action == sqlparser.CreateStr {
				name = ddl.NewName.Name.String()
			}
			assert.Equal(t, tt.table, name)
		})
	}
	assert.Empty(t, logs.String(), "the grammar never writes to the standard logger")

	_, err := Parse("CREATE GIBBERISH x")
	requireKind(t, err, ir.KindSyntax)
}

func TestGrammarErrorPosition(t *testing.T) {
	_, err := Parse("SELECT * FRM users")
	e := requireKind(t, err, ir.KindSyntax)
	assert.Equal(t, 1, e.Line)
	assert.Equal(t, 10, e.Column)
	assert.NotContains(t, e.Message, "at position")
}

func TestSyntaxErrors(t *testing.T) {
	_, err := Parse("   ")
	requireKind(t, err, ir.KindSyntax)

	_, err = Parse("SELECT 1; SELECT 2")
	e := requireKind(t, err, ir.KindSyntax)
	assert.Equal(t, 11, e.Column)

	_, err = Parse("SELECT 'open")
	e = requireKind(t, err, ir.KindSyntax)
	assert.Equal(t, 8, e.Column)

	_, err = Parse("SELECT 1;;")
	require.NoError(t, err)
}

func TestSplit(t *testing.T) {
	stmts, err := Split(`
		CREATE TABLE t (a TEXT);
		INSERT INTO t VALUES ('x;y'); -- trailing; comment
		;
		SELECT * FROM t
	`)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE t (a TEXT)", stmts[0])
	assert.Equal(t, "INSERT INTO t VALUES ('x;y')", stmts[1])
	assert.Equal(t, "SELECT * FROM t", stmts[2])
}
