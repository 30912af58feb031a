package rql

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/roach88/noctra/internal/ir"
)

// passthroughKeywords are the leading keywords handed to the general SQL
// grammar. Any other leading keyword that is not a dialect extension is an
// unrecognized command, so a typo in an extension never parses as broken SQL.
var passthroughKeywords = map[string]bool{
	"SELECT":   true,
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"REPLACE":  true,
	"CREATE":   true,
	"DROP":     true,
	"ALTER":    true,
	"RENAME":   true,
	"TRUNCATE": true,
	"WITH":     true,
}

// parser holds the full statement text so every error can be located.
type parser struct {
	src string
}

// Parse parses exactly one RQL statement. A trailing ';' is optional.
//
// Dialect extensions (USE, SET, UNSET, EXPORT, DETACH, SHOW) are recognized
// by their leading keyword. Standard SQL is validated by the general grammar
// and returned as a *Query. Errors are *ir.Error values of kind Syntax,
// UnknownCommand or Parameter carrying a 1-based line and column.
func Parse(text string) (Statement, error) {
	p := &parser{src: text}

	toks, err := tokenize(text)
	if err != nil {
		return nil, p.lexError(err)
	}
	toks, err = p.single(toks)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, ir.NewSyntaxError("empty statement", 1, 1)
	}

	first := toks[0]
	if first.isSymbol("(") {
		return p.query(toks)
	}
	if first.kind != tokWord {
		return nil, p.unknownCommand(first)
	}

	switch strings.ToUpper(first.text) {
	case "USE":
		return p.parseAttach(toks)
	case "SET":
		return p.parseSet(toks)
	case "UNSET":
		return p.parseUnset(toks)
	case "EXPORT":
		return p.parseExport(toks)
	case "DETACH":
		return p.parseDetach(toks)
	case "SHOW":
		return p.parseShow(toks)
	}

	if passthroughKeywords[strings.ToUpper(first.text)] {
		return p.query(toks)
	}
	return nil, p.unknownCommand(first)
}

// query parses a passthrough statement. A failed parse yields a nil
// Statement, never a nil *Query.
func (p *parser) query(toks []token) (Statement, error) {
	q, err := p.parseQuery(toks)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Split splits a script into statements on top-level semicolons. Semicolons
// inside strings, quoted identifiers and comments do not split. Empty
// statements are dropped.
func Split(script string) ([]string, error) {
	toks, err := tokenize(script)
	if err != nil {
		return nil, (&parser{src: script}).lexError(err)
	}

	var stmts []string
	segStart := -1
	for _, t := range toks {
		if t.isSymbol(";") {
			if segStart >= 0 {
				stmts = append(stmts, strings.TrimSpace(script[segStart:t.start]))
			}
			segStart = -1
			continue
		}
		if segStart < 0 {
			segStart = t.start
		}
	}
	if segStart >= 0 {
		stmts = append(stmts, strings.TrimSpace(script[segStart:]))
	}
	return stmts, nil
}

// single strips trailing semicolons and rejects a second statement.
func (p *parser) single(toks []token) ([]token, error) {
	for i, t := range toks {
		if !t.isSymbol(";") {
			continue
		}
		for _, rest := range toks[i+1:] {
			if !rest.isSymbol(";") {
				return nil, p.errorAt(rest.start, "multiple statements are not allowed in one call")
			}
		}
		return toks[:i], nil
	}
	return toks, nil
}

func (p *parser) errorAt(offset int, format string, args ...any) *ir.Error {
	line, col := position(p.src, offset)
	return ir.NewSyntaxError(fmt.Sprintf(format, args...), line, col)
}

func (p *parser) lexError(err error) error {
	var le *lexError
	if errors.As(err, &le) {
		return p.errorAt(le.offset, "%s", le.message)
	}
	return ir.NewSyntaxError(err.Error(), 0, 0)
}

func (p *parser) unknownCommand(t token) *ir.Error {
	line, col := position(p.src, t.start)
	return ir.NewUnknownCommandError(t.text, line, col)
}

func (p *parser) parameterError(t token, ref, format string, args ...any) *ir.Error {
	e := ir.NewParameterError(ref, fmt.Sprintf(format, args...))
	e.Line, e.Column = position(p.src, t.start)
	return e
}

// cursor walks the tokens of one extension command.
type cursor struct {
	p    *parser
	toks []token
	i    int
}

func (p *parser) cursor(toks []token) *cursor {
	return &cursor{p: p, toks: toks, i: 1} // skip the leading keyword
}

func (c *cursor) done() bool { return c.i >= len(c.toks) }

func (c *cursor) peek() (token, bool) {
	if c.done() {
		return token{}, false
	}
	return c.toks[c.i], true
}

func (c *cursor) next() (token, bool) {
	t, ok := c.peek()
	if ok {
		c.i++
	}
	return t, ok
}

// endOffset is where "expected ..." errors point once tokens run out.
func (c *cursor) endOffset() int {
	return c.toks[len(c.toks)-1].end
}

// fail reports an error at the current token, or at end of input.
func (c *cursor) fail(format string, args ...any) *ir.Error {
	if t, ok := c.peek(); ok {
		return c.p.errorAt(t.start, format, args...)
	}
	return c.p.errorAt(c.endOffset(), format, args...)
}

func (c *cursor) expectKeyword(kw string) error {
	t, ok := c.peek()
	if !ok || !t.is(kw) {
		return c.fail("expected %s", kw)
	}
	c.i++
	return nil
}

// identifier accepts a bare word or a quoted identifier.
func (c *cursor) identifier(what string) (token, string, error) {
	t, ok := c.peek()
	if !ok || (t.kind != tokWord && t.kind != tokQuotedIdent) {
		return token{}, "", c.fail("expected %s", what)
	}
	c.i++
	name := ir.NormalizeIdent(t.value)
	if name == "" {
		return token{}, "", c.p.errorAt(t.start, "empty %s", what)
	}
	return t, name, nil
}

// end rejects trailing tokens.
func (c *cursor) end() error {
	if t, ok := c.peek(); ok {
		return c.p.errorAt(t.start, "unexpected %q", t.text)
	}
	return nil
}

// parseAttach parses USE '<path>' AS <alias> [FORMAT <kind>].
func (p *parser) parseAttach(toks []token) (Statement, error) {
	c := p.cursor(toks)

	pathTok, ok := c.peek()
	if !ok || pathTok.kind != tokString {
		return nil, c.fail("USE expects a quoted source path")
	}
	c.i++
	if strings.TrimSpace(pathTok.value) == "" {
		return nil, p.errorAt(pathTok.start, "empty source path")
	}
	if err := c.expectKeyword("AS"); err != nil {
		return nil, err
	}
	_, alias, err := c.identifier("alias")
	if err != nil {
		return nil, err
	}

	var kind SourceKind
	if t, ok := c.peek(); ok && t.is("FORMAT") {
		c.i++
		kt, ok := c.next()
		if !ok || kt.kind != tokWord {
			return nil, c.fail("expected source format after FORMAT")
		}
		kind, ok = parseSourceKind(kt.text)
		if !ok {
			return nil, p.errorAt(kt.start, "unsupported source format %q", kt.text)
		}
	} else {
		kind, ok = sourceKindFromPath(pathTok.value)
		if !ok {
			return nil, p.errorAt(pathTok.start, "cannot infer source format from %q; add FORMAT csv|tsv|json|ndjson|parquet", pathTok.value)
		}
	}
	if err := c.end(); err != nil {
		return nil, err
	}

	return &Attach{Path: pathTok.value, Kind: kind, Alias: alias}, nil
}

func parseSourceKind(s string) (SourceKind, bool) {
	switch strings.ToLower(s) {
	case "csv":
		return SourceCSV, true
	case "tsv":
		return SourceTSV, true
	case "json":
		return SourceJSON, true
	case "ndjson", "jsonl":
		return SourceNDJSON, true
	case "parquet":
		return SourceParquet, true
	}
	return "", false
}

// sourceKindFromPath infers the kind from the file extension, looking
// through a trailing compression suffix (data.csv.gz is csv).
func sourceKindFromPath(path string) (SourceKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".gz", ".zst":
		return sourceKindFromPath(strings.TrimSuffix(path, filepath.Ext(path)))
	case "":
		return "", false
	}
	return parseSourceKind(ext[1:])
}

// parseSet parses SET [@]<name> (= | TO) <value>. A lone literal or
// placeholder is taken as written; anything else is an expression,
// checked and later evaluated as SELECT <expr>.
func (p *parser) parseSet(toks []token) (Statement, error) {
	c := p.cursor(toks)

	name, err := c.variableName()
	if err != nil {
		return nil, err
	}
	if t, ok := c.peek(); ok && (t.isSymbol("=") || t.is("TO")) {
		c.i++
	} else {
		return nil, c.fail("expected = after variable name")
	}

	rest := toks[c.i:]
	if len(rest) == 0 {
		return nil, c.fail("expected value")
	}
	stmt := &SetVariable{Name: name}

	v, ok, err := p.literal(rest)
	if err != nil {
		return nil, err
	}
	if ok {
		stmt.Literal = v
		return stmt, nil
	}

	if isPlaceholder(rest[0]) && (len(rest) == 1 || (len(rest) == 3 && rest[1].kind == tokCast && rest[2].kind == tokWord)) {
		slot := p.slot(rest[0])
		if len(rest) == 3 {
			slot.TypeHint = strings.ToLower(rest[2].text)
		}
		stmt.placeholders, err = p.collect([]Slot{slot}, rest[:1])
		if err != nil {
			return nil, err
		}
		return stmt, nil
	}

	expr, err := p.parseExpr(rest)
	if err != nil {
		return nil, err
	}
	stmt.placeholders = expr.placeholders
	stmt.Expr = expr
	return stmt, nil
}

// literal recognizes a value written as one literal: 'text', an optionally
// signed number, TRUE, FALSE or NULL.
func (p *parser) literal(toks []token) (ir.Value, bool, error) {
	switch len(toks) {
	case 1:
		t := toks[0]
		switch t.kind {
		case tokString:
			return ir.Text(t.value), true, nil
		case tokNumber:
			v, err := p.number(t, false)
			return v, err == nil, err
		case tokWord:
			switch strings.ToUpper(t.text) {
			case "TRUE":
				return ir.Bool(true), true, nil
			case "FALSE":
				return ir.Bool(false), true, nil
			case "NULL":
				return ir.Null{}, true, nil
			}
		}
	case 2:
		if (toks[0].isSymbol("-") || toks[0].isSymbol("+")) && toks[1].kind == tokNumber {
			v, err := p.number(toks[1], toks[0].text == "-")
			return v, err == nil, err
		}
	}
	return nil, false, nil
}

// parseExpr checks a SET expression as SELECT <expr>. It must produce one
// value: no FROM, WHERE or other clause at its top level.
func (p *parser) parseExpr(toks []token) (*Query, error) {
	const prefix = "SELECT "
	rw, err := p.rewrite(toks)
	if err != nil {
		return nil, err
	}
	ast, err := p.parseRange(rw, toks, 0, len(toks), prefix)
	if err != nil {
		return nil, err
	}
	if !isScalarSelect(ast) {
		return nil, p.errorAt(toks[0].start, "SET expects a single value expression")
	}
	return &Query{
		placeholders: rw.placeholders,
		Source:       p.src[toks[0].start:toks[len(toks)-1].end],
		SQL:          prefix + rw.sql,
		AST:          ast,
		Class:        ClassQuery,
	}, nil
}

func isScalarSelect(ast sqlparser.Statement) bool {
	sel, ok := ast.(*sqlparser.Select)
	if !ok || len(sel.SelectExprs) != 1 || len(sel.From) != 1 {
		return false
	}
	if sel.Where != nil || sel.GroupBy != nil || sel.Having != nil || sel.OrderBy != nil || sel.Limit != nil {
		return false
	}
	if _, star := sel.SelectExprs[0].(*sqlparser.StarExpr); star {
		return false
	}
	from, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return false
	}
	tn, ok := from.Expr.(sqlparser.TableName)
	return ok && tn.Qualifier.IsEmpty() && tn.Name.String() == "dual"
}

// variableName accepts "name" or "@name".
func (c *cursor) variableName() (string, error) {
	t, ok := c.peek()
	if ok && t.kind == tokVariable {
		c.i++
		return ir.NormalizeIdent(t.value), nil
	}
	_, name, err := c.identifier("variable name")
	return name, err
}

func (p *parser) number(t token, negate bool) (ir.Value, error) {
	text := t.text
	if negate {
		text = "-" + text
	}
	if !strings.ContainsAny(t.text, ".eE") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return ir.Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorAt(t.start, "invalid number %q", t.text)
	}
	return ir.Float(f), nil
}

// parseUnset parses UNSET [@]<name>.
func (p *parser) parseUnset(toks []token) (Statement, error) {
	c := p.cursor(toks)
	name, err := c.variableName()
	if err != nil {
		return nil, err
	}
	if err := c.end(); err != nil {
		return nil, err
	}
	return &UnsetVariable{Name: name}, nil
}

// parseDetach parses DETACH <alias>.
func (p *parser) parseDetach(toks []token) (Statement, error) {
	c := p.cursor(toks)
	_, alias, err := c.identifier("alias")
	if err != nil {
		return nil, err
	}
	if err := c.end(); err != nil {
		return nil, err
	}
	return &Detach{Alias: alias}, nil
}

// parseShow parses SHOW VARS | VARIABLES | SOURCES | HISTORY.
func (p *parser) parseShow(toks []token) (Statement, error) {
	c := p.cursor(toks)
	t, ok := c.next()
	if !ok || t.kind != tokWord {
		return nil, c.fail("expected VARS, SOURCES or HISTORY")
	}

	var target ShowTarget
	switch strings.ToUpper(t.text) {
	case "VARS", "VARIABLES":
		target = ShowVars
	case "SOURCES":
		target = ShowSources
	case "HISTORY":
		target = ShowHistory
	default:
		return nil, p.errorAt(t.start, "expected VARS, SOURCES or HISTORY")
	}
	if err := c.end(); err != nil {
		return nil, err
	}
	return &Show{Target: target}, nil
}

// parseExport parses EXPORT <query | table> TO '<path>' [FORMAT <format>]
// and EXPORT <query | table> TO <format>.
func (p *parser) parseExport(toks []token) (Statement, error) {
	body := toks[1:]
	n := len(body)

	var format ExportFormat
	var formatTok *token
	if n >= 2 && body[n-2].is("FORMAT") {
		formatTok = &body[n-1]
		body = body[:n-2]
		n -= 2
	}
	if formatTok == nil && n >= 3 && body[n-2].is("TO") && body[n-1].kind == tokWord {
		// EXPORT <query> TO <format>: rendered inline, no file.
		f, ok := parseExportFormat(body[n-1].text)
		if !ok {
			return nil, p.errorAt(body[n-1].start, "unsupported export format %q", body[n-1].text)
		}
		query, err := p.exportQuery(body[:n-2])
		if err != nil {
			return nil, err
		}
		return &Export{Query: query, Format: f}, nil
	}
	if n < 3 || !body[n-2].is("TO") || body[n-1].kind != tokString {
		return nil, p.errorAt(toks[len(toks)-1].end, "EXPORT expects <query> TO '<path>' or TO <format>")
	}
	pathTok := body[n-1]
	queryToks := body[:n-2]

	if formatTok != nil {
		f, ok := parseExportFormat(formatTok.text)
		if !ok {
			return nil, p.errorAt(formatTok.start, "unsupported export format %q", formatTok.text)
		}
		format = f
	} else {
		f, ok := parseExportFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(pathTok.value)), "."))
		if !ok {
			return nil, p.errorAt(pathTok.start, "cannot infer export format from %q; add FORMAT csv|tsv|json|yaml", pathTok.value)
		}
		format = f
	}

	query, err := p.exportQuery(queryToks)
	if err != nil {
		return nil, err
	}
	return &Export{Query: query, Path: pathTok.value, Format: format}, nil
}

// exportQuery accepts a bare table name, a parenthesized query or a bare query.
func (p *parser) exportQuery(toks []token) (*Query, error) {
	if len(toks) == 1 && (toks[0].kind == tokWord || toks[0].kind == tokQuotedIdent) && !toks[0].is("SELECT") {
		sql, grammar := "SELECT * FROM "+toks[0].text, "SELECT * FROM "+toks[0].text
		if toks[0].kind == tokQuotedIdent {
			sql = "SELECT * FROM \"" + strings.ReplaceAll(toks[0].value, `"`, `""`) + `"`
			grammar = "SELECT * FROM `" + strings.ReplaceAll(toks[0].value, "`", "``") + "`"
		}
		ast, err := sqlparser.ParseStrictDDL(grammar)
		if err != nil {
			return nil, p.errorAt(toks[0].start, "invalid table name %q", toks[0].text)
		}
		return &Query{Source: sql, SQL: sql, AST: ast, Class: ClassQuery}, nil
	}

	if toks[0].isSymbol("(") && closesAt(toks) == len(toks)-1 {
		if len(toks) == 2 {
			return nil, p.errorAt(toks[0].start, "empty query")
		}
		toks = toks[1 : len(toks)-1]
	}
	if !(toks[0].is("SELECT") || toks[0].is("WITH") || toks[0].isSymbol("(")) {
		return nil, p.errorAt(toks[0].start, "EXPORT expects a query or a table name")
	}

	q, err := p.parseQuery(toks)
	if err != nil {
		return nil, err
	}
	if q.Class != ClassQuery {
		return nil, p.errorAt(toks[0].start, "EXPORT expects a query or a table name")
	}
	return q, nil
}

// closesAt returns the index of the token closing the parenthesis at toks[0].
func closesAt(toks []token) int {
	depth := 0
	for i, t := range toks {
		switch {
		case t.isSymbol("("):
			depth++
		case t.isSymbol(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseExportFormat(s string) (ExportFormat, bool) {
	switch strings.ToLower(s) {
	case "csv":
		return ExportCSV, true
	case "tsv":
		return ExportTSV, true
	case "json":
		return ExportJSON, true
	case "yaml", "yml":
		return ExportYAML, true
	}
	return "", false
}

// parseQuery rewrites placeholders and validates the text with the general
// SQL grammar.
func (p *parser) parseQuery(toks []token) (*Query, error) {
	rw, err := p.rewrite(toks)
	if err != nil {
		return nil, err
	}

	q := &Query{
		placeholders: rw.placeholders,
		Source:       p.src[toks[0].start:toks[len(toks)-1].end],
		SQL:          rw.sql,
	}
	switch {
	case toks[0].is("WITH"):
		q.With, q.AST, err = p.parseWith(rw, toks, 0, len(toks))
	case schemaKeywords[strings.ToUpper(toks[0].text)] && toks[0].kind == tokWord:
		err = p.parseDefinition(rw, toks, q)
	default:
		q.AST, err = p.parseRange(rw, toks, 0, len(toks), "")
	}
	if err != nil {
		return nil, err
	}
	q.Class = classify(q.AST)
	return q, nil
}

// schemaKeywords lead statements that define or change tables.
var schemaKeywords = map[string]bool{
	"CREATE":   true,
	"DROP":     true,
	"ALTER":    true,
	"RENAME":   true,
	"TRUNCATE": true,
}

// parseRange checks toks[lo:hi] against the general grammar. prefix is
// prepended to the text and excluded from error positions.
func (p *parser) parseRange(rw *rewritten, toks []token, lo, hi int, prefix string) (sqlparser.Statement, error) {
	if lo >= hi {
		return nil, p.errorAt(toks[len(toks)-1].end, "expected a statement")
	}
	ast, err := sqlparser.ParseStrictDDL(prefix + rw.span(lo, hi))
	if err != nil {
		return nil, p.grammarError(err, rw, rw.at[lo]-len(prefix), rw.at[lo], rw.at[hi])
	}
	return ast, nil
}

// parseWith splits WITH [RECURSIVE] name [(cols)] AS (query), ... stmt into
// its common table expressions and the statement that uses them. Each
// expression body is checked on its own; CTEs nested in a body are
// flattened into the result ahead of the expression that declares them.
func (p *parser) parseWith(rw *rewritten, toks []token, lo, hi int) ([]CTE, sqlparser.Statement, error) {
	fail := func(i int, msg string) error {
		if i < hi {
			return p.errorAt(toks[i].start, "%s", msg)
		}
		return p.errorAt(toks[hi-1].end, "%s", msg)
	}

	i := lo + 1
	if i < hi && toks[i].is("RECURSIVE") {
		i++
	}

	var ctes []CTE
	for {
		if i >= hi || (toks[i].kind != tokWord && toks[i].kind != tokQuotedIdent) {
			return nil, nil, fail(i, "expected common table expression name")
		}
		name := ir.NormalizeIdent(toks[i].value)
		i++
		if i < hi && toks[i].isSymbol("(") {
			n := closesAt(toks[i:hi])
			if n < 0 {
				return nil, nil, fail(i, "unbalanced parenthesis")
			}
			i += n + 1
		}
		if i >= hi || !toks[i].is("AS") {
			return nil, nil, fail(i, "expected AS")
		}
		i++
		if i+1 < hi && toks[i].is("NOT") && toks[i+1].is("MATERIALIZED") {
			i++
		}
		if i < hi && toks[i].is("MATERIALIZED") {
			i++
		}
		if i >= hi || !toks[i].isSymbol("(") {
			return nil, nil, fail(i, "expected ( after AS")
		}
		n := closesAt(toks[i:hi])
		if n < 0 {
			return nil, nil, fail(i, "unbalanced parenthesis")
		}
		if n == 1 {
			return nil, nil, fail(i, "empty common table expression")
		}
		inner, body, err := p.parseSelect(rw, toks, i+1, i+n)
		if err != nil {
			return nil, nil, err
		}
		ctes = append(ctes, inner...)
		ctes = append(ctes, CTE{Name: name, AST: body})

		i += n + 1
		if i < hi && toks[i].isSymbol(",") {
			i++
			continue
		}
		break
	}

	if i >= hi {
		return nil, nil, fail(i, "expected a statement after WITH")
	}
	ast, err := p.parseRange(rw, toks, i, hi, "")
	if err != nil {
		return nil, nil, err
	}
	return ctes, ast, nil
}

// parseSelect checks a query body, with or without a WITH clause. Outer
// parentheses around the whole body are dropped.
func (p *parser) parseSelect(rw *rewritten, toks []token, lo, hi int) ([]CTE, sqlparser.Statement, error) {
	if toks[lo].isSymbol("(") && closesAt(toks[lo:hi]) == hi-lo-1 && hi-lo > 2 {
		return p.parseSelect(rw, toks, lo+1, hi-1)
	}

	var ctes []CTE
	var ast sqlparser.Statement
	var err error
	if toks[lo].is("WITH") {
		ctes, ast, err = p.parseWith(rw, toks, lo, hi)
	} else {
		ast, err = p.parseRange(rw, toks, lo, hi, "")
	}
	if err != nil {
		return nil, nil, err
	}
	if classify(ast) != ClassQuery {
		return nil, nil, p.errorAt(toks[lo].start, "expected a query")
	}
	return ctes, ast, nil
}

// parseDefinition handles CREATE, DROP, ALTER, RENAME and TRUNCATE.
//
// CREATE TABLE ... AS and CREATE VIEW ... AS check their query like any
// other query. Otherwise the statement goes through the grammar strictly;
// the grammar knows a MySQL subset of column definitions, so when it
// rejects the text the statement is accepted on its leading shape
// (CREATE TABLE name, DROP VIEW name, ...) and the engine checks the rest.
func (p *parser) parseDefinition(rw *rewritten, toks []token, q *Query) error {
	if at := queryBodyStart(toks); at > 0 {
		ddl, ok := ddlShape(toks[:at-1])
		if !ok || ddl.Action != sqlparser.CreateStr {
			return p.errorAt(toks[0].start, "expected CREATE TABLE <name> AS or CREATE VIEW <name> AS")
		}
		ctes, body, err := p.parseSelect(rw, toks, at, len(toks))
		if err != nil {
			return err
		}
		q.AST, q.With, q.Body = ddl, ctes, body
		return nil
	}

	if createsView(toks) {
		return p.errorAt(toks[len(toks)-1].end, "CREATE VIEW expects AS <query>")
	}

	ast, err := p.parseRange(rw, toks, 0, len(toks), "")
	if err == nil {
		q.AST = ast
		return nil
	}
	ddl, ok := ddlShape(toks)
	if !ok {
		return err
	}
	q.AST = ddl
	return nil
}

// queryBodyStart returns the index of the query after a top-level AS in a
// CREATE statement, or -1. Column definitions (generated columns) sit
// inside parentheses and never match.
func queryBodyStart(toks []token) int {
	if !toks[0].is("CREATE") {
		return -1
	}
	depth := 0
	for i, t := range toks {
		switch {
		case t.isSymbol("("):
			depth++
		case t.isSymbol(")"):
			depth--
		case depth == 0 && t.is("AS") && i+1 < len(toks):
			next := toks[i+1]
			if next.is("SELECT") || next.is("WITH") || next.isSymbol("(") {
				return i + 1
			}
		}
	}
	return -1
}

// createsView reports whether toks begin CREATE [OR REPLACE] [TEMP] VIEW.
func createsView(toks []token) bool {
	if !toks[0].is("CREATE") {
		return false
	}
	for _, t := range toks[1:] {
		switch {
		case t.is("VIEW"):
			return true
		case t.is("OR"), t.is("REPLACE"), t.is("TEMP"), t.is("TEMPORARY"):
		default:
			return false
		}
	}
	return false
}

// ddlShape reads the leading shape of a schema statement:
//
//	CREATE [OR REPLACE] [TEMP | TEMPORARY] TABLE | VIEW [IF NOT EXISTS] name
//	DROP TABLE | VIEW [IF EXISTS] name
//	CREATE [UNIQUE] INDEX ... ON name
//	ALTER TABLE | VIEW name
//	TRUNCATE [TABLE] name
func ddlShape(toks []token) (*sqlparser.DDL, bool) {
	i := 0
	accept := func(keywords ...string) bool {
		if i >= len(toks) {
			return false
		}
		for _, kw := range keywords {
			if toks[i].is(kw) {
				i++
				return true
			}
		}
		return false
	}

	var action string
	switch {
	case accept("CREATE"):
		action = sqlparser.CreateStr
		if accept("OR") && !accept("REPLACE") {
			return nil, false
		}
		accept("TEMP", "TEMPORARY")
		if accept("UNIQUE", "INDEX") {
			return indexShape(toks, i)
		}
	case accept("DROP"):
		action = sqlparser.DropStr
	case accept("ALTER"):
		action = sqlparser.AlterStr
	case accept("TRUNCATE"):
		action = sqlparser.TruncateStr
	default:
		return nil, false
	}

	if !accept("TABLE", "VIEW") && action != sqlparser.TruncateStr {
		return nil, false
	}
	if accept("IF") {
		if action == sqlparser.CreateStr && !accept("NOT") {
			return nil, false
		}
		if !accept("EXISTS") {
			return nil, false
		}
	}

	if i >= len(toks) || (toks[i].kind != tokWord && toks[i].kind != tokQuotedIdent) {
		return nil, false
	}
	tn := sqlparser.TableName{Name: sqlparser.NewTableIdent(toks[i].value)}
	if i+2 < len(toks) && toks[i+1].isSymbol(".") && (toks[i+2].kind == tokWord || toks[i+2].kind == tokQuotedIdent) {
		tn = sqlparser.TableName{
			Qualifier: sqlparser.NewTableIdent(toks[i].value),
			Name:      sqlparser.NewTableIdent(toks[i+2].value),
		}
	}

	ddl := &sqlparser.DDL{Action: action}
	if action == sqlparser.CreateStr {
		ddl.NewName = tn
	} else {
		ddl.Table = tn
	}
	return ddl, true
}

// indexShape reads the rest of CREATE [UNIQUE] INDEX [IF NOT EXISTS] name
// ON table. An index lives with its table, so the shape is an ALTER of it.
func indexShape(toks []token, i int) (*sqlparser.DDL, bool) {
	for ; i < len(toks); i++ {
		if toks[i].is("ON") && i+1 < len(toks) && (toks[i+1].kind == tokWord || toks[i+1].kind == tokQuotedIdent) {
			tn := sqlparser.TableName{Name: sqlparser.NewTableIdent(toks[i+1].value)}
			return &sqlparser.DDL{Action: sqlparser.AlterStr, Table: tn, NewName: tn}, true
		}
	}
	return nil, false
}

func classify(ast sqlparser.Statement) Class {
	switch ast.(type) {
	case *sqlparser.Select, *sqlparser.Union, *sqlparser.ParenSelect:
		return ClassQuery
	case *sqlparser.DDL, *sqlparser.DBDDL:
		return ClassDefinition
	default:
		return ClassMutation
	}
}

var grammarPosition = regexp.MustCompile(` at position (\d+)(?: near '(.*)')?$`)

// grammarError maps a grammar error back onto the original text. The
// grammar reports the byte position just past the offending token (plus its
// one-character lookahead) in the text it was given; shift converts that to
// an offset in the rewritten text, clamped to [lo, hi].
func (p *parser) grammarError(err error, rw *rewritten, shift, lo, hi int) *ir.Error {
	msg := err.Error()
	offset := rw.origin[lo]

	if m := grammarPosition.FindStringSubmatch(msg); m != nil {
		pos, _ := strconv.Atoi(m[1])
		at := pos - 1 - len(m[2]) + shift
		if at < lo {
			at = lo
		}
		if at > hi {
			at = hi
		}
		offset = rw.origin[at]
		msg = strings.Replace(msg, " at position "+m[1], "", 1)
	}

	e := p.errorAt(offset, "%s", msg)
	e.Err = err
	return e
}
