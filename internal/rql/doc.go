// Package rql parses RQL: standard SQL plus dialect extensions.
//
// Parsing happens in two layers. A small lexer tokenizes the statement so
// extension commands (USE, SET, UNSET, EXPORT, DETACH, SHOW) can be
// recognized by their leading keyword and placeholders can be extracted
// without being fooled by strings or comments. Standard SQL is then
// validated by the general grammar (github.com/xwb1989/sqlparser) and
// carried as a sub-AST on *Query. The grammar is MySQL-flavoured, so
// engine idioms (double-quoted identifiers, ILIKE, ::TYPE casts, INSERT OR
// REPLACE) are patched in place before it sees the text, and WITH clauses
// are split into their common table expressions before each part is
// checked.
//
// Placeholder syntax:
//   - :name  named parameter
//   - $n     positional parameter, 1-based
//   - @name  session variable
//
// Named and positional styles cannot be mixed in one statement. Every
// placeholder is rewritten to a native ? in the backend text; values are
// bound by the driver, never spliced into SQL.
package rql
