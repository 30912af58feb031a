package rql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenKind classifies lexer tokens.
type tokenKind int

const (
	tokWord            tokenKind = iota // bare identifier or keyword
	tokQuotedIdent                      // "name" or `name`
	tokString                           // 'text'
	tokNumber                           // 12, 1.5, .5, 1e3
	tokNamedParam                       // :name
	tokPositionalParam                  // $n
	tokVariable                         // @name
	tokQuestion                         // ?
	tokCast                             // ::
	tokSymbol                           // any other single character
)

// token is one lexeme. start/end are byte offsets into the statement text;
// value holds the decoded payload (string contents, identifier, parameter
// name or index digits).
type token struct {
	kind  tokenKind
	text  string
	value string
	start int
	end   int
}

// is reports whether the token is the given keyword (case-insensitive).
func (t token) is(keyword string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, keyword)
}

// isSymbol reports whether the token is the given single-character symbol.
func (t token) isSymbol(s string) bool {
	return t.kind == tokSymbol && t.text == s
}

// lexError carries the byte offset of a lexing failure.
type lexError struct {
	offset  int
	message string
}

func (e *lexError) Error() string { return e.message }

// tokenize splits src into tokens, skipping whitespace and comments.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])

		switch {
		case unicode.IsSpace(r):
			i += size
			continue

		case r == '-' && strings.HasPrefix(src[i:], "--"):
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				i = len(src)
			} else {
				i += nl + 1
			}
			continue

		case r == '/' && strings.HasPrefix(src[i:], "/*"):
			closing := strings.Index(src[i+2:], "*/")
			if closing < 0 {
				return nil, &lexError{offset: i, message: "unterminated block comment"}
			}
			i += 2 + closing + 2
			continue

		case r == '\'':
			end, value, ok := scanQuoted(src, i, '\'')
			if !ok {
				return nil, &lexError{offset: i, message: "unterminated string literal"}
			}
			toks = append(toks, token{kind: tokString, text: src[i:end], value: value, start: i, end: end})
			i = end

		case r == '"' || r == '`':
			end, value, ok := scanQuoted(src, i, byte(r))
			if !ok {
				return nil, &lexError{offset: i, message: "unterminated quoted identifier"}
			}
			toks = append(toks, token{kind: tokQuotedIdent, text: src[i:end], value: value, start: i, end: end})
			i = end

		case isIdentStart(r):
			end := scanIdent(src, i+size, true)
			toks = append(toks, token{kind: tokWord, text: src[i:end], value: src[i:end], start: i, end: end})
			i = end

		case isDigit(r) || (r == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			end := scanNumber(src, i)
			toks = append(toks, token{kind: tokNumber, text: src[i:end], value: src[i:end], start: i, end: end})
			i = end

		case r == ':' && strings.HasPrefix(src[i:], "::"):
			toks = append(toks, token{kind: tokCast, text: "::", start: i, end: i + 2})
			i += 2

		case r == ':' && startsIdent(src, i+1):
			end := scanIdent(src, i+1, false)
			toks = append(toks, token{kind: tokNamedParam, text: src[i:end], value: src[i+1 : end], start: i, end: end})
			i = end

		case r == '$' && i+1 < len(src) && isDigit(rune(src[i+1])):
			end := i + 1
			for end < len(src) && isDigit(rune(src[end])) {
				end++
			}
			toks = append(toks, token{kind: tokPositionalParam, text: src[i:end], value: src[i+1 : end], start: i, end: end})
			i = end

		case r == '@' && startsIdent(src, i+1):
			end := scanIdent(src, i+1, false)
			toks = append(toks, token{kind: tokVariable, text: src[i:end], value: src[i+1 : end], start: i, end: end})
			i = end

		case r == '?':
			toks = append(toks, token{kind: tokQuestion, text: "?", start: i, end: i + 1})
			i++

		default:
			toks = append(toks, token{kind: tokSymbol, text: src[i : i+size], start: i, end: i + size})
			i += size
		}
	}
	return toks, nil
}

// scanQuoted scans a quoted run starting at src[start] (the opening quote).
// A doubled quote character is an escaped quote. Returns the end offset
// (past the closing quote) and the unescaped contents.
func scanQuoted(src string, start int, quote byte) (int, string, bool) {
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == quote {
			if i+1 < len(src) && src[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return i + 1, b.String(), true
		}
		b.WriteByte(c)
		i++
	}
	return 0, "", false
}

// scanIdent returns the end offset of the identifier continuing at i.
// allowDollar admits '$' inside bare words (SQLite and DuckDB accept it).
func scanIdent(src string, i int, allowDollar bool) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if !isIdentPart(r) && !(allowDollar && r == '$') {
			break
		}
		i += size
	}
	return i
}

func scanNumber(src string, i int) int {
	for i < len(src) && isDigit(rune(src[i])) {
		i++
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(rune(src[i])) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(rune(src[j])) {
			i = j
			for i < len(src) && isDigit(rune(src[i])) {
				i++
			}
		}
	}
	return i
}

func startsIdent(src string, i int) bool {
	if i >= len(src) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(src[i:])
	return isIdentStart(r)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

// isIdentPart admits combining marks so decomposed names lex whole.
func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.In(r, unicode.Mn, unicode.Mc)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// position converts a byte offset into a 1-based line and column.
// Columns count runes, not bytes.
func position(src string, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	if offset < 0 {
		offset = 0
	}
	line, col := 1, 1
	for _, r := range src[:offset] {
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
