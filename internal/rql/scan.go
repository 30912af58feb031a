package rql

import (
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/noctra/internal/ir"
)

// rewritten is a passthrough statement with placeholders replaced by ?.
type rewritten struct {
	placeholders

	// sql is the backend text.
	sql string

	// grammar is sql adjusted for the general grammar: "double-quoted"
	// identifiers become `backticks`, and engine idioms the grammar lacks
	// (::type casts, ILIKE, INSERT OR ...) are blanked or respelled. It has
	// the same length as sql, so positions carry over.
	grammar string

	// origin maps every byte offset of sql (plus one past the end) back to
	// an offset in the original statement text.
	origin []int

	// at[i] is the offset in sql where toks[i] begins; at[len(toks)] is
	// len(sql). A token swallowed by a placeholder type hint sits right
	// after the placeholder's ?.
	at []int
}

// span returns the grammar text of toks[lo:hi].
func (rw *rewritten) span(lo, hi int) string {
	return rw.grammar[rw.at[lo]:rw.at[hi]]
}

// rewrite replaces each placeholder token with a native ? and strips a
// directly following ::type, recording it as the slot's type hint. Value
// text never enters the SQL; values are bound by the backend driver.
func (p *parser) rewrite(toks []token) (*rewritten, error) {
	var b strings.Builder
	var origin []int
	var slots []Slot
	var slotToks []token
	at := make([]int, len(toks)+1)
	patch := dialectPatches(toks)

	emit := func(from, to int) {
		b.WriteString(p.src[from:to])
		for o := from; o < to; o++ {
			origin = append(origin, o)
		}
	}

	start, end := toks[0].start, toks[len(toks)-1].end
	copied := start
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		at[i] = b.Len() + t.start - copied
		switch t.kind {
		case tokQuestion:
			return nil, p.parameterError(t, "?", "use :name or $n placeholders instead of ?")
		case tokNamedParam, tokPositionalParam, tokVariable:
		default:
			continue
		}

		slot := p.slot(t)
		emit(copied, t.start)
		b.WriteByte('?')
		origin = append(origin, t.start)
		copied = t.end

		if i+2 < len(toks) && toks[i+1].kind == tokCast && toks[i+2].kind == tokWord {
			slot.TypeHint = strings.ToLower(toks[i+2].text)
			copied = toks[i+2].end
			at[i+1], at[i+2] = b.Len(), b.Len()
			i += 2
		}
		slots = append(slots, slot)
		slotToks = append(slotToks, t)
	}
	emit(copied, end)
	origin = append(origin, end)
	at[len(toks)] = b.Len()

	ph, err := p.collect(slots, slotToks)
	if err != nil {
		return nil, err
	}
	sql := b.String()
	grammar := []byte(sql)
	for i := range grammar {
		if c, ok := patch[origin[i]]; ok && grammar[i] == p.src[origin[i]] {
			grammar[i] = c
		}
	}
	return &rewritten{placeholders: ph, sql: sql, grammar: string(grammar), origin: origin, at: at}, nil
}

// dialectPatches returns byte substitutions, keyed by source offset, that
// turn engine idioms into text the general grammar accepts. Every
// substitution is one byte for one byte.
func dialectPatches(toks []token) map[int]byte {
	patch := make(map[int]byte)
	blank := func(t token) {
		for o := t.start; o < t.end; o++ {
			patch[o] = ' '
		}
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.kind == tokQuotedIdent && t.text[0] == '"':
			patch[t.start] = '`'
			patch[t.end-1] = '`'

		case t.is("ILIKE"):
			patch[t.start] = ' '

		case t.kind == tokCast:
			if i > 0 && isPlaceholder(toks[i-1]) {
				continue // a type hint, stripped by rewrite
			}
			// expr::TYPE and expr::TYPE(p, s) check as plain expr.
			blank(t)
			if i+1 < len(toks) && toks[i+1].kind == tokWord {
				i++
				blank(toks[i])
				if i+1 < len(toks) && toks[i+1].isSymbol("(") {
					if n := closesAt(toks[i+1:]); n > 0 {
						for _, inner := range toks[i+1 : i+2+n] {
							blank(inner)
						}
						i += n + 1
					}
				}
			}

		case t.is("INSERT") && i+2 < len(toks) && toks[i+1].is("OR") && toks[i+2].kind == tokWord:
			// INSERT OR REPLACE checks as REPLACE, INSERT OR IGNORE as
			// INSERT IGNORE and any other conflict clause as plain INSERT.
			switch {
			case toks[i+2].is("REPLACE"):
				blank(t)
				blank(toks[i+1])
			case toks[i+2].is("IGNORE"):
				blank(toks[i+1])
			default:
				blank(toks[i+1])
				blank(toks[i+2])
			}
			i += 2
		}
	}
	return patch
}

func isPlaceholder(t token) bool {
	return t.kind == tokNamedParam || t.kind == tokPositionalParam || t.kind == tokVariable
}

// slot builds the Slot for a placeholder token.
func (p *parser) slot(t token) Slot {
	s := Slot{Name: t.value}
	s.Line, s.Column = position(p.src, t.start)
	switch t.kind {
	case tokPositionalParam:
		s.Kind = SlotPositional
		s.Name = ""
		s.Index, _ = strconv.Atoi(t.value)
		if s.Index == 0 && strings.Trim(t.value, "0") != "" {
			s.Index = -1 // overflow; rejected by collect
		}
	case tokVariable:
		s.Kind = SlotVariable
		s.Name = ir.NormalizeIdent(t.value)
	default:
		s.Kind = SlotNamed
	}
	return s
}

// collect validates slots and derives the distinct parameter list.
//
// Rules:
//   - named (:name) and positional ($n) styles are mutually exclusive
//   - positional indexes are 1-based
//   - one parameter cannot carry two different type hints
//
// Session variable slots are not parameters and mix freely with either style.
func (p *parser) collect(slots []Slot, toks []token) (placeholders, error) {
	var params []Parameter
	seen := make(map[string]int)
	var style *Slot

	for i := range slots {
		s := slots[i]
		if s.Kind == SlotVariable {
			continue
		}
		if style == nil {
			style = &slots[i]
		} else if style.Kind != s.Kind {
			return placeholders{}, p.parameterError(toks[i], s.Ref(),
				"named (%s) and positional (%s) placeholders cannot be mixed", namedOf(style, &s).Ref(), positionalOf(style, &s).Ref())
		}
		if s.Kind == SlotPositional && s.Index < 1 {
			return placeholders{}, p.parameterError(toks[i], toks[i].text, "positional parameters are 1-based")
		}

		key := s.Ref()
		if at, ok := seen[key]; ok {
			if s.TypeHint != "" && params[at].TypeHint != "" && s.TypeHint != params[at].TypeHint {
				return placeholders{}, p.parameterError(toks[i], key, "conflicting type hints %q and %q", params[at].TypeHint, s.TypeHint)
			}
			if params[at].TypeHint == "" {
				params[at].TypeHint = s.TypeHint
			}
			continue
		}

		param := Parameter{Name: s.Name, Index: s.Index, TypeHint: s.TypeHint}
		if s.Kind == SlotPositional {
			param.Kind = ParamPositional
		}
		seen[key] = len(params)
		params = append(params, param)
	}

	if style != nil && style.Kind == SlotPositional {
		sort.SliceStable(params, func(i, j int) bool { return params[i].Index < params[j].Index })
	}

	// A hint on any occurrence applies to every occurrence of that parameter.
	for i := range slots {
		if slots[i].Kind == SlotVariable || slots[i].TypeHint != "" {
			continue
		}
		for _, prm := range params {
			if prm.Name == slots[i].Name && prm.Index == slots[i].Index {
				slots[i].TypeHint = prm.TypeHint
			}
		}
	}

	return placeholders{slots: slots, params: params}, nil
}

func namedOf(a, b *Slot) *Slot {
	if a.Kind == SlotNamed {
		return a
	}
	return b
}

func positionalOf(a, b *Slot) *Slot {
	if a.Kind == SlotPositional {
		return a
	}
	return b
}
