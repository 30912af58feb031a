// Package template binds parameter values and session variables to the
// placeholder slots of a parsed RQL statement.
//
// Resolution is all-or-nothing: a missing binding fails the statement, it is
// never replaced by NULL. Values are passed to the backend as native driver
// arguments in slot order, so no value text is ever spliced into SQL.
package template

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/rql"
)

// Bindings are the caller-supplied parameter values for one statement.
type Bindings struct {
	// Named maps parameter names (without the leading ':') to values.
	Named map[string]ir.Value

	// Positional holds $1..$n; Positional[0] binds $1.
	Positional []ir.Value
}

// Resolved is a statement together with its bound arguments.
type Resolved struct {
	Statement rql.Statement

	// Args are the backend arguments, one per slot, in slot order.
	Args []ir.Value

	// Value is the value assigned by a SET statement; nil otherwise and
	// for a SET expression, which is evaluated with Args.
	Value ir.Value
}

// Resolve walks the statement's slots in source order and produces the
// argument list.
//
// Errors:
//   - missing :name or $n binding: Parameter error naming the placeholder
//   - missing @name: SessionVariableNotFound error
//   - value not convertible to the slot's type hint: Parameter error
func Resolve(stmt rql.Statement, b Bindings, vars map[string]ir.Value) (*Resolved, error) {
	slots := stmt.Slots()
	args := make([]ir.Value, 0, len(slots))

	for _, slot := range slots {
		v, err := lookup(slot, b, vars)
		if err != nil {
			return nil, err
		}
		if slot.TypeHint != "" {
			v, err = Coerce(v, slot.TypeHint)
			if err != nil {
				e := ir.NewParameterError(slot.Ref(), fmt.Sprintf("cannot bind %s as %s: %v", slot.Ref(), slot.TypeHint, err))
				e.Line, e.Column = slot.Line, slot.Column
				return nil, e
			}
		}
		args = append(args, v)
	}

	r := &Resolved{Statement: stmt, Args: args}
	if set, ok := stmt.(*rql.SetVariable); ok && set.Expr == nil {
		if set.Literal != nil {
			r.Value = set.Literal
		} else if len(args) == 1 {
			r.Value = args[0]
		} else {
			return nil, ir.NewInternalError(fmt.Sprintf("SET %s has no value", set.Name))
		}
		r.Args = nil
	}
	return r, nil
}

func lookup(slot rql.Slot, b Bindings, vars map[string]ir.Value) (ir.Value, error) {
	switch slot.Kind {
	case rql.SlotVariable:
		v, ok := vars[slot.Name]
		if !ok {
			e := ir.NewSessionVariableNotFoundError(slot.Name)
			e.Line, e.Column = slot.Line, slot.Column
			return nil, e
		}
		return orNull(v), nil

	case rql.SlotPositional:
		if slot.Index < 1 || slot.Index > len(b.Positional) {
			return nil, missing(slot)
		}
		return orNull(b.Positional[slot.Index-1]), nil

	default:
		v, ok := b.Named[slot.Name]
		if !ok {
			return nil, missing(slot)
		}
		return orNull(v), nil
	}
}

func missing(slot rql.Slot) *ir.Error {
	e := ir.NewParameterError(slot.Ref(), fmt.Sprintf("missing value for parameter %s", slot.Ref()))
	e.Line, e.Column = slot.Line, slot.Column
	return e
}

// orNull maps an absent interface value to an explicit SQL NULL. A binding
// that is present but nil is an intentional NULL.
func orNull(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}

// Coerce converts v to the type named by a ::type hint. NULL passes through
// every hint. Unrecognized hints leave the value unchanged and are left to
// the backend's own casting.
func Coerce(v ir.Value, hint string) (ir.Value, error) {
	if ir.IsNull(v) {
		return v, nil
	}
	switch strings.ToLower(hint) {
	case "int", "integer", "bigint", "smallint", "int64":
		return toInt(v)
	case "float", "real", "double", "numeric", "decimal":
		return toFloat(v)
	case "text", "varchar", "string", "char":
		return toText(v), nil
	case "bool", "boolean":
		return toBool(v)
	}
	return v, nil
}

func toInt(v ir.Value) (ir.Value, error) {
	switch x := v.(type) {
	case ir.Int:
		return x, nil
	case ir.Float:
		f := float64(x)
		if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("%v is not an integer", f)
		}
		return ir.Int(int64(f)), nil
	case ir.Bool:
		if x {
			return ir.Int(1), nil
		}
		return ir.Int(0), nil
	case ir.Text:
		n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", string(x))
		}
		return ir.Int(n), nil
	}
	return nil, fmt.Errorf("%s is not an integer", ir.TypeName(v))
}

func toFloat(v ir.Value) (ir.Value, error) {
	switch x := v.(type) {
	case ir.Float:
		return x, nil
	case ir.Int:
		return ir.Float(float64(x)), nil
	case ir.Text:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", string(x))
		}
		return ir.Float(f), nil
	}
	return nil, fmt.Errorf("%s is not a number", ir.TypeName(v))
}

func toText(v ir.Value) ir.Value {
	switch x := v.(type) {
	case ir.Text:
		return x
	case ir.Blob:
		return ir.Text(string(x))
	}
	return ir.Text(v.String())
}

func toBool(v ir.Value) (ir.Value, error) {
	switch x := v.(type) {
	case ir.Bool:
		return x, nil
	case ir.Int:
		switch x {
		case 0:
			return ir.Bool(false), nil
		case 1:
			return ir.Bool(true), nil
		}
	case ir.Text:
		b, err := strconv.ParseBool(strings.TrimSpace(string(x)))
		if err == nil {
			return ir.Bool(b), nil
		}
	}
	return nil, fmt.Errorf("%s %s is not a boolean", ir.TypeName(v), v.String())
}

// Infer turns untyped text (a CLI flag, a REPL argument) into the most
// specific value it spells: NULL, a boolean, an integer, a float, or text.
// Surrounding single quotes force text.
func Infer(s string) ir.Value {
	t := strings.TrimSpace(s)
	if len(t) >= 2 && t[0] == '\'' && t[len(t)-1] == '\'' {
		return ir.Text(strings.ReplaceAll(t[1:len(t)-1], "''", "'"))
	}
	switch strings.ToLower(t) {
	case "null":
		return ir.Null{}
	case "true":
		return ir.Bool(true)
	case "false":
		return ir.Bool(false)
	}
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return ir.Int(n)
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return ir.Float(f)
	}
	return ir.Text(s)
}
