package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Value is a sealed interface representing one scalar datum exchanged with
// a backend. Only Null, Int, Float, Text, Bool and Blob implement it, so a
// type switch over a Value is exhaustive.
type Value interface {
	value() // Sealed - only these types implement it

	// Native returns the database/sql driver representation of the value.
	Native() any

	// String renders the value for tabular output.
	String() string
}

// Null is the absent value.
type Null struct{}

func (Null) value() {}

// Native implements Value.
func (Null) Native() any { return nil }

func (Null) String() string { return "NULL" }

// Int is a 64-bit signed integer.
type Int int64

func (Int) value() {}

// Native implements Value.
func (v Int) Native() any { return int64(v) }

func (v Int) String() string { return strconv.FormatInt(int64(v), 10) }

// Float is a 64-bit IEEE-754 number.
type Float float64

func (Float) value() {}

// Native implements Value.
func (v Float) Native() any { return float64(v) }

func (v Float) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

// Text is a UTF-8 string.
type Text string

func (Text) value() {}

// Native implements Value.
func (v Text) Native() any { return string(v) }

func (v Text) String() string { return string(v) }

// Bool is a boolean.
type Bool bool

func (Bool) value() {}

// Native implements Value.
func (v Bool) Native() any { return bool(v) }

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }

// Blob is an opaque byte string.
type Blob []byte

func (Blob) value() {}

// Native implements Value.
func (v Blob) Native() any { return []byte(v) }

func (v Blob) String() string { return "0x" + hex.EncodeToString(v) }

// IsNull reports whether v is the null variant (a nil interface counts as null).
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// TypeName returns the variant name used in diagnostics.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case Int:
		return "integer"
	case Float:
		return "float"
	case Text:
		return "text"
	case Bool:
		return "boolean"
	case Blob:
		return "blob"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Equal is strict equality: null is unequal to everything, including null,
// and values of different variants are never equal.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return false
	}
	return sameVariantEqual(a, b)
}

// SameGroup is grouping equality: like Equal, except that two nulls fall
// into the same group.
func SameGroup(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	return sameVariantEqual(a, b)
}

func sameVariantEqual(a, b Value) bool {
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Float:
		y, ok := b.(Float)
		return ok && x == y
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Blob:
		y, ok := b.(Blob)
		return ok && bytes.Equal(x, y)
	}
	return false
}

// Compare orders two values of the same variant. The boolean result is false
// when either side is null or the variants differ; ordering is undefined then.
// false sorts before true.
func Compare(a, b Value) (int, bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case Float:
		y, ok := b.(Float)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case Text:
		y, ok := b.(Text)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case Bool:
		y, ok := b.(Bool)
		if !ok {
			return 0, false
		}
		return cmpOrdered(boolRank(x), boolRank(y)), true
	case Blob:
		y, ok := b.(Blob)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x, y), true
	}
	return 0, false
}

func boolRank(b Bool) int {
	if b {
		return 1
	}
	return 0
}

func cmpOrdered[T ~int | ~int64 | ~float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FromNative converts a value produced by a database/sql driver (or decoded
// from JSON/YAML) into a Value.
//
// Conversion rules:
//   - nil → Null
//   - signed and unsigned integers → Int (unsigned values above MaxInt64 become Text)
//   - float32/float64 → Float
//   - string → Text
//   - []byte → Blob
//   - bool → Bool
//   - time.Time → Text in RFC 3339 with nanoseconds
//   - *big.Int → Int when it fits, Text otherwise
//   - anything else → Text via fmt
func FromNative(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case int64:
		return Int(x)
	case int:
		return Int(x)
	case float64:
		return Float(x)
	case string:
		return Text(x)
	case []byte:
		return Blob(bytes.Clone(x))
	case bool:
		return Bool(x)
	case time.Time:
		return Text(x.Format(time.RFC3339Nano))
	case *big.Int:
		if x == nil {
			return Null{}
		}
		if x.IsInt64() {
			return Int(x.Int64())
		}
		return Text(x.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Text(strconv.FormatUint(u, 10))
		}
		return Int(int64(u))
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}
		}
		return FromNative(rv.Elem().Interface())
	}
	return Text(fmt.Sprint(v))
}

// FromColumn converts a driver value read from a column with the given
// declared type. Byte slices from columns that are not declared as binary
// and hold valid UTF-8 are treated as text, since some drivers hand TEXT
// columns back as []byte.
func FromColumn(v any, declType string) Value {
	b, ok := v.([]byte)
	if !ok {
		return FromNative(v)
	}
	if isBinaryType(declType) || !utf8.Valid(b) {
		return Blob(bytes.Clone(b))
	}
	return Text(string(b))
}

func isBinaryType(declType string) bool {
	t := strings.ToUpper(declType)
	return strings.Contains(t, "BLOB") || strings.Contains(t, "BINARY") || t == "BYTEA"
}

// Natives converts a slice of values to driver arguments.
func Natives(vals []Value) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			args[i] = nil
			continue
		}
		args[i] = v.Native()
	}
	return args
}
