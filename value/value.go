// Package value implements the dynamic value model used for record fields,
// violations and journal entries.
//
// Value is a sealed interface. Accessors never coerce between kinds; a kind
// mismatch is reported with a *MismatchError.
package value

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the concrete type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindList:   "list",
	KindMap:    "map",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Value is one of Null, String, Int, Float, Bool, List or Map.
type Value interface {
	Kind() Kind
	String() string
	sealed()
}

type Null struct{}

type String string

type Int int64

type Float float64

type Bool bool

type List []Value

// Map is a string keyed map of values. Use SortedKeys for deterministic iteration.
type Map map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (String) Kind() Kind { return KindString }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) sealed()   {}
func (String) sealed() {}
func (Int) sealed()    {}
func (Float) sealed()  {}
func (Bool) sealed()   {}
func (List) sealed()   {}
func (Map) sealed()    {}

func (Null) String() string     { return "" }
func (v String) String() string { return string(v) }
func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }

func (v List) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v Map) String() string {
	keys := v.SortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + v[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// SortedKeys returns the map keys in ascending order.
func (v Map) SortedKeys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a shallow copy of the map.
func (v Map) Clone() Map {
	out := make(Map, len(v))
	for k, e := range v {
		out[k] = e
	}
	return out
}

// MismatchError is returned when a value is accessed as the wrong kind.
type MismatchError struct {
	Want Kind
	Got  Kind
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("value kind mismatch: want %s got %s", e.Want, e.Got)
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

func AsString(v Value) (string, error) {
	s, ok := v.(String)
	if !ok {
		return "", &MismatchError{Want: KindString, Got: kindOf(v)}
	}
	return string(s), nil
}

func AsInt(v Value) (int64, error) {
	i, ok := v.(Int)
	if !ok {
		return 0, &MismatchError{Want: KindInt, Got: kindOf(v)}
	}
	return int64(i), nil
}

func AsFloat(v Value) (float64, error) {
	f, ok := v.(Float)
	if !ok {
		return 0, &MismatchError{Want: KindFloat, Got: kindOf(v)}
	}
	return float64(f), nil
}

func AsBool(v Value) (bool, error) {
	b, ok := v.(Bool)
	if !ok {
		return false, &MismatchError{Want: KindBool, Got: kindOf(v)}
	}
	return bool(b), nil
}

func AsList(v Value) (List, error) {
	l, ok := v.(List)
	if !ok {
		return nil, &MismatchError{Want: KindList, Got: kindOf(v)}
	}
	return l, nil
}

func AsMap(v Value) (Map, error) {
	m, ok := v.(Map)
	if !ok {
		return nil, &MismatchError{Want: KindMap, Got: kindOf(v)}
	}
	return m, nil
}

// IsNull returns true for nil and Null values.
func IsNull(v Value) bool {
	return kindOf(v) == KindNull
}

// Equal returns true if both values have the same kind and contents.
func Equal(a, b Value) bool {
	if kindOf(a) != kindOf(b) {
		return false
	}
	switch x := a.(type) {
	case nil, Null:
		return true
	case List:
		y := b.(List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y := b.(Map)
		if len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Key returns a string that is equal for two values if and only if the values are Equal.
func Key(v Value) string {
	return kindOf(v).String() + ":" + keyBody(v)
}

func keyBody(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return ""
	case String:
		return strconv.Quote(string(t))
	case List:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Key(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case Map:
		keys := t.SortedKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + "=" + Key(t[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return t.String()
	}
}
