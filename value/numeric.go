package value

import "fmt"

// IsNumeric returns true for Int and Float values.
func IsNumeric(v Value) bool {
	k := kindOf(v)
	return k == KindInt || k == KindFloat
}

// Number returns the numeric value of an Int or Float as a float64.
func Number(v Value) (float64, error) {
	switch t := v.(type) {
	case Int:
		return float64(t), nil
	case Float:
		return float64(t), nil
	default:
		return 0, &MismatchError{Want: KindFloat, Got: kindOf(v)}
	}
}

// Compare returns -1, 0 or 1 comparing two numeric values.
func Compare(a, b Value) (int, error) {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	x, err := Number(a)
	if err != nil {
		return 0, err
	}
	y, err := Number(b)
	if err != nil {
		return 0, err
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// Sum adds two numeric values. Two Ints produce an Int, otherwise a Float.
func Sum(a, b Value) (Value, error) {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			return x + y, nil
		}
	}
	x, err := Number(a)
	if err != nil {
		return nil, err
	}
	y, err := Number(b)
	if err != nil {
		return nil, err
	}
	return Float(x + y), nil
}

// Average returns the mean of two numeric values.
//
// Two Ints produce an Int truncated toward zero, otherwise a Float.
func Average(a, b Value) (Value, error) {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			return Int((int64(x) + int64(y)) / 2), nil
		}
	}
	x, err := Number(a)
	if err != nil {
		return nil, err
	}
	y, err := Number(b)
	if err != nil {
		return nil, err
	}
	return Float((x + y) / 2), nil
}

// FromAny converts plain Go values into a Value.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToAny converts a Value into plain Go values.
func ToAny(v Value) any {
	switch t := v.(type) {
	case String:
		return string(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case Bool:
		return bool(t)
	case List:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}
