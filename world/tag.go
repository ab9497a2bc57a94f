package world

import (
	"fmt"
	"strconv"
)

func stateString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case uint8:
		return strconv.Itoa(int(x))
	case int32:
		return strconv.Itoa(int(x))
	default:
		return fmt.Sprint(x)
	}
}

// Int reads a numeric tag of any integer width.
func Int(t Tag, name string) (int64, bool) {
	switch v := t[name].(type) {
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// String reads a string tag.
func String(t Tag, name string) string {
	s, _ := t[name].(string)
	return s
}

// Compound reads a nested compound.
func Compound(t Tag, name string) (Tag, bool) {
	c, ok := t[name].(map[string]any)
	return c, ok
}

// List reads a list tag. go-mc decodes lists as []any; typed lists are widened.
func List(t Tag, name string) []any {
	switch v := t[name].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}

// Doubles reads a list of three floating point numbers (Pos, Motion).
func Doubles(t Tag, name string) ([3]float64, bool) {
	var out [3]float64
	var n int
	switch v := t[name].(type) {
	case []float64:
		n = copy(out[:], v)
	case []float32:
		for i := 0; i < len(v) && i < 3; i++ {
			out[i] = float64(v[i])
		}
		n = len(v)
	case []any:
		for i := 0; i < len(v) && i < 3; i++ {
			switch f := v[i].(type) {
			case float64:
				out[i] = f
			case float32:
				out[i] = float64(f)
			default:
				return out, false
			}
		}
		n = len(v)
	default:
		return out, false
	}
	return out, n >= 3
}

// Clone deep-copies a compound so converters may mutate it freely.
func Clone(t Tag) Tag {
	if t == nil {
		return nil
	}
	out := make(Tag, len(t))
	for k, v := range t {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	case []int32:
		return append([]int32(nil), x...)
	case []int64:
		return append([]int64(nil), x...)
	}
	return v
}
