package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/hanpama/modelgate/internal/ir"
)

const maxSafeInteger = 1<<53 - 1

// normalize widens numeric values to int64 or float64. Other values are
// returned unchanged.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

// coerce converts a normalized value to the representation of kind. ok is
// false when v can't represent a value of kind.
func coerce(v any, kind ir.TypeKind) (any, bool) {
	v = normalize(v)
	if v == nil {
		return nil, true
	}
	switch kind {
	case ir.TypeInteger:
		switch n := v.(type) {
		case int64:
			return n, n >= -maxSafeInteger && n <= maxSafeInteger
		case float64:
			if n != math.Trunc(n) || math.Abs(n) > maxSafeInteger {
				return nil, false
			}
			return int64(n), true
		}
	case ir.TypeFloat:
		switch n := v.(type) {
		case int64:
			return float64(n), true
		case float64:
			return n, true
		}
	case ir.TypeString:
		if s, ok := v.(string); ok {
			return s, true
		}
	case ir.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, true
		}
	case ir.TypeUnknown, ir.TypeNull:
		return v, true
	}
	return nil, false
}

// parseParam converts a path parameter to the representation of kind.
func parseParam(s string, kind ir.TypeKind) (any, bool) {
	switch kind {
	case ir.TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	case ir.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case ir.TypeBoolean:
		b, err := strconv.ParseBool(s)
		return b, err == nil
	}
	return s, true
}

func toFloat(v any) (float64, bool) {
	switch n := normalize(v).(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// equalValues compares two values, treating integers and floats of the same
// magnitude as equal.
func equalValues(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

// compareValues orders two non-nil values of the same kind. Nil sorts first.
func compareValues(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch x := a.(type) {
	case string:
		y := fmt.Sprint(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return 0
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func stringify(v any) string {
	switch x := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func asInt64(v any) (int64, bool) {
	switch n := normalize(v).(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
