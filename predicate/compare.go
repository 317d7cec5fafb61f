package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrIncomparable is returned when ordering operators receive values of unrelated kinds.
var ErrIncomparable = errors.New("values are not comparable")

// Lookup resolves a dotted path (a.b.0.c) inside nested maps and slices.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || data == nil {
		return nil, false
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]string:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Compare applies op to left and right.
func Compare(left any, op Op, right any) (bool, error) {
	switch NormalizeOp(op) {
	case OpEq:
		return Equal(left, right), nil
	case OpNe:
		return !Equal(left, right), nil
	case OpGt, OpLt, OpGte, OpLte:
		cmp, err := order(left, right)
		if err != nil {
			return false, err
		}
		switch NormalizeOp(op) {
		case OpGt:
			return cmp > 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpGte:
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpContains:
		return contains(left, right), nil
	case OpIn:
		return contains(right, left), nil
	case OpExists:
		return left != nil, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// Equal compares values treating all numeric kinds as float64.
func Equal(left, right any) bool {
	if lf, ok := ToFloat(left); ok {
		if rf, ok := ToFloat(right); ok {
			return lf == rf
		}
		return false
	}
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		return ok && ls == rs
	}
	if lt, ok := toTime(left); ok {
		if rt, ok := toTime(right); ok {
			return lt.Equal(rt)
		}
	}
	return reflect.DeepEqual(left, right)
}

func order(left, right any) (int, error) {
	if lf, ok := ToFloat(left); ok {
		rf, ok := ToFloat(right)
		if !ok {
			return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, left, right)
		}
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if lt, ok := toTime(left); ok {
		if rt, ok := toTime(right); ok {
			return lt.Compare(rt), nil
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return strings.Compare(ls, rs), nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, left, right)
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case nil:
		return false
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case map[string]any:
		k, ok := item.(string)
		if !ok {
			return false
		}
		_, exists := c[k]
		return exists
	}
	rv := reflect.ValueOf(container)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if Equal(rv.Index(i).Interface(), item) {
			return true
		}
	}
	return false
}

// ToFloat converts numeric values to float64. Strings are not coerced.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		return ts, err == nil
	default:
		return time.Time{}, false
	}
}

// ToTime converts time.Time, RFC3339 strings and unix seconds to a time.
func ToTime(v any) (time.Time, bool) {
	if t, ok := toTime(v); ok {
		return t, true
	}
	if f, ok := ToFloat(v); ok {
		return time.Unix(int64(f), 0).UTC(), true
	}
	return time.Time{}, false
}
