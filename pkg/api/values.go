package api

import (
	"encoding/json"
	"fmt"
)

// sameValue compares a stored column value against a decoded JSON
// value. The two sides arrive with different dynamic types (drivers
// return int64, JSON returns float64, sqlite stores booleans as
// integers), so comparison normalizes before deciding "changed".
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.(bool); ok {
		return boolEq(ab, b)
	}
	if bb, ok := b.(bool); ok {
		return boolEq(bb, a)
	}
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func boolEq(x bool, other any) bool {
	if ob, ok := other.(bool); ok {
		return x == ob
	}
	if of, ok := toFloat(other); ok {
		return (of != 0) == x
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
