package shimstore

import (
	"fmt"
	"strings"
	"time"
)

// Bound is one endpoint of a KeyRange: a value plus whether that endpoint
// excludes the value itself (an "open" bound).
type Bound struct {
	Value any
	Open  bool
}

// KeyRange restricts a scan to keys between a lower and upper bound,
// either of which may be absent (meaning unbounded on that side).
type KeyRange struct {
	Lower    *Bound
	Upper    *Bound
}

// only returns a range matching exactly one key.
func only(v any) KeyRange {
	return KeyRange{Lower: &Bound{Value: v}, Upper: &Bound{Value: v}}
}

// lowerBound returns a range with only a lower bound.
func lowerBound(v any, open bool) KeyRange {
	return KeyRange{Lower: &Bound{Value: v, Open: open}}
}

// upperBound returns a range with only an upper bound.
func upperBound(v any, open bool) KeyRange {
	return KeyRange{Upper: &Bound{Value: v, Open: open}}
}

// bound returns a range between two endpoints.
func bound(lower, upper any, lowerOpen, upperOpen bool) KeyRange {
	return KeyRange{
		Lower: &Bound{Value: lower, Open: lowerOpen},
		Upper: &Bound{Value: upper, Open: upperOpen},
	}
}

// includes reports whether key falls within the range according to the
// total order defined by cmp.
func (r KeyRange) includes(key any) bool {
	if r.Lower != nil {
		c := cmp(key, r.Lower.Value)
		if c < 0 || (c == 0 && r.Lower.Open) {
			return false
		}
	}
	if r.Upper != nil {
		c := cmp(key, r.Upper.Value)
		if c > 0 || (c == 0 && r.Upper.Open) {
			return false
		}
	}
	return true
}

// typeRank orders the four key types for cross-type comparison: numbers
// sort before dates, dates before strings, strings before tuples. Values
// of a rank never compare equal to values of a different rank.
func typeRank(v any) int {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return 0
	case time.Time:
		return 1
	case string:
		return 2
	case []any:
		return 3
	default:
		return 4
	}
}

func toFloat(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}

// cmp is the total order over key values used throughout the module:
// numbers < dates < strings < tuples, with tuples compared elementwise
// (shorter tuple sorts first when it is a strict prefix of the longer).
// Cross-type comparisons never return 0: a number never equals a string
// even if their textual forms match.
func cmp(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 1:
		ta := a.(time.Time)
		tb := b.(time.Time)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		return cmpTuple(a.([]any), b.([]any))
	default:
		return 0
	}
}

func cmpTuple(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := cmp(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// sqlLiteral renders a key value as a bound SQL parameter-safe literal for
// use inside a query compiler WHERE fragment via placeholder substitution;
// the actual value is always passed as a driver argument, never
// interpolated as text, this only normalizes the Go value into a type the
// driver understands (e.g. time.Time -> RFC3339, []any tuples are
// rejected since no dialect used here has a native tuple column type).
func sqlLiteral(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		return nil, newErr(KindNotImplemented, "sqlLiteral", fmt.Errorf("tuple keys are not supported by the SQL backend"))
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	default:
		return v, nil
	}
}

// whereFragment projects this KeyRange onto a SQL WHERE clause fragment
// against the already-quoted column expression col, returning the SQL text
// (with ? placeholders) and the ordered arguments to bind to it.
func (r KeyRange) whereFragment(col string) (string, []any, error) {
	var parts []string
	var args []any

	if r.Lower != nil {
		lit, err := sqlLiteral(r.Lower.Value)
		if err != nil {
			return "", nil, err
		}
		op := ">="
		if r.Lower.Open {
			op = ">"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, lit)
	}
	if r.Upper != nil {
		lit, err := sqlLiteral(r.Upper.Value)
		if err != nil {
			return "", nil, err
		}
		op := "<="
		if r.Upper.Open {
			op = "<"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, lit)
	}

	return strings.Join(parts, " AND "), args, nil
}

// Where is one clause of a Query's filter set: restrict the named field
// (an index name, or "" for the primary key) to a KeyRange.
type Where struct {
	Field string
	Range KeyRange
}
