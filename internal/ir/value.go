package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
	"unicode/utf16"
)

// Normalize folds a provider value into the canonical Go shape used for
// comparison and hashing:
//
//   - json.Number and whole floats become int64; other numbers become float64
//   - all sized ints become int64
//   - []T and map[string]T become []any and map[string]any (recursively)
//   - time.Time is converted to UTC
//
// Strings, bools and nil pass through unchanged.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return val.String()
	case time.Time:
		return val.UTC()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = elem
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Normalize(elem)
		}
		return out
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Equal reports whether two values are equal after normalization.
// Times compare by instant, not by location.
func Equal(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	ta, aIsTime := na.(time.Time)
	tb, bIsTime := nb.(time.Time)
	if aIsTime || bIsTime {
		return aIsTime && bIsTime && ta.Equal(tb)
	}
	return reflect.DeepEqual(na, nb)
}

// String renders a scalar value in its canonical string form. Used for
// value-keyed lookup tables, where configuration keys are always strings.
func String(v any) string {
	switch val := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		b, err := MarshalCanonical(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// SortedKeys returns map keys in RFC 8785 canonical order (UTF-16 code units).
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareKeysRFC8785(keys[i], keys[j]) < 0
	})
	return keys
}

// compareKeysRFC8785 compares keys by UTF-16 code units.
// Must use unicode/utf16.Encode for correct surrogate handling.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
