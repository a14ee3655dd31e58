package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// DatetimeTolerance is the window within which two datetime values compare
// equal. Providers round and reformat timestamps on write, so an exact
// comparison would report a change on every run.
const DatetimeTolerance = 5 * time.Minute

// datetimeLayouts are tried in order when coercing a string to a datetime.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700", // Jama
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a raw provider value into the canonical Go value for the
// field's kind. A nil value stays nil (absent), except for syncStatus fields
// which decode to an unsynced StatusValue.
func Coerce(def *ir.FieldDefinition, raw any) (any, error) {
	v := ir.Normalize(raw)
	if v == nil {
		if def.Kind == ir.KindSyncStatus {
			return StatusValue{State: ir.StateUnsynced}, nil
		}
		return nil, nil
	}

	switch def.Kind {
	case ir.KindString, ir.KindReference:
		return coerceString(def, v)
	case ir.KindRichText:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(def, v, "is not a string")
		}
		return s, nil
	case ir.KindEnum:
		s, err := coerceString(def, v)
		if err != nil {
			return nil, err
		}
		if len(def.Values) > 0 && !contains(def.Values, s.(string)) {
			return nil, invalid(def, v, fmt.Sprintf("is not one of %v", def.Values))
		}
		return s, nil
	case ir.KindInt:
		return coerceInt(def, v)
	case ir.KindFloat:
		return coerceFloat(def, v)
	case ir.KindDatetime:
		return coerceDatetime(def, v)
	case ir.KindSyncStatus:
		if sv, ok := v.(StatusValue); ok {
			return sv, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, invalid(def, v, "is not a status string")
		}
		sv, err := ParseStatus(s)
		if err != nil {
			return nil, syncerr.Schema(def.Name, "%v", err)
		}
		return sv, nil
	default:
		return nil, syncerr.Schema(def.Name, "unknown field kind %q", def.Kind)
	}
}

func coerceString(def *ir.FieldDefinition, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int64, float64:
		return ir.String(val), nil
	default:
		return nil, invalid(def, v, "is not a string - or convertible to a string")
	}
}

func coerceInt(def *ir.FieldDefinition, v any) (any, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, invalid(def, v, "is not an int")
		}
		return n, nil
	default:
		return nil, invalid(def, v, "is not an int")
	}
}

func coerceFloat(def *ir.FieldDefinition, v any) (any, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, invalid(def, v, "is not a float")
		}
		return f, nil
	default:
		return nil, invalid(def, v, "is not a float")
	}
}

func coerceDatetime(def *ir.FieldDefinition, v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case int64:
		return time.Unix(val, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(val)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case string:
		t, err := ParseDatetime(val)
		if err != nil {
			return nil, invalid(def, v, "is not a datetime")
		}
		return t, nil
	default:
		return nil, invalid(def, v, "is not a datetime - or convertible to a datetime")
	}
}

// ParseDatetime parses the datetime formats used by supported providers.
// Values without a zone are taken as UTC.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// Default returns the default value for a field, resolving the "now" rule
// for datetime fields against the supplied clock reading.
func Default(def *ir.FieldDefinition, now time.Time) (any, bool) {
	if def.Default == nil {
		return nil, false
	}
	if def.Kind == ir.KindDatetime {
		if s, ok := def.Default.(string); ok && s == ir.DefaultNow {
			return now.UTC(), true
		}
	}
	v, err := Coerce(def, def.Default)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// Equal compares two coerced values of the field's kind.
func Equal(def *ir.FieldDefinition, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch def.Kind {
	case ir.KindDatetime:
		ta, okA := a.(time.Time)
		tb, okB := b.(time.Time)
		if !okA || !okB {
			return false
		}
		d := ta.Sub(tb)
		if d < 0 {
			d = -d
		}
		return d <= DatetimeTolerance
	case ir.KindRichText:
		sa, okA := a.(string)
		sb, okB := b.(string)
		return okA && okB && NormalizeRichText(sa) == NormalizeRichText(sb)
	case ir.KindSyncStatus:
		sa, okA := a.(StatusValue)
		sb, okB := b.(StatusValue)
		return okA && okB && sa.State == sb.State && sa.SyncedAt.Equal(sb.SyncedAt)
	case ir.KindFloat:
		fa, okA := a.(float64)
		fb, okB := b.(float64)
		if okA && okB {
			return math.Abs(fa-fb) <= 1e-9*math.Max(1, math.Max(math.Abs(fa), math.Abs(fb)))
		}
		return ir.Equal(a, b)
	default:
		return ir.Equal(a, b)
	}
}

// Encode converts a coerced value back into the form written to providers.
// Datetimes become RFC 3339 strings and status values their rendered text.
func Encode(def *ir.FieldDefinition, v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case StatusValue:
		return val.String()
	default:
		return v
	}
}

func invalid(def *ir.FieldDefinition, v any, why string) error {
	return syncerr.Schema(def.Name, "field %s value %v %s", def.Name, v, why)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
