package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// Cast targets.
const (
	CastString = "string"
	CastInt    = "int"
	CastFloat  = "float"
	CastBool   = "bool"
)

// CastStep converts scalar values to another primitive type. nil passes
// through so an absent source value stays absent.
type CastStep struct {
	to string
}

func newCastStep(decl ir.TransformStep) (*CastStep, error) {
	switch decl.To {
	case CastString, CastInt, CastFloat, CastBool:
		return &CastStep{to: decl.To}, nil
	default:
		return nil, syncerr.Configuration("E406", "cast step: unsupported target %q", decl.To)
	}
}

// Kind implements Step.
func (c *CastStep) Kind() string { return KindCast }

// Apply implements Step.
func (c *CastStep) Apply(v any) (any, error) {
	n := ir.Normalize(v)
	if n == nil {
		return nil, nil
	}
	switch c.to {
	case CastString:
		return ir.String(n), nil
	case CastInt:
		switch val := n.(type) {
		case int64:
			return val, nil
		case bool:
			if val {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to int", val)
			}
			return i, nil
		}
	case CastFloat:
		switch val := n.(type) {
		case int64:
			return float64(val), nil
		case float64:
			return val, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to float", val)
			}
			return f, nil
		}
	case CastBool:
		switch val := n.(type) {
		case bool:
			return val, nil
		case int64:
			return val != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "yes", "1":
				return true, nil
			case "false", "no", "0", "":
				return false, nil
			}
			return nil, fmt.Errorf("cannot cast %q to bool", val)
		}
	}
	return nil, fmt.Errorf("cannot cast %T to %s", n, c.to)
}
