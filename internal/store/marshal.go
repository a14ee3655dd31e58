package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
)

// timeLayout has fixed-width fractional seconds so stored times sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalChanged converts a changed-field list to canonical JSON TEXT.
func marshalChanged(changed []string) (string, error) {
	if len(changed) == 0 {
		return "[]", nil
	}
	data, err := ir.MarshalCanonical(changed)
	if err != nil {
		return "", fmt.Errorf("marshal changed: %w", err)
	}
	return string(data), nil
}

// marshalFieldErrors converts field errors to canonical JSON TEXT.
func marshalFieldErrors(errs []engine.FieldError) (string, error) {
	if len(errs) == 0 {
		return "[]", nil
	}
	data, err := ir.MarshalCanonical(errs)
	if err != nil {
		return "", fmt.Errorf("marshal field errors: %w", err)
	}
	return string(data), nil
}

func unmarshalChanged(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal changed: %w", err)
	}
	return out, nil
}

func unmarshalFieldErrors(data string) ([]engine.FieldError, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var out []engine.FieldError
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal field errors: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
