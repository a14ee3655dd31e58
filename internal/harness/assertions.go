package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Target   string            // "provider/mapping"
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	Records  []provider.Record // Records of the target, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s on %s\n", e.Type, e.Target)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "\nRecords:\n")
		for i, rec := range e.Records {
			data, err := ir.MarshalCanonical(rec)
			if err != nil {
				fmt.Fprintf(&buf, "  [%d] %v\n", i+1, rec)
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, data)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the final records of
// result and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = assertRecord(result.Records, a)
		case AssertRecordCount:
			err = assertRecordCount(result.Records, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

// assertRecord checks that exactly one record matches Where and that it
// holds every Expect value.
func assertRecord(records map[string][]provider.Record, a Assertion) error {
	target := recordsKey(a.Provider, a.Mapping)
	all, ok := records[target]
	if !ok {
		return fmt.Errorf("no records captured for %s", target)
	}

	matched, err := filterRecords(all, a.Where)
	if err != nil {
		return err
	}
	if len(matched) != 1 {
		return &AssertionError{
			Type:     AssertRecord,
			Target:   target,
			Expected: fmt.Sprintf("one record where %s", describe(a.Where)),
			Actual:   fmt.Sprintf("%d records", len(matched)),
			Records:  all,
		}
	}

	rec := matched[0]
	for _, key := range ir.SortedKeys(a.Expect) {
		want := a.Expect[key]
		got, found, err := lookup(rec, key)
		if err != nil {
			return err
		}
		if !found {
			return &AssertionError{
				Type:     AssertRecord,
				Target:   target,
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("%s is absent", key),
				Records:  matched,
			}
		}
		if !ir.Equal(want, got) {
			return &AssertionError{
				Type:     AssertRecord,
				Target:   target,
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("%s = %v", key, got),
				Records:  matched,
			}
		}
	}
	return nil
}

// assertRecordCount checks the number of records matching Where. An empty
// Where counts every record.
func assertRecordCount(records map[string][]provider.Record, a Assertion) error {
	target := recordsKey(a.Provider, a.Mapping)
	all, ok := records[target]
	if !ok {
		return fmt.Errorf("no records captured for %s", target)
	}
	matched, err := filterRecords(all, a.Where)
	if err != nil {
		return err
	}
	if len(matched) != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Target:   target,
			Expected: fmt.Sprintf("%d records where %s", a.Count, describe(a.Where)),
			Actual:   fmt.Sprintf("%d records", len(matched)),
			Records:  all,
		}
	}
	return nil
}

func filterRecords(records []provider.Record, where map[string]any) ([]provider.Record, error) {
	var out []provider.Record
	for _, rec := range records {
		match := true
		for key, want := range where {
			got, found, err := lookup(rec, key)
			if err != nil {
				return nil, err
			}
			if !found || !ir.Equal(want, got) {
				match = false
				break
			}
		}
		if match {
			out = append(out, rec)
		}
	}
	return out, nil
}

func lookup(rec provider.Record, key string) (any, bool, error) {
	path, err := fieldpath.Parse(key)
	if err != nil {
		return nil, false, fmt.Errorf("invalid path %q: %w", key, err)
	}
	v, found := fieldpath.Get(rec, path)
	return v, found, nil
}

func describe(where map[string]any) string {
	if len(where) == 0 {
		return "(any)"
	}
	parts := make([]string, 0, len(where))
	for k, v := range where {
		parts = append(parts, fmt.Sprintf("%s = %v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
