// Package fieldpath parses provider-native field paths and resolves internal
// field names to and from them.
//
// Path syntax is a dot-separated list of segments. A segment containing dots,
// spaces or other reserved characters is wrapped in square brackets:
//
//	fields.name                  -> ["fields", "name"]
//	fields.[System.Title]        -> ["fields", "System.Title"]
//	fields.[Microsoft.VSTS.Common.Priority]
//
// Paths are parsed once at load time; per-item reads and writes walk the
// already parsed segments.
package fieldpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a parsed field path.
type Path struct {
	segments []string
}

// Parse parses a path expression.
func Parse(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return Path{}, fmt.Errorf("empty path")
	}

	var segments []string
	for i := 0; i < len(s); {
		var seg string
		if s[i] == '[' {
			end := strings.IndexByte(s[i+1:], ']')
			if end < 0 {
				return Path{}, fmt.Errorf("path %q: unclosed bracket at offset %d", s, i)
			}
			seg = s[i+1 : i+1+end]
			i += end + 2
			if i < len(s) && s[i] != '.' {
				return Path{}, fmt.Errorf("path %q: expected '.' after bracketed segment at offset %d", s, i)
			}
		} else {
			end := strings.IndexByte(s[i:], '.')
			if end < 0 {
				end = len(s) - i
			}
			seg = s[i : i+end]
			if strings.ContainsAny(seg, "[]") {
				return Path{}, fmt.Errorf("path %q: bracket inside segment %q", s, seg)
			}
			i += end
		}
		if seg == "" {
			return Path{}, fmt.Errorf("path %q: empty segment", s)
		}
		segments = append(segments, seg)

		if i < len(s) {
			// skip the separator; a trailing dot leaves an empty segment
			i++
			if i == len(s) {
				return Path{}, fmt.Errorf("path %q: trailing '.'", s)
			}
		}
	}
	return Path{segments: segments}, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// New builds a path from raw segments.
func New(segments ...string) Path {
	return Path{segments: append([]string(nil), segments...)}
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// IsZero reports whether the path is empty.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// String renders the path in canonical syntax, bracketing only where needed.
func (p Path) String() string {
	parts := make([]string, len(p.segments))
	for i, seg := range p.segments {
		if strings.ContainsAny(seg, ".[] ") {
			parts[i] = "[" + seg + "]"
		} else {
			parts[i] = seg
		}
	}
	return strings.Join(parts, ".")
}

// Get reads the value at path from a nested record. Numeric segments index
// into arrays.
func Get(record map[string]any, p Path) (any, bool) {
	if p.IsZero() {
		return nil, false
	}
	var cur any = record
	for _, seg := range p.segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path, creating intermediate objects as needed.
// It fails when an intermediate segment holds a non-object value.
func Set(record map[string]any, p Path, value any) error {
	if p.IsZero() {
		return fmt.Errorf("set: empty path")
	}
	cur := record
	last := len(p.segments) - 1
	for i, seg := range p.segments[:last] {
		next, ok := cur[seg]
		if !ok || next == nil {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("set %s: segment %q holds %T, not an object", p, strings.Join(p.segments[:i+1], "."), next)
		}
		cur = child
	}
	cur[p.segments[last]] = value
	return nil
}
