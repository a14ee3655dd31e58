// Package querysql compiles queryir selects into parameterized SQLite SQL
// over a JSON document table:
//
//	CREATE TABLE <collection> (id TEXT PRIMARY KEY, data TEXT NOT NULL, ...)
//
// Field paths become json_extract calls on the data column. Every query
// orders by id so paging is deterministic, and every value (including JSON
// paths) is bound as a parameter, never interpolated.
package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/queryir"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCompiler compiles queryir to SQL for SQLite.
type SQLCompiler struct {
	// DataColumn holds the JSON document. Defaults to "data".
	DataColumn string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{DataColumn: "data"}
}

// Compile converts a query to (sql, params).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query")
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	if !identPattern.MatchString(q.From) {
		return "", nil, fmt.Errorf("invalid table name %q", q.From)
	}

	var conds []string
	var params []any
	if q.Filter != nil {
		sql, p, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		conds = append(conds, sql)
		params = append(params, p...)
	}
	if q.After != "" {
		conds = append(conds, "id > ?")
		params = append(params, q.After)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, %s FROM %s", c.DataColumn, q.From)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id ASC COLLATE BINARY")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		param, err := toParam(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return c.extract() + " = ?", []any{JSONPath(pred.Field), param}, nil
	case *queryir.Equals:
		return c.compilePredicate(*pred)
	case queryir.In:
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil
		}
		params := []any{JSONPath(pred.Field)}
		for _, v := range pred.Values {
			param, err := toParam(v)
			if err != nil {
				return "", nil, err
			}
			params = append(params, param)
		}
		holders := strings.TrimSuffix(strings.Repeat("?, ", len(pred.Values)), ", ")
		return c.extract() + " IN (" + holders + ")", params, nil
	case *queryir.In:
		return c.compilePredicate(*pred)
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, p, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, p...)
		}
		return strings.Join(parts, " AND "), params, nil
	case *queryir.And:
		return c.compilePredicate(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) extract() string {
	return "json_extract(" + c.DataColumn + ", ?)"
}

// JSONPath renders p as an SQLite JSON path. Every object key is quoted and
// numeric segments become array indexes.
func JSONPath(p fieldpath.Path) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p.Segments() {
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(seg, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// toParam converts a filter literal to a driver value. Booleans become 1/0
// because json_extract returns integers for JSON true/false.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case nil:
		return nil, fmt.Errorf("null cannot be used as a filter value")
	default:
		return nil, fmt.Errorf("unsupported filter value type %T", v)
	}
}
