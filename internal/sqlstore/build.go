package sqlstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
)

// Query building helpers: the origin table is always aliased Origin, the
// extended-property side table Extent, and the parent mapping table Link.
// Joins are added only when the compiled predicate or sort references them.

// expand flattens @name parameters to positional ? placeholders in the order
// they appear in the expression.
func expand(expr string, params map[string]any) (string, []any) {
	if expr == "" || len(params) == 0 {
		return expr, nil
	}

	var out strings.Builder
	var args []any

	for i := 0; i < len(expr); i++ {
		if expr[i] != '@' {
			out.WriteByte(expr[i])
			continue
		}
		j := i + 1
		for j < len(expr) && isParamChar(expr[j]) {
			j++
		}
		name := expr[i+1 : j]
		if v, ok := params[name]; ok {
			out.WriteByte('?')
			args = append(args, writeScalar(v))
			i = j - 1
			continue
		}
		out.WriteByte(expr[i])
	}

	return out.String(), args
}

func isParamChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// selectParts is one assembled SELECT against an entity's tables.
type selectParts struct {
	columns  string
	from     string
	where    string
	args     []any
	order    string
	distinct bool
}

func (s *Store) buildSelect(def *domain.EntityDefinition, pred *domain.SQLPredicate, order domain.SQLOrderBy) selectParts {
	var p selectParts

	cols := make([]string, 0, len(def.Attributes))
	for i := range def.Attributes {
		cols = append(cols, "Origin."+def.Attributes[i].Column())
	}
	p.columns = strings.Join(cols, ", ")

	expr := ""
	if !pred.Empty() {
		expr = pred.Expr
	}
	refs := expr + " " + string(order)

	p.from = def.Table + " Origin"
	if strings.Contains(refs, "Extent.") {
		pk := def.Attribute(def.PrimaryKey).Column()
		p.from += " LEFT JOIN " + def.ExtendedTable() + " Extent ON Extent.object_id = Origin." + pk
		p.distinct = true
	}
	if strings.Contains(refs, "Link.") && def.Parent != nil {
		pk := def.Attribute(def.PrimaryKey).Column()
		p.from += " LEFT JOIN " + def.Parent.LinkTable + " Link ON Link." + def.Parent.LinkChildColumn + " = Origin." + pk
		p.distinct = true
	}

	if expr != "" {
		where, args := expand(expr, pred.Params)
		p.where = where
		p.args = args
	}

	p.order = string(order)
	return p
}

func (p selectParts) query(limit, offset int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if p.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(p.columns)
	b.WriteString(" FROM ")
	b.WriteString(p.from)
	if p.where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(p.where)
	}
	if p.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(p.order)
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

// writeScalar normalizes Go values to the portable set both drivers accept.
// Booleans travel as integers so the same DDL works on both backends.
func writeScalar(v any) any {
	switch b := v.(type) {
	case bool:
		if b {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return b.UTC()
	default:
		return v
	}
}

// writeValue extracts an attribute's storable value from a record.
func writeValue(attr *domain.AttributeInfo, rec domain.Record) any {
	v, ok := rec.Get(attr.Name)
	if !ok || v == nil {
		return nil
	}
	return writeScalar(v)
}

// readValue converts a scanned column back to the attribute's Go
// representation. Integers surface as int64, floats as float64.
func readValue(attr *domain.AttributeInfo, raw any) any {
	if raw == nil {
		return nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch attr.Type {
	case domain.AttrString:
		if s, ok := raw.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", raw)
	case domain.AttrInt:
		switch n := raw.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
		return raw
	case domain.AttrFloat:
		switch n := raw.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
		return raw
	case domain.AttrBool:
		switch n := raw.(type) {
		case bool:
			return n
		case int64:
			return n != 0
		}
		return raw
	case domain.AttrTime:
		if attr.StoredAsString {
			if s, ok := raw.(string); ok {
				return s
			}
		}
		switch t := raw.(type) {
		case time.Time:
			return t.UTC()
		case string:
			if parsed, ok := parseTime(t); ok {
				return parsed
			}
			return t
		}
		return raw
	default:
		return raw
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// columnDDL maps an attribute to its portable column type.
func columnDDL(attr *domain.AttributeInfo) string {
	switch attr.Type {
	case domain.AttrInt, domain.AttrBool:
		return "INTEGER"
	case domain.AttrFloat:
		return "REAL"
	case domain.AttrTime:
		if attr.StoredAsString {
			return "TEXT"
		}
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func extendedColumnDDL(kind domain.ExtendedPropertyKind) string {
	switch kind {
	case domain.ExtNumber:
		return "REAL"
	case domain.ExtFlag:
		return "INTEGER"
	case domain.ExtDate:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// extendedColumns returns the union of extended property columns across all
// business entities, sorted for stable DDL.
func extendedColumns(def *domain.EntityDefinition) []domain.ExtendedPropertyInfo {
	seen := make(map[string]domain.ExtendedPropertyInfo)
	for _, props := range def.ExtendedProperties {
		for _, p := range props {
			if _, ok := seen[strings.ToLower(p.Column())]; !ok {
				seen[strings.ToLower(p.Column())] = p
			}
		}
	}

	out := make([]domain.ExtendedPropertyInfo, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column() < out[j].Column() })
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
