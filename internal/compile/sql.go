package compile

import (
	"strconv"
	"strings"

	"github.com/open-mediary/mediary/internal/domain"
)

// SQLFilter compiles a filter tree into a parameterized relational
// predicate. A nil element, an all-empty group, or a node with an empty
// attribute name compiles to the empty predicate, which matches everything.
func SQLFilter(el domain.FilterElement, opts Options) *domain.SQLPredicate {
	expr, params := sqlElement(el, opts, "0")

	if opts.BusinessEntityID != "" {
		expr, params = sqlScope(expr, params, opts)
	}

	if expr == "" {
		return &domain.SQLPredicate{}
	}
	return &domain.SQLPredicate{Expr: expr, Params: params}
}

// sqlScope conjoins the entity-discriminator equality for the multi-tenant
// extended-schema case.
func sqlScope(expr string, params map[string]any, opts Options) (string, map[string]any) {
	disc := opts.Definition.Attribute(opts.Definition.Discriminator)
	col := "Origin." + opts.Definition.Discriminator
	if disc != nil {
		col = "Origin." + disc.Column()
	}

	if params == nil {
		params = make(map[string]any, 1)
	}
	params["pbe"] = opts.BusinessEntityID

	scope := col + " = @pbe"
	if expr == "" {
		return scope, params
	}
	return "(" + expr + ") AND " + scope, params
}

func sqlElement(el domain.FilterElement, opts Options, path string) (string, map[string]any) {
	switch e := el.(type) {
	case *domain.FilterNode:
		return sqlNode(e, opts, path)
	case *domain.FilterGroup:
		return sqlGroup(e, opts, path)
	default:
		return "", nil
	}
}

func sqlGroup(g *domain.FilterGroup, opts Options, path string) (string, map[string]any) {
	if g == nil {
		return "", nil
	}

	joiner := " AND "
	if g.Operator == domain.GroupOr {
		joiner = " OR "
	}

	var fragments []string
	params := make(map[string]any)

	for i, child := range g.Children {
		// Per-branch parameter paths keep names collision-free when the
		// same attribute appears on several branches.
		expr, childParams := sqlElement(child, opts, path+"_"+strconv.Itoa(i))
		if expr == "" {
			continue
		}
		fragments = append(fragments, expr)
		for k, v := range childParams {
			params[k] = v
		}
	}

	switch len(fragments) {
	case 0:
		return "", nil
	case 1:
		// A group with one effective child compiles to that child unchanged.
		return fragments[0], params
	default:
		for i := range fragments {
			fragments[i] = "(" + fragments[i] + ")"
		}
		return strings.Join(fragments, joiner), params
	}
}

func sqlNode(n *domain.FilterNode, opts Options, path string) (string, map[string]any) {
	if n == nil || n.Attribute == "" {
		// Permissive by contract: an unnamed attribute means no predicate.
		return "", nil
	}

	if isParentEquals(n, opts) {
		return sqlParentExpansion(opts, path)
	}

	res := resolve(n.Attribute, opts)
	col := res.sqlColumn
	value := coerce(res.attr, n.Value)
	name := "p" + path

	switch n.Operator {
	case domain.OpEquals:
		return col + " = @" + name, map[string]any{name: value}
	case domain.OpNotEquals:
		return col + " <> @" + name, map[string]any{name: value}
	case domain.OpLessThan:
		return col + " < @" + name, map[string]any{name: value}
	case domain.OpLessThanOrEquals:
		return col + " <= @" + name, map[string]any{name: value}
	case domain.OpGreater:
		return col + " > @" + name, map[string]any{name: value}
	case domain.OpGreaterOrEquals:
		return col + " >= @" + name, map[string]any{name: value}
	case domain.OpContains:
		return col + " LIKE @" + name, map[string]any{name: "%" + stringValue(value) + "%"}
	case domain.OpStartsWith:
		return col + " LIKE @" + name, map[string]any{name: stringValue(value) + "%"}
	case domain.OpEndsWith:
		return col + " LIKE @" + name, map[string]any{name: "%" + stringValue(value)}
	case domain.OpIsNull:
		return col + " IS NULL", nil
	case domain.OpIsNotNull:
		return col + " IS NOT NULL", nil
	case domain.OpIsEmpty:
		return col + " = ''", nil
	case domain.OpIsNotEmpty:
		return col + " <> ''", nil
	default:
		return "", nil
	}
}

// sqlParentExpansion expands the parent-association Equals into an OR across
// all supplied parent IDs, testing both the direct association column and
// the mapping table's linking column.
func sqlParentExpansion(opts Options, path string) (string, map[string]any) {
	parent := opts.Definition.Parent
	direct := "Origin." + parent.Column
	linked := "Link." + parent.LinkColumn

	params := make(map[string]any, len(opts.ParentIDs)*2)
	fragments := make([]string, 0, len(opts.ParentIDs))

	for i, id := range opts.ParentIDs {
		dn := "p" + path + "_d" + strconv.Itoa(i)
		ln := "p" + path + "_l" + strconv.Itoa(i)
		params[dn] = id
		params[ln] = id
		fragments = append(fragments, "("+direct+" = @"+dn+" OR "+linked+" = @"+ln+")")
	}

	if len(fragments) == 1 {
		return fragments[0], params
	}
	return strings.Join(fragments, " OR "), params
}

// SQLSort folds a sort chain left-to-right into a comma-joined column list.
func SQLSort(chain *domain.SortChain, opts Options) domain.SQLOrderBy {
	var parts []string
	for s := chain; s != nil; s = s.Next() {
		if s.Attribute == "" {
			continue
		}
		res := resolve(s.Attribute, opts)
		dir := " ASC"
		if s.Direction == domain.Descending {
			dir = " DESC"
		}
		parts = append(parts, res.sqlColumn+dir)
	}
	return domain.SQLOrderBy(strings.Join(parts, ", "))
}
