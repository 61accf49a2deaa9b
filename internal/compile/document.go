package compile

import (
	"regexp"

	"github.com/open-mediary/mediary/internal/domain"
)

// DocFilter compiles a filter tree into a document-store filter definition.
// A nil element, an all-empty group, or a node with an empty attribute name
// compiles to the empty filter, which matches every document.
func DocFilter(el domain.FilterElement, opts Options) *domain.DocFilter {
	f := docElement(el, opts)

	if opts.BusinessEntityID != "" {
		f = docScope(f, opts)
	}

	if f == nil {
		return domain.MatchAll()
	}
	return f
}

func docScope(f *domain.DocFilter, opts Options) *domain.DocFilter {
	scope := &domain.DocFilter{
		Op:    domain.DocEq,
		Field: opts.Definition.Discriminator,
		Value: opts.BusinessEntityID,
	}
	if f == nil || f.Empty() {
		return scope
	}
	return &domain.DocFilter{Op: domain.DocAnd, Children: []*domain.DocFilter{f, scope}}
}

func docElement(el domain.FilterElement, opts Options) *domain.DocFilter {
	switch e := el.(type) {
	case *domain.FilterNode:
		return docNode(e, opts)
	case *domain.FilterGroup:
		return docGroup(e, opts)
	default:
		return nil
	}
}

func docGroup(g *domain.FilterGroup, opts Options) *domain.DocFilter {
	if g == nil {
		return nil
	}

	var children []*domain.DocFilter
	for _, child := range g.Children {
		if f := docElement(child, opts); f != nil {
			children = append(children, f)
		}
	}

	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		op := domain.DocAnd
		if g.Operator == domain.GroupOr {
			op = domain.DocOr
		}
		return &domain.DocFilter{Op: op, Children: children}
	}
}

func docNode(n *domain.FilterNode, opts Options) *domain.DocFilter {
	if n == nil || n.Attribute == "" {
		return nil
	}

	if isParentEquals(n, opts) {
		return docParentExpansion(opts)
	}

	res := resolve(n.Attribute, opts)
	field := res.docPath
	value := coerce(res.attr, n.Value)

	switch n.Operator {
	case domain.OpEquals:
		return &domain.DocFilter{Op: domain.DocEq, Field: field, Value: value}
	case domain.OpNotEquals:
		return &domain.DocFilter{Op: domain.DocNe, Field: field, Value: value}
	case domain.OpLessThan:
		return &domain.DocFilter{Op: domain.DocLt, Field: field, Value: value}
	case domain.OpLessThanOrEquals:
		return &domain.DocFilter{Op: domain.DocLte, Field: field, Value: value}
	case domain.OpGreater:
		return &domain.DocFilter{Op: domain.DocGt, Field: field, Value: value}
	case domain.OpGreaterOrEquals:
		return &domain.DocFilter{Op: domain.DocGte, Field: field, Value: value}
	case domain.OpContains:
		return &domain.DocFilter{Op: domain.DocRegex, Field: field, Value: ".*" + regexp.QuoteMeta(stringValue(value)) + ".*"}
	case domain.OpStartsWith:
		return &domain.DocFilter{Op: domain.DocRegex, Field: field, Value: "^" + regexp.QuoteMeta(stringValue(value))}
	case domain.OpEndsWith:
		return &domain.DocFilter{Op: domain.DocRegex, Field: field, Value: regexp.QuoteMeta(stringValue(value)) + "$"}
	case domain.OpIsNull:
		return &domain.DocFilter{Op: domain.DocEq, Field: field, Value: nullMarker(res)}
	case domain.OpIsNotNull:
		return &domain.DocFilter{Op: domain.DocNe, Field: field, Value: nullMarker(res)}
	case domain.OpIsEmpty:
		return &domain.DocFilter{Op: domain.DocEq, Field: field, Value: ""}
	case domain.OpIsNotEmpty:
		return &domain.DocFilter{Op: domain.DocNe, Field: field, Value: ""}
	default:
		return nil
	}
}

// docParentExpansion expands the parent-association Equals into an OR across
// all supplied parent IDs, testing both the direct property and the
// multi-parent collection property.
func docParentExpansion(opts Options) *domain.DocFilter {
	parent := opts.Definition.Parent

	children := make([]*domain.DocFilter, 0, len(opts.ParentIDs)*2)
	for _, id := range opts.ParentIDs {
		children = append(children,
			&domain.DocFilter{Op: domain.DocEq, Field: parent.Attribute, Value: id},
			&domain.DocFilter{Op: domain.DocEq, Field: parent.CollectionProperty, Value: id},
		)
	}

	if len(children) == 1 {
		return children[0]
	}
	return &domain.DocFilter{Op: domain.DocOr, Children: children}
}

// DocSortDef folds a sort chain into chained document sort fields.
func DocSortDef(chain *domain.SortChain, opts Options) domain.DocSort {
	var sort domain.DocSort
	for s := chain; s != nil; s = s.Next() {
		if s.Attribute == "" {
			continue
		}
		res := resolve(s.Attribute, opts)
		sort = append(sort, domain.DocSortField{
			Field:      res.docPath,
			Descending: s.Direction == domain.Descending,
		})
	}
	return sort
}
