// Package compile turns backend-agnostic filter and sort trees into
// parameterized relational predicates or document filter/sort definitions,
// preserving identical semantics on both targets.
//
// The compiler is deliberately permissive: a node with an empty attribute
// name compiles to "no predicate" and a value that cannot be coerced to the
// attribute's storage representation passes through unchanged. Callers that
// need strictness validate attribute names before compiling.
package compile

import (
	"fmt"
	"strings"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
)

// StringTimeLayout is the storage format for temporal attributes persisted
// as formatted strings.
const StringTimeLayout = "2006-01-02 15:04:05"

// Options carries the metadata one compilation runs against.
type Options struct {
	// Definition supplies standard attributes and the parent association.
	Definition *domain.EntityDefinition

	// Extended is the custom property map in effect for this call.
	Extended []domain.ExtendedPropertyInfo

	// BusinessEntityID, when set, conjoins an equality on the entity
	// discriminator attribute to whatever filter was supplied.
	BusinessEntityID string

	// ParentIDs feeds the multiple-parent association expansion.
	ParentIDs []string
}

// resolved is the outcome of attribute resolution: the relational column
// reference, the document path, and whichever metadata matched.
type resolved struct {
	sqlColumn string
	docPath   string
	attr      *domain.AttributeInfo
	ext       *domain.ExtendedPropertyInfo
}

// resolve maps an attribute name first against the extended property map,
// then against standard attributes, else passes it through literally.
func resolve(name string, opts Options) resolved {
	for i := range opts.Extended {
		if strings.EqualFold(opts.Extended[i].Name, name) {
			ext := &opts.Extended[i]
			return resolved{
				sqlColumn: "Extent." + ext.Column(),
				docPath:   ext.DocPath(),
				ext:       ext,
			}
		}
	}
	if attr := opts.Definition.Attribute(name); attr != nil {
		return resolved{
			sqlColumn: "Origin." + attr.Column(),
			docPath:   attr.Name,
			attr:      attr,
		}
	}
	return resolved{sqlColumn: name, docPath: name}
}

// coerce normalizes a filter value to the attribute's storage
// representation. Coercion never fails: anything that does not convert
// falls back to the raw value.
func coerce(attr *domain.AttributeInfo, value any) any {
	if attr == nil || value == nil {
		return value
	}

	switch attr.Type {
	case domain.AttrTime:
		return coerceTime(attr, value)
	case domain.AttrString:
		if _, ok := value.(string); ok {
			return value
		}
		return fmt.Sprintf("%v", value)
	default:
		return value
	}
}

func coerceTime(attr *domain.AttributeInfo, value any) any {
	switch v := value.(type) {
	case time.Time:
		if attr.StoredAsString {
			return v.UTC().Format(StringTimeLayout)
		}
		return v
	case string:
		if attr.StoredAsString {
			return v
		}
		if t, err := time.Parse(StringTimeLayout, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
		return v
	default:
		return value
	}
}

// stringValue renders a coerced value for LIKE/regex construction.
func stringValue(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// isParentEquals reports whether the node is the parent-association Equals
// special case that expands across the supplied parent IDs.
func isParentEquals(n *domain.FilterNode, opts Options) bool {
	return opts.Definition != nil &&
		opts.Definition.Parent != nil &&
		n.Operator == domain.OpEquals &&
		len(opts.ParentIDs) > 0 &&
		strings.EqualFold(n.Attribute, opts.Definition.Parent.Attribute)
}

// nullMarker returns the type-aware document null marker for a resolution.
func nullMarker(res resolved) domain.NullMarker {
	if res.attr != nil && res.attr.Type == domain.AttrString {
		return domain.StringNull
	}
	if res.ext != nil && (res.ext.Kind == domain.ExtShortText || res.ext.Kind == domain.ExtLongText) {
		return domain.StringNull
	}
	return domain.Null
}
