package domain

// Compiled filter and sort forms produced by the expression compiler and
// consumed by the backend drivers. Both are plain data: the compiler never
// talks to a backend and the drivers never see the source filter tree.

// SQLPredicate is a parameterized relational predicate. Parameters are
// referenced as @name inside Expr and carried in Params; the SQL driver
// flattens them to its placeholder style at execution time.
type SQLPredicate struct {
	Expr   string
	Params map[string]any
}

// Empty reports whether the predicate matches everything.
func (p *SQLPredicate) Empty() bool {
	return p == nil || p.Expr == ""
}

// SQLOrderBy is a compiled ORDER BY column list, without the keyword.
type SQLOrderBy string

// DocOp is a document-store filter node operator.
type DocOp string

const (
	DocAll   DocOp = "all" // matches every document
	DocEq    DocOp = "eq"
	DocNe    DocOp = "ne"
	DocLt    DocOp = "lt"
	DocLte   DocOp = "lte"
	DocGt    DocOp = "gt"
	DocGte   DocOp = "gte"
	DocRegex DocOp = "regex"
	DocAnd   DocOp = "and"
	DocOr    DocOp = "or"
)

// DocFilter is a backend filter definition: a leaf comparison (Field, Op,
// Value) or a logical combinator over Children.
type DocFilter struct {
	Op       DocOp
	Field    string
	Value    any
	Children []*DocFilter
}

// MatchAll returns the empty filter.
func MatchAll() *DocFilter {
	return &DocFilter{Op: DocAll}
}

// Empty reports whether the filter matches every document.
func (f *DocFilter) Empty() bool {
	return f == nil || f.Op == DocAll
}

// NullMarker is the document-store null comparison value. IsNull on a string
// attribute compiles against the string-typed marker, every other type
// against the generic one; the two stay distinct so string-null never
// collapses into IsEmpty semantics.
type NullMarker struct {
	String bool
}

var (
	// Null is the generic null marker.
	Null = NullMarker{}

	// StringNull is the string-typed null marker.
	StringNull = NullMarker{String: true}
)

// DocSortField orders one document field.
type DocSortField struct {
	Field      string
	Descending bool
}

// DocSort is a compiled document sort definition.
type DocSort []DocSortField
