package domain

// Operator is a leaf comparison in a filter tree.
type Operator string

const (
	OpEquals           Operator = "equals"
	OpNotEquals        Operator = "notEquals"
	OpLessThan         Operator = "lessThan"
	OpLessThanOrEquals Operator = "lessThanOrEquals"
	OpGreater          Operator = "greater"
	OpGreaterOrEquals  Operator = "greaterOrEquals"
	OpContains         Operator = "contains"
	OpStartsWith       Operator = "startsWith"
	OpEndsWith         Operator = "endsWith"
	OpIsNull           Operator = "isNull"
	OpIsNotNull        Operator = "isNotNull"
	OpIsEmpty          Operator = "isEmpty"
	OpIsNotEmpty       Operator = "isNotEmpty"
)

// GroupOperator joins the children of a FilterGroup.
type GroupOperator string

const (
	GroupAnd GroupOperator = "and"
	GroupOr  GroupOperator = "or"
)

// FilterElement is either a FilterNode or a FilterGroup.
type FilterElement interface {
	filterElement()
}

// FilterNode is a single attribute comparison.
type FilterNode struct {
	Attribute string
	Operator  Operator
	Value     any
}

func (*FilterNode) filterElement() {}

// Where is shorthand for a single comparison node.
func Where(attribute string, op Operator, value any) *FilterNode {
	return &FilterNode{Attribute: attribute, Operator: op, Value: value}
}

// FilterGroup is an AND/OR composite of nodes and nested groups. A group
// with zero children matches everything; a group with one child is
// semantically identical to that child alone.
type FilterGroup struct {
	Operator GroupOperator
	Children []FilterElement
}

func (*FilterGroup) filterElement() {}

// And builds an AND group over the elements.
func And(children ...FilterElement) *FilterGroup {
	return &FilterGroup{Operator: GroupAnd, Children: children}
}

// Or builds an OR group over the elements.
func Or(children ...FilterElement) *FilterGroup {
	return &FilterGroup{Operator: GroupOr, Children: children}
}

// Add appends a child and returns the group for chaining.
func (g *FilterGroup) Add(child FilterElement) *FilterGroup {
	g.Children = append(g.Children, child)
	return g
}

// SortDirection orders one sort attribute.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// SortChain is an ordered attribute+direction list, singly linked. Nodes are
// only created through NewSort and ThenBy, which append at the tail, so a
// chain is acyclic by construction.
type SortChain struct {
	Attribute string
	Direction SortDirection

	next *SortChain
}

// NewSort starts a chain with one attribute.
func NewSort(attribute string, direction SortDirection) *SortChain {
	return &SortChain{Attribute: attribute, Direction: direction}
}

// ThenBy appends a sort attribute at the tail and returns the head.
func (s *SortChain) ThenBy(attribute string, direction SortDirection) *SortChain {
	tail := s
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = &SortChain{Attribute: attribute, Direction: direction}
	return s
}

// Next returns the following link, or nil at the tail.
func (s *SortChain) Next() *SortChain {
	return s.next
}
