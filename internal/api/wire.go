package api

import (
	"encoding/json"
	"fmt"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/mediator"
)

// QueryRequest is the wire form of a Find, Search, Count or DeleteMany body.
type QueryRequest struct {
	Filter    json.RawMessage `json:"filter,omitempty"`
	Sort      []SortTerm      `json:"sort,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
	ParentIDs []string        `json:"parentIds,omitempty"`
	SkipCache bool            `json:"skipCache,omitempty"`

	// Text is only read by the search endpoint.
	Text string `json:"text,omitempty"`
}

// SortTerm is one attribute+direction pair of the wire sort list.
type SortTerm struct {
	Attribute string `json:"attribute"`
	Direction string `json:"direction,omitempty"`
}

// filterWire is the raw shape of one filter element. A present "children"
// key makes it a group; otherwise it is a comparison node.
type filterWire struct {
	Operator  string            `json:"operator,omitempty"`
	Children  []json.RawMessage `json:"children,omitempty"`
	Attribute string            `json:"attribute,omitempty"`
	Op        string            `json:"op,omitempty"`
	Value     any               `json:"value,omitempty"`
}

var validOperators = map[domain.Operator]bool{
	domain.OpEquals:           true,
	domain.OpNotEquals:        true,
	domain.OpLessThan:         true,
	domain.OpLessThanOrEquals: true,
	domain.OpGreater:          true,
	domain.OpGreaterOrEquals:  true,
	domain.OpContains:         true,
	domain.OpStartsWith:       true,
	domain.OpEndsWith:         true,
	domain.OpIsNull:           true,
	domain.OpIsNotNull:        true,
	domain.OpIsEmpty:          true,
	domain.OpIsNotEmpty:       true,
}

// decodeFilter turns a wire filter into a filter tree. A nil or empty raw
// message yields a nil element, which matches everything downstream.
func decodeFilter(raw json.RawMessage) (domain.FilterElement, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var w filterWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("malformed filter: %w", err)
	}

	if w.Children != nil || w.Operator == string(domain.GroupAnd) || w.Operator == string(domain.GroupOr) {
		op := domain.GroupOperator(w.Operator)
		if op != domain.GroupAnd && op != domain.GroupOr {
			return nil, fmt.Errorf("unknown group operator %q", w.Operator)
		}
		group := &domain.FilterGroup{Operator: op}
		for _, child := range w.Children {
			elem, err := decodeFilter(child)
			if err != nil {
				return nil, err
			}
			if elem != nil {
				group.Add(elem)
			}
		}
		return group, nil
	}

	if w.Attribute == "" {
		return nil, fmt.Errorf("filter node requires an attribute")
	}
	op := domain.Operator(w.Op)
	if !validOperators[op] {
		return nil, fmt.Errorf("unknown operator %q", w.Op)
	}
	return domain.Where(w.Attribute, op, w.Value), nil
}

// decodeSort turns the wire sort list into a sort chain. Direction defaults
// to ascending.
func decodeSort(terms []SortTerm) (*domain.SortChain, error) {
	var chain *domain.SortChain
	for _, t := range terms {
		if t.Attribute == "" {
			return nil, fmt.Errorf("sort term requires an attribute")
		}
		dir := domain.SortDirection(t.Direction)
		switch dir {
		case "":
			dir = domain.Ascending
		case domain.Ascending, domain.Descending:
		default:
			return nil, fmt.Errorf("unknown sort direction %q", t.Direction)
		}
		if chain == nil {
			chain = domain.NewSort(t.Attribute, dir)
		} else {
			chain.ThenBy(t.Attribute, dir)
		}
	}
	return chain, nil
}

// toQuery converts the wire request into a mediator query.
func (req *QueryRequest) toQuery() (*mediator.Query, error) {
	filter, err := decodeFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	sort, err := decodeSort(req.Sort)
	if err != nil {
		return nil, err
	}
	return &mediator.Query{
		Filter:    filter,
		Sort:      sort,
		Limit:     req.Limit,
		Offset:    req.Offset,
		ParentIDs: req.ParentIDs,
		SkipCache: req.SkipCache,
	}, nil
}
