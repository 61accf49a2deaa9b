// Package docstore provides the document backend: an in-process document
// store that executes the compiled filter and sort definitions produced by
// the expression compiler. It implements the same thin driver surface a
// remote document database would sit behind.
package docstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
)

// Store is a thread-safe in-memory document store. Documents live in
// per-collection maps keyed by identity.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]domain.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]map[string]domain.Record)}
}

func (s *Store) collection(name string) map[string]domain.Record {
	col, ok := s.collections[name]
	if !ok {
		col = make(map[string]domain.Record)
		s.collections[name] = col
	}
	return col
}

// Insert stores a new document. A duplicate identity fails.
func (s *Store) Insert(ctx context.Context, def *domain.EntityDefinition, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := def.Identity(rec)
	if id == "" {
		return fmt.Errorf("%w: record has no identity", domain.ErrValueInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collection(def.Table)
	if _, ok := col[id]; ok {
		return fmt.Errorf("%w: %s %q", domain.ErrDuplicateKey, def.Type, id)
	}
	col[id] = rec.Clone()
	return nil
}

// Get returns the document with the identity, or ErrNotFound.
func (s *Store) Get(ctx context.Context, def *domain.EntityDefinition, id string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[def.Table][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// GetMany returns the documents found among ids, in id order, skipping
// absentees.
func (s *Store) GetMany(ctx context.Context, def *domain.EntityDefinition, ids []string) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.collections[def.Table]
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := col[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Exists reports whether a document with the identity is stored.
func (s *Store) Exists(ctx context.Context, def *domain.EntityDefinition, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.collections[def.Table][id]
	return ok, nil
}

// Replace overwrites the whole document.
func (s *Store) Replace(ctx context.Context, def *domain.EntityDefinition, id string, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collection(def.Table)
	if _, ok := col[id]; !ok {
		return domain.ErrNotFound
	}
	col[id] = rec.Clone()
	return nil
}

// Update merges only the given values into the stored document.
func (s *Store) Update(ctx context.Context, def *domain.EntityDefinition, id string, values domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collection(def.Table)
	current, ok := col[id]
	if !ok {
		return domain.ErrNotFound
	}
	next := current.Clone()
	for k, v := range values {
		next.Set(k, v)
	}
	col[id] = next
	return nil
}

// Delete removes the document. Deleting an absentee is not an error.
func (s *Store) Delete(ctx context.Context, def *domain.EntityDefinition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[def.Table], id)
	return nil
}

// DeleteWhere removes every document matching the filter.
func (s *Store) DeleteWhere(ctx context.Context, def *domain.EntityDefinition, filter *domain.DocFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collections[def.Table]
	var removed int64
	for id, rec := range col {
		if match(filter, rec) {
			delete(col, id)
			removed++
		}
	}
	return removed, nil
}

// Find returns documents matching the filter in sort order.
func (s *Store) Find(ctx context.Context, def *domain.EntityDefinition, filter *domain.DocFilter, sortDef domain.DocSort, limit, offset int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := s.matchAll(def, filter)
	s.mu.RUnlock()

	orderRecords(matched, sortDef, def.PrimaryKey)
	return page(matched, limit, offset), nil
}

// FindIDs returns matching identities in sort order.
func (s *Store) FindIDs(ctx context.Context, def *domain.EntityDefinition, filter *domain.DocFilter, sortDef domain.DocSort, limit, offset int) ([]string, error) {
	recs, err := s.Find(ctx, def, filter, sortDef, limit, offset)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, def.Identity(rec))
	}
	return ids, nil
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, def *domain.EntityDefinition, filter *domain.DocFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.collections[def.Table] {
		if match(filter, rec) {
			n++
		}
	}
	return n, nil
}

// Search matches text case-insensitively across string attribute values,
// conjoined with the structural filter.
func (s *Store) Search(ctx context.Context, def *domain.EntityDefinition, text string, filter *domain.DocFilter, sortDef domain.DocSort, limit, offset int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(text)

	s.mu.RLock()
	var matched []domain.Record
	for _, rec := range s.collections[def.Table] {
		if !match(filter, rec) {
			continue
		}
		if needle != "" && !textMatches(def, rec, needle) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	s.mu.RUnlock()

	orderRecords(matched, sortDef, def.PrimaryKey)
	return page(matched, limit, offset), nil
}

// Ping reports store health; the in-memory store is always reachable.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close drops all collections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]map[string]domain.Record)
	return nil
}

func (s *Store) matchAll(def *domain.EntityDefinition, filter *domain.DocFilter) []domain.Record {
	var matched []domain.Record
	for _, rec := range s.collections[def.Table] {
		if match(filter, rec) {
			matched = append(matched, rec.Clone())
		}
	}
	return matched
}

func textMatches(def *domain.EntityDefinition, rec domain.Record, needle string) bool {
	for i := range def.Attributes {
		if def.Attributes[i].Type != domain.AttrString {
			continue
		}
		v, ok := rec.Get(def.Attributes[i].Name)
		if !ok {
			continue
		}
		if sv, ok := v.(string); ok && strings.Contains(strings.ToLower(sv), needle) {
			return true
		}
	}
	return false
}

// match evaluates a compiled filter against one document.
func match(f *domain.DocFilter, rec domain.Record) bool {
	if f.Empty() {
		return true
	}

	switch f.Op {
	case domain.DocAnd:
		for _, child := range f.Children {
			if !match(child, rec) {
				return false
			}
		}
		return true
	case domain.DocOr:
		for _, child := range f.Children {
			if match(child, rec) {
				return true
			}
		}
		return false
	default:
		return matchLeaf(f, rec)
	}
}

func matchLeaf(f *domain.DocFilter, rec domain.Record) bool {
	val, present := lookup(rec, f.Field)

	if marker, ok := f.Value.(domain.NullMarker); ok {
		_ = marker
		isNull := !present || val == nil
		if f.Op == domain.DocEq {
			return isNull
		}
		return !isNull
	}

	switch f.Op {
	case domain.DocEq:
		if f.Value == nil {
			// Equality against null never matches, mirroring SQL.
			return false
		}
		return present && valueEquals(val, f.Value)
	case domain.DocNe:
		return present && val != nil && !valueEquals(val, f.Value)
	case domain.DocLt:
		return present && compareOK(val, f.Value, func(c int) bool { return c < 0 })
	case domain.DocLte:
		return present && compareOK(val, f.Value, func(c int) bool { return c <= 0 })
	case domain.DocGt:
		return present && compareOK(val, f.Value, func(c int) bool { return c > 0 })
	case domain.DocGte:
		return present && compareOK(val, f.Value, func(c int) bool { return c >= 0 })
	case domain.DocRegex:
		return present && regexMatches(f.Value, val)
	default:
		return false
	}
}

// lookup walks a dotted path through nested sub-documents.
func lookup(rec domain.Record, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = rec
	for _, part := range parts {
		switch node := current.(type) {
		case domain.Record:
			v, ok := node.Get(part)
			if !ok {
				return nil, false
			}
			current = v
		case map[string]any:
			v, ok := domain.Record(node).Get(part)
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// valueEquals compares with numeric widening and collection membership: an
// equality against a stored array tests whether the array contains the value.
func valueEquals(stored, filter any) bool {
	switch col := stored.(type) {
	case []any:
		for _, item := range col {
			if valueEquals(item, filter) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range col {
			if valueEquals(item, filter) {
				return true
			}
		}
		return false
	}

	if c, ok := compareValues(stored, filter); ok {
		return c == 0
	}
	return false
}

func compareOK(stored, filter any, pred func(int) bool) bool {
	c, ok := compareValues(stored, filter)
	return ok && pred(c)
}

// compareValues orders two values of compatible types. Numbers widen to
// float64, times compare chronologically, everything else compares as
// strings only when both sides are strings.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}

	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			if ab == bb {
				return 0, true
			}
			if !ab {
				return -1, true
			}
			return 1, true
		}
	}

	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func regexMatches(pattern any, val any) bool {
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	s, ok := val.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// orderRecords sorts matched documents by the sort definition, falling back
// to the primary key so results are deterministic.
func orderRecords(recs []domain.Record, sortDef domain.DocSort, primaryKey string) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, field := range sortDef {
			a, _ := lookup(recs[i], field.Field)
			b, _ := lookup(recs[j], field.Field)

			c := compareNullable(a, b, field.Descending)
			if c != 0 {
				return c < 0
			}
		}
		ai, _ := lookup(recs[i], primaryKey)
		bi, _ := lookup(recs[j], primaryKey)
		return fmt.Sprintf("%v", ai) < fmt.Sprintf("%v", bi)
	})
}

// compareNullable orders nil before everything ascending, after everything
// descending, matching relational NULL ordering.
func compareNullable(a, b any, descending bool) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		if descending {
			return 1
		}
		return -1
	}
	if b == nil {
		if descending {
			return -1
		}
		return 1
	}

	c, ok := compareValues(a, b)
	if !ok {
		c = strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
	if descending {
		return -c
	}
	return c
}

func page(recs []domain.Record, limit, offset int) []domain.Record {
	if offset > 0 {
		if offset >= len(recs) {
			return nil
		}
		recs = recs[offset:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
