package domain

import (
	"fmt"
	"strings"
)

// Record is the storage-neutral snapshot of one object: attribute name to
// value. Both backends read and write records; the mediator diffs them.
type Record map[string]any

// Clone returns a shallow copy. Attribute values are treated as immutable
// scalars by the pipeline, so a shallow copy is a valid snapshot.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the value stored under name, matching case-insensitively the
// way attribute resolution does everywhere else.
func (r Record) Get(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Set stores value under name, replacing a case-insensitive match if one
// already exists.
func (r Record) Set(name string, value any) {
	if _, ok := r[name]; ok {
		r[name] = value
		return
	}
	for k := range r {
		if strings.EqualFold(k, name) {
			r[k] = value
			return
		}
	}
	r[name] = value
}

// CacheKey derives the per-object cache key. The identity half is
// case-insensitive: "Article#ABC-123" and "Article#abc-123" are the same key.
func CacheKey(typeName, identity string) string {
	return typeName + "#" + strings.ToLower(identity)
}

// Identity renders the record's primary-key value as a string, or "" when
// the record carries no primary key.
func (d *EntityDefinition) Identity(rec Record) string {
	if d == nil || rec == nil {
		return ""
	}
	v, ok := rec.Get(d.PrimaryKey)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
