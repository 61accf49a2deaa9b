package mediator

import (
	"context"

	"github.com/open-mediary/mediary/internal/domain"
)

// Extended property values travel flat on the caller-facing record, keyed by
// property name. Document backends store them nested under the
// ExtendedProperties sub-document; relational backends keep them in the side
// table, reached through the optional store methods below.

const extendedField = "ExtendedProperties"

type sqlExtendedStore interface {
	UpsertExtended(ctx context.Context, def *domain.EntityDefinition, objectID, businessEntityID string, values domain.Record) error
	GetExtended(ctx context.Context, def *domain.EntityDefinition, objectID, businessEntityID string) (domain.Record, error)
}

func (r *Repository) extendedProps(rctx *domain.RepositoryContext) []domain.ExtendedPropertyInfo {
	if rctx.BusinessEntityID == "" {
		return nil
	}
	return rctx.Definition.ExtendedProperties[rctx.BusinessEntityID]
}

// toBackend shapes a flat record for the target: document mode nests the
// extended values, relational mode leaves the record as-is (Insert iterates
// declared attributes only).
func (r *Repository) toBackend(t *target, rctx *domain.RepositoryContext, rec domain.Record) domain.Record {
	props := r.extendedProps(rctx)
	if len(props) == 0 || t.mode() != domain.ModeDocument {
		return rec
	}

	out := rec.Clone()
	nested := make(map[string]any, len(props))
	if existing, ok := out[extendedField].(map[string]any); ok {
		for k, v := range existing {
			nested[k] = v
		}
	}
	for i := range props {
		if v, ok := out.Get(props[i].Name); ok {
			nested[props[i].Name] = v
			delete(out, props[i].Name)
		}
	}
	if len(nested) > 0 {
		out[extendedField] = nested
	}
	return out
}

// fromBackend flattens a stored record back to the caller-facing shape,
// merging side-table values for relational targets.
func (r *Repository) fromBackend(ctx context.Context, t *target, rctx *domain.RepositoryContext, rec domain.Record) domain.Record {
	if rec == nil {
		return nil
	}
	props := r.extendedProps(rctx)
	if len(props) == 0 {
		return rec
	}

	switch t.mode() {
	case domain.ModeDocument:
		nested, ok := rec[extendedField].(map[string]any)
		if !ok {
			return rec
		}
		out := rec.Clone()
		delete(out, extendedField)
		for i := range props {
			if v, ok := nested[props[i].Name]; ok {
				out.Set(props[i].Name, v)
			}
		}
		return out

	case domain.ModeSQL:
		es, ok := t.sql.(sqlExtendedStore)
		if !ok {
			return rec
		}
		id := rctx.Definition.Identity(rec)
		if id == "" {
			return rec
		}
		values, err := es.GetExtended(ctx, rctx.Definition, id, rctx.BusinessEntityID)
		if err != nil {
			r.logger.Warn("extended property read failed",
				"entity_type", rctx.TypeName(),
				"identity", id,
				"error", err,
			)
			return rec
		}
		out := rec.Clone()
		for name, v := range values {
			out.Set(name, v)
		}
		return out
	}
	return rec
}

// writeExtended persists the side-table values after a relational write.
func (r *Repository) writeExtended(ctx context.Context, t *target, rctx *domain.RepositoryContext, id string, rec domain.Record) error {
	props := r.extendedProps(rctx)
	if len(props) == 0 || t.mode() != domain.ModeSQL {
		return nil
	}
	es, ok := t.sql.(sqlExtendedStore)
	if !ok {
		return nil
	}
	return es.UpsertExtended(ctx, rctx.Definition, id, rctx.BusinessEntityID, rec)
}
