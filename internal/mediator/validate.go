package mediator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/open-mediary/mediary/internal/domain"
)

// validateRecord enforces the declared attribute constraints before a write.
// Null and emptiness violations raise ErrRequiredValueMissing; length floor
// violations raise ErrValueInvalid.
func validateRecord(rctx *domain.RepositoryContext, rec domain.Record, partial bool) error {
	def := rctx.Definition

	for i := range def.Attributes {
		attr := &def.Attributes[i]
		v, present := rec.Get(attr.Name)

		if !present {
			// Partial updates only validate the attributes they carry.
			if partial {
				continue
			}
			if attr.NotNull || attr.NotEmpty {
				return fmt.Errorf("%w: %s.%s", domain.ErrRequiredValueMissing, def.Type, attr.Name)
			}
			continue
		}

		if v == nil {
			if attr.NotNull || attr.NotEmpty {
				return fmt.Errorf("%w: %s.%s", domain.ErrRequiredValueMissing, def.Type, attr.Name)
			}
			continue
		}

		if s, ok := v.(string); ok {
			if attr.NotEmpty && strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: %s.%s", domain.ErrRequiredValueMissing, def.Type, attr.Name)
			}
			if attr.MinLength > 0 && len([]rune(s)) < attr.MinLength {
				return fmt.Errorf("%w: %s.%s shorter than %d", domain.ErrValueInvalid, def.Type, attr.Name, attr.MinLength)
			}
		}
	}

	return nil
}

// truncateRecord caps string values at their declared limits, in place.
// Standard attributes use EffectiveMaxLength; extended properties use the
// per-kind cap. Truncation is silent: oversized input is a data-quality
// issue, not an error.
func truncateRecord(rctx *domain.RepositoryContext, rec domain.Record) {
	def := rctx.Definition

	for i := range def.Attributes {
		attr := &def.Attributes[i]
		limit := attr.EffectiveMaxLength()
		if limit <= 0 {
			continue
		}
		if v, ok := rec.Get(attr.Name); ok {
			if s, ok := v.(string); ok && len([]rune(s)) > limit {
				rec.Set(attr.Name, string([]rune(s)[:limit]))
			}
		}
	}

	for _, prop := range def.ExtendedProperties[rctx.BusinessEntityID] {
		limit := prop.Kind.MaxLength()
		if limit <= 0 {
			continue
		}
		if v, ok := rec.Get(prop.Name); ok {
			if s, ok := v.(string); ok && len([]rune(s)) > limit {
				rec.Set(prop.Name, string([]rune(s)[:limit]))
			}
		}
	}
}

// dirtyDiff returns the attribute names whose values differ between previous
// and the supplied values. Only supplied attributes participate; comparison
// widens numeric types so 1 and int64(1) are not a difference.
func dirtyDiff(previous domain.Record, values domain.Record) []string {
	var dirty []string
	for name, v := range values {
		prev, ok := previous.Get(name)
		if !ok {
			dirty = append(dirty, name)
			continue
		}
		if !valueEqual(prev, v) {
			dirty = append(dirty, name)
		}
	}
	return dirty
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
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
