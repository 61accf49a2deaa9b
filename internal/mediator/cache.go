package mediator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/metrics"
)

// The cache is a write-through gateway keyed by type name and identity. Every
// failure degrades to the backend; a broken cache never fails an operation.

func (r *Repository) cacheEnabled(rctx *domain.RepositoryContext) bool {
	return r.cache != nil && rctx.Definition.CacheEnabled
}

func cacheTTL(def *domain.EntityDefinition) time.Duration {
	if def.CacheExpiration > 0 {
		return def.CacheExpiration
	}
	return DefaultCacheExpiration
}

func (r *Repository) cacheGet(ctx context.Context, rctx *domain.RepositoryContext, id string) domain.Record {
	if !r.cacheEnabled(rctx) {
		return nil
	}

	data, err := r.cache.Get(ctx, domain.CacheKey(rctx.TypeName(), id))
	if err != nil {
		r.logger.Warn("cache get failed", "entity_type", rctx.TypeName(), "identity", id, "error", err)
		return nil
	}
	metrics.RecordCacheResult(rctx.TypeName(), data != nil)
	if data == nil {
		return nil
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		_ = r.cache.Remove(ctx, domain.CacheKey(rctx.TypeName(), id))
		return nil
	}
	return rec
}

func (r *Repository) cachePut(ctx context.Context, rctx *domain.RepositoryContext, id string, rec domain.Record) {
	if !r.cacheEnabled(rctx) || rec == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, domain.CacheKey(rctx.TypeName(), id), data, cacheTTL(rctx.Definition)); err != nil {
		r.logger.Warn("cache set failed", "entity_type", rctx.TypeName(), "identity", id, "error", err)
	}
}

func (r *Repository) cachePutMany(ctx context.Context, rctx *domain.RepositoryContext, recs []domain.Record) {
	if !r.cacheEnabled(rctx) || len(recs) == 0 {
		return
	}

	entries := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		id := rctx.Definition.Identity(rec)
		if id == "" {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		entries[domain.CacheKey(rctx.TypeName(), id)] = data
	}
	if len(entries) == 0 {
		return
	}
	if err := r.cache.SetMany(ctx, entries, cacheTTL(rctx.Definition)); err != nil {
		r.logger.Warn("cache set-many failed", "entity_type", rctx.TypeName(), "error", err)
	}
}

func (r *Repository) cacheRemove(ctx context.Context, rctx *domain.RepositoryContext, id string) {
	if !r.cacheEnabled(rctx) {
		return
	}
	if err := r.cache.Remove(ctx, domain.CacheKey(rctx.TypeName(), id)); err != nil {
		r.logger.Warn("cache remove failed", "entity_type", rctx.TypeName(), "identity", id, "error", err)
	}
}
