package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/open-mediary/mediary/internal/compile"
	"github.com/open-mediary/mediary/internal/domain"
)

// Query carries the read-side inputs of Find, Search and Count.
type Query struct {
	Filter domain.FilterElement
	Sort   *domain.SortChain

	Limit  int
	Offset int

	// ParentIDs feeds the multiple-parent association expansion.
	ParentIDs []string

	// SkipCache bypasses the query result cache for this call.
	SkipCache bool
}

// Find returns the records matching the query. When the entity is cached,
// the matching identity list is cached at half the record TTL and records
// are hydrated through the record cache in one batched round trip.
func (r *Repository) Find(ctx context.Context, rctx *domain.RepositoryContext, q *Query) ([]domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "find")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	if q == nil {
		q = &Query{}
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	opts := r.compileOptions(rctx, q.ParentIDs)

	if !r.cacheEnabled(rctx) || q.SkipCache {
		var recs []domain.Record
		switch t.mode() {
		case domain.ModeSQL:
			recs, err = t.sql.Find(ctx, rctx.Definition, compile.SQLFilter(q.Filter, opts), compile.SQLSort(q.Sort, opts), q.Limit, q.Offset)
		case domain.ModeDocument:
			recs, err = t.doc.Find(ctx, rctx.Definition, compile.DocFilter(q.Filter, opts), compile.DocSortDef(q.Sort, opts), q.Limit, q.Offset)
		}
		if err != nil {
			err = domain.WrapOperation(domain.OpFind, rctx.TypeName(), "", err)
			return nil, err
		}
		return r.reshapeAll(ctx, t, rctx, recs), nil
	}

	ids, qerr := r.findIDs(ctx, t, rctx, q, opts)
	if qerr != nil {
		err = domain.WrapOperation(domain.OpFind, rctx.TypeName(), "", qerr)
		return nil, err
	}

	recs, herr := r.hydrate(ctx, t, rctx, ids)
	if herr != nil {
		err = domain.WrapOperation(domain.OpFind, rctx.TypeName(), "", herr)
		return nil, err
	}
	return recs, nil
}

// findIDs resolves the matching identity list, consulting the query cache.
func (r *Repository) findIDs(ctx context.Context, t *target, rctx *domain.RepositoryContext, q *Query, opts compile.Options) ([]string, error) {
	switch t.mode() {
	case domain.ModeSQL:
		pred := compile.SQLFilter(q.Filter, opts)
		order := compile.SQLSort(q.Sort, opts)
		key := queryCacheKey(rctx.TypeName(), pred, order, q, "")

		if ids, ok := r.queryCacheGet(ctx, key); ok {
			return ids, nil
		}
		ids, err := t.sql.FindIDs(ctx, rctx.Definition, pred, order, q.Limit, q.Offset)
		if err != nil {
			return nil, err
		}
		r.queryCachePut(ctx, rctx, key, ids)
		return ids, nil

	case domain.ModeDocument:
		filter := compile.DocFilter(q.Filter, opts)
		sort := compile.DocSortDef(q.Sort, opts)
		key := queryCacheKey(rctx.TypeName(), filter, sort, q, "")

		if ids, ok := r.queryCacheGet(ctx, key); ok {
			return ids, nil
		}
		ids, err := t.doc.FindIDs(ctx, rctx.Definition, filter, sort, q.Limit, q.Offset)
		if err != nil {
			return nil, err
		}
		r.queryCachePut(ctx, rctx, key, ids)
		return ids, nil
	}
	return nil, fmt.Errorf("%w: unsupported mode", domain.ErrDataSourceInvalid)
}

// hydrate turns an ordered identity list into records: cached records first,
// the remainder in one batched backend fetch.
func (r *Repository) hydrate(ctx context.Context, t *target, rctx *domain.RepositoryContext, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]domain.Record, len(ids))

	keys := make([]string, len(ids))
	keyToID := make(map[string]string, len(ids))
	for i, id := range ids {
		keys[i] = domain.CacheKey(rctx.TypeName(), id)
		keyToID[keys[i]] = id
	}

	if found, err := r.cache.GetMany(ctx, keys); err == nil {
		for key, data := range found {
			var rec domain.Record
			if json.Unmarshal(data, &rec) == nil {
				byID[keyToID[key]] = rec
			}
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		var fetched []domain.Record
		var err error
		switch t.mode() {
		case domain.ModeSQL:
			fetched, err = t.sql.GetMany(ctx, rctx.Definition, missing)
		case domain.ModeDocument:
			fetched, err = t.doc.GetMany(ctx, rctx.Definition, missing)
		}
		if err != nil {
			return nil, err
		}
		fetched = r.reshapeAll(ctx, t, rctx, fetched)
		for _, rec := range fetched {
			byID[rctx.Definition.Identity(rec)] = rec
		}
		r.cachePutMany(ctx, rctx, fetched)
	}

	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Search matches free text across string attributes, conjoined with the
// structural filter. Caching mirrors Find: the matching identity list is
// cached with the text folded into the key, and records hydrate through the
// record cache.
func (r *Repository) Search(ctx context.Context, rctx *domain.RepositoryContext, text string, q *Query) ([]domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "search")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	if q == nil {
		q = &Query{}
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	opts := r.compileOptions(rctx, q.ParentIDs)
	cached := r.cacheEnabled(rctx) && !q.SkipCache

	var key string
	if cached {
		switch t.mode() {
		case domain.ModeSQL:
			key = queryCacheKey(rctx.TypeName(), compile.SQLFilter(q.Filter, opts), compile.SQLSort(q.Sort, opts), q, text)
		case domain.ModeDocument:
			key = queryCacheKey(rctx.TypeName(), compile.DocFilter(q.Filter, opts), compile.DocSortDef(q.Sort, opts), q, text)
		}
		if ids, ok := r.queryCacheGet(ctx, key); ok {
			recs, herr := r.hydrate(ctx, t, rctx, ids)
			if herr != nil {
				err = domain.WrapOperation(domain.OpSearch, rctx.TypeName(), "", herr)
				return nil, err
			}
			return recs, nil
		}
	}

	var recs []domain.Record
	switch t.mode() {
	case domain.ModeSQL:
		recs, err = t.sql.Search(ctx, rctx.Definition, text, compile.SQLFilter(q.Filter, opts), compile.SQLSort(q.Sort, opts), q.Limit, q.Offset)
	case domain.ModeDocument:
		recs, err = t.doc.Search(ctx, rctx.Definition, text, compile.DocFilter(q.Filter, opts), compile.DocSortDef(q.Sort, opts), q.Limit, q.Offset)
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpSearch, rctx.TypeName(), "", err)
		return nil, err
	}
	recs = r.reshapeAll(ctx, t, rctx, recs)

	if cached {
		ids := make([]string, 0, len(recs))
		for _, rec := range recs {
			ids = append(ids, rctx.Definition.Identity(rec))
		}
		r.queryCachePut(ctx, rctx, key, ids)
		r.cachePutMany(ctx, rctx, recs)
	}
	return recs, nil
}

// Count returns the number of records matching the filter.
func (r *Repository) Count(ctx context.Context, rctx *domain.RepositoryContext, q *Query) (int64, error) {
	ctx, span := r.startSpan(ctx, rctx, "count")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	if q == nil {
		q = &Query{}
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return 0, err
	}

	opts := r.compileOptions(rctx, q.ParentIDs)

	var n int64
	switch t.mode() {
	case domain.ModeSQL:
		n, err = t.sql.Count(ctx, rctx.Definition, compile.SQLFilter(q.Filter, opts))
	case domain.ModeDocument:
		n, err = t.doc.Count(ctx, rctx.Definition, compile.DocFilter(q.Filter, opts))
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpCount, rctx.TypeName(), "", err)
		return 0, err
	}
	return n, nil
}

func (r *Repository) reshapeAll(ctx context.Context, t *target, rctx *domain.RepositoryContext, recs []domain.Record) []domain.Record {
	for i := range recs {
		recs[i] = r.fromBackend(ctx, t, rctx, recs[i])
	}
	return recs
}

// queryCacheKey hashes the compiled query shape plus the free-text term.
// Any compiled form that serializes identically queries identically.
func queryCacheKey(typeName string, compiled any, order any, q *Query, text string) string {
	h := fnv.New64a()
	enc := json.NewEncoder(h)
	_ = enc.Encode(compiled)
	_ = enc.Encode(order)
	_ = enc.Encode(q.Limit)
	_ = enc.Encode(q.Offset)
	_ = enc.Encode(text)
	return fmt.Sprintf("q#%s#%x", typeName, h.Sum64())
}

func (r *Repository) queryCacheGet(ctx context.Context, key string) ([]string, bool) {
	data, err := r.cache.Get(ctx, key)
	if err != nil || data == nil {
		return nil, false
	}
	var ids []string
	if json.Unmarshal(data, &ids) != nil {
		return nil, false
	}
	return ids, true
}

// queryCachePut stores the identity list at half the record TTL, so a stale
// result list always expires before the records it points at.
func (r *Repository) queryCachePut(ctx context.Context, rctx *domain.RepositoryContext, key string, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, cacheTTL(rctx.Definition)/2); err != nil {
		r.logger.Warn("query cache set failed", "entity_type", rctx.TypeName(), "error", err)
	}
}
