package mediator

import (
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/google/uuid"

	"github.com/open-mediary/mediary/internal/compile"
	"github.com/open-mediary/mediary/internal/domain"
)

// Create validates and stores a new record on the entity's primary source.
// A missing identity is generated. Returns the stored record, or nil when a
// pre-hook cancelled the operation.
func (r *Repository) Create(ctx context.Context, rctx *domain.RepositoryContext, rec domain.Record) (domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "create")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	if rec == nil {
		err = fmt.Errorf("%w: record is required", domain.ErrRequiredValueMissing)
		return nil, err
	}

	rec = rec.Clone()
	id := rctx.Definition.Identity(rec)
	if id == "" {
		id = uuid.New().String()
		rec.Set(rctx.Definition.PrimaryKey, id)
	}

	// Validation precedes hooks, so handlers only ever see a record that is
	// already truncated and well-formed.
	truncateRecord(rctx, rec)
	if err = validateRecord(rctx, rec, false); err != nil {
		return nil, err
	}

	ev := &domain.HookEvent{Definition: rctx.Definition, Identity: id, Record: rec}
	proceed, hookErr := r.runPre(ctx, rctx, domain.HookPreCreate, ev)
	if !proceed {
		err = hookErr
		return nil, err
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	stored := r.toBackend(t, rctx, rec)
	switch t.mode() {
	case domain.ModeSQL:
		err = t.sql.Insert(ctx, rctx.Definition, stored)
		if err == nil {
			err = r.writeExtended(ctx, t, rctx, id, rec)
		}
	case domain.ModeDocument:
		err = t.doc.Insert(ctx, rctx.Definition, stored)
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpCreate, rctx.TypeName(), id, err)
		rctx.LastErr = err
		return nil, err
	}

	rctx.Current = rec
	r.cachePut(ctx, rctx, id, rec)
	r.publish(ctx, domain.TopicEntityCreated, rctx, id)
	if rctx.Definition.AutoSync {
		r.syncer.dispatch(rctx, domain.OpCreate, id, rec)
	}
	r.runPost(rctx, domain.HookPostCreate, ev)

	return rec, nil
}

// Get retrieves one record by identity, consulting the cache first.
func (r *Repository) Get(ctx context.Context, rctx *domain.RepositoryContext, id string) (domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "get")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	ev := &domain.HookEvent{Definition: rctx.Definition, Identity: id}
	proceed, hookErr := r.runPre(ctx, rctx, domain.HookPreGet, ev)
	if !proceed {
		err = hookErr
		return nil, err
	}

	if rec := r.cacheGet(ctx, rctx, id); rec != nil {
		ev.Record = rec
		r.runPost(rctx, domain.HookPostGet, ev)
		return rec, nil
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	rec, gerr := r.load(ctx, t, rctx, id)
	if errors.Is(gerr, domain.ErrNotFound) {
		rec, gerr = r.loadFromSecondary(ctx, rctx, id, gerr)
	}
	if gerr != nil {
		err = domain.WrapOperation(domain.OpGet, rctx.TypeName(), id, gerr)
		return nil, err
	}

	r.cachePut(ctx, rctx, id, rec)
	ev.Record = rec
	r.runPost(rctx, domain.HookPostGet, ev)
	return rec, nil
}

// loadFromSecondary is the Get fallback: when the primary misses and a
// distinct secondary source is configured, read from the secondary and
// schedule recreation at the primary in the background.
func (r *Repository) loadFromSecondary(ctx context.Context, rctx *domain.RepositoryContext, id string, miss error) (domain.Record, error) {
	def := rctx.Definition
	if def.SecondaryDataSource == "" || def.SecondaryDataSource == def.PrimaryDataSource {
		return nil, miss
	}

	st, err := r.resolveTarget(def.SecondaryDataSource)
	if err != nil {
		return nil, miss
	}
	rec, err := r.load(ctx, st, rctx, id)
	if err != nil {
		return nil, miss
	}

	r.recreateAtPrimary(rctx, id, rec)
	return rec, nil
}

// recreateAtPrimary re-inserts a record recovered from the secondary source
// into the primary, detached from the caller.
func (r *Repository) recreateAtPrimary(rctx *domain.RepositoryContext, id string, rec domain.Record) {
	def := rctx.Definition
	typeName := rctx.TypeName()
	businessEntityID := rctx.BusinessEntityID
	snapshot := rec.Clone()

	r.syncer.wg.Add(1)
	go func() {
		defer r.syncer.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.syncer.timeout)
		defer cancel()

		t, err := r.primaryTarget(def)
		if err != nil {
			return
		}

		sctx := &domain.RepositoryContext{
			Definition:       def,
			Operation:        domain.OpCreate,
			BusinessEntityID: businessEntityID,
		}
		stored := r.toBackend(t, sctx, snapshot)
		switch t.mode() {
		case domain.ModeSQL:
			err = t.sql.Insert(ctx, def, stored)
			if err == nil {
				err = r.writeExtended(ctx, t, sctx, id, snapshot)
			}
		case domain.ModeDocument:
			err = t.doc.Insert(ctx, def, stored)
		}
		if err != nil && !errors.Is(err, domain.ErrDuplicateKey) {
			r.logger.Warn("primary recreation failed",
				"entity_type", typeName,
				"identity", id,
				"error", err,
			)
		}
	}()
}

// load fetches one record from a resolved target and reshapes it.
func (r *Repository) load(ctx context.Context, t *target, rctx *domain.RepositoryContext, id string) (domain.Record, error) {
	var rec domain.Record
	var err error
	switch t.mode() {
	case domain.ModeSQL:
		rec, err = t.sql.Get(ctx, rctx.Definition, id)
	case domain.ModeDocument:
		rec, err = t.doc.Get(ctx, rctx.Definition, id)
	}
	if err != nil {
		return nil, err
	}
	return r.fromBackend(ctx, t, rctx, rec), nil
}

// Replace writes the full record over the stored state, snapshotting the
// prior version when versioning is in effect. A replace where nothing differs
// from the stored state is a no-op that touches neither backend nor hooks.
func (r *Repository) Replace(ctx context.Context, rctx *domain.RepositoryContext, id string, rec domain.Record) (domain.Record, error) {
	return r.replace(ctx, rctx, id, rec, true)
}

// replace is the shared full-record write path. Rollback disables the
// version policy here because it snapshots the current state itself.
func (r *Repository) replace(ctx context.Context, rctx *domain.RepositoryContext, id string, rec domain.Record, version bool) (domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "replace")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	if rec == nil {
		err = fmt.Errorf("%w: record is required", domain.ErrRequiredValueMissing)
		return nil, err
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	previous, perr := r.load(ctx, t, rctx, id)
	if perr != nil {
		err = domain.WrapOperation(domain.OpReplace, rctx.TypeName(), id, perr)
		return nil, err
	}

	rec = rec.Clone()
	rec.Set(rctx.Definition.PrimaryKey, id)
	truncateRecord(rctx, rec)
	if err = validateRecord(rctx, rec, false); err != nil {
		return nil, err
	}

	rctx.Previous = previous
	rctx.Dirty = dirtyDiff(previous, rec)
	// A full replace clears stored attributes the new record omits, so those
	// count as dirty too.
	for name := range previous {
		if _, ok := rec.Get(name); !ok {
			rctx.Dirty = append(rctx.Dirty, name)
		}
	}
	if len(rctx.Dirty) == 0 {
		// Nothing changed: no write, no version, no events.
		rctx.Current = previous
		return previous, nil
	}

	ev := &domain.HookEvent{
		Definition: rctx.Definition,
		Identity:   id,
		Record:     rec,
		Previous:   previous,
		Dirty:      rctx.Dirty,
	}
	proceed, hookErr := r.runPre(ctx, rctx, domain.HookPreUpdate, ev)
	if !proceed {
		err = hookErr
		return nil, err
	}

	if version && shouldVersion(rctx, rec) {
		if err = r.takeVersion(ctx, rctx, id, previous); err != nil {
			return nil, err
		}
	}

	stored := r.toBackend(t, rctx, rec)
	switch t.mode() {
	case domain.ModeSQL:
		err = t.sql.Replace(ctx, rctx.Definition, id, stored)
		if err == nil {
			err = r.writeExtended(ctx, t, rctx, id, rec)
		}
	case domain.ModeDocument:
		err = t.doc.Replace(ctx, rctx.Definition, id, stored)
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpReplace, rctx.TypeName(), id, err)
		rctx.LastErr = err
		return nil, err
	}

	rctx.Current = rec
	r.cachePut(ctx, rctx, id, rec)
	r.publish(ctx, domain.TopicEntityUpdated, rctx, id)
	if rctx.Definition.AutoSync {
		r.syncer.dispatch(rctx, domain.OpReplace, id, rec)
	}
	r.runPost(rctx, domain.HookPostUpdate, ev)

	return rec, nil
}

// Update applies a partial value set. Only attributes whose values actually
// differ from the stored state are written; an update where nothing differs
// is a no-op that touches neither backend nor hooks.
func (r *Repository) Update(ctx context.Context, rctx *domain.RepositoryContext, id string, values domain.Record) (domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "update")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	if len(values) == 0 {
		t, terr := r.primaryTarget(rctx.Definition)
		if terr != nil {
			err = terr
			return nil, err
		}
		rec, lerr := r.load(ctx, t, rctx, id)
		if lerr != nil {
			err = domain.WrapOperation(domain.OpUpdate, rctx.TypeName(), id, lerr)
		}
		return rec, err
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	previous, perr := r.load(ctx, t, rctx, id)
	if perr != nil {
		err = domain.WrapOperation(domain.OpUpdate, rctx.TypeName(), id, perr)
		return nil, err
	}

	values = values.Clone()
	truncateRecord(rctx, values)
	if err = validateRecord(rctx, values, true); err != nil {
		return nil, err
	}

	dirty := dirtyDiff(previous, values)
	if len(dirty) == 0 {
		// Nothing changed: no write, no version, no events.
		rctx.Previous = previous
		rctx.Current = previous
		return previous, nil
	}

	sparse := make(domain.Record, len(dirty))
	for _, name := range dirty {
		if v, ok := values.Get(name); ok {
			sparse[name] = v
		}
	}

	current := previous.Clone()
	for name, v := range sparse {
		current.Set(name, v)
	}

	rctx.Previous = previous
	rctx.Current = current
	rctx.Dirty = dirty

	ev := &domain.HookEvent{
		Definition: rctx.Definition,
		Identity:   id,
		Record:     current,
		Previous:   previous,
		Dirty:      dirty,
	}
	proceed, hookErr := r.runPre(ctx, rctx, domain.HookPreUpdate, ev)
	if !proceed {
		err = hookErr
		return nil, err
	}

	if shouldVersion(rctx, current) {
		if err = r.takeVersion(ctx, rctx, id, previous); err != nil {
			return nil, err
		}
	}

	switch t.mode() {
	case domain.ModeSQL:
		err = t.sql.Update(ctx, rctx.Definition, id, sparse)
		if err == nil {
			err = r.writeExtended(ctx, t, rctx, id, current)
		}
	case domain.ModeDocument:
		// A partial document update must carry the complete extended set so
		// the nested sub-document is not clipped to the dirty subset.
		backendValues := sparse.Clone()
		for _, prop := range r.extendedProps(rctx) {
			if v, ok := current.Get(prop.Name); ok {
				backendValues.Set(prop.Name, v)
			}
		}
		err = t.doc.Update(ctx, rctx.Definition, id, r.toBackend(t, rctx, backendValues))
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpUpdate, rctx.TypeName(), id, err)
		rctx.LastErr = err
		return nil, err
	}

	r.cachePut(ctx, rctx, id, current)
	r.publish(ctx, domain.TopicEntityUpdated, rctx, id)
	if rctx.Definition.AutoSync {
		r.syncer.dispatch(rctx, domain.OpUpdate, id, current)
	}
	r.runPost(rctx, domain.HookPostUpdate, ev)

	return current, nil
}

// Delete moves the record to trash and removes it from the primary source.
// An identity collision in trash evicts the stale snapshot and retries once.
func (r *Repository) Delete(ctx context.Context, rctx *domain.RepositoryContext, id string) error {
	ctx, span := r.startSpan(ctx, rctx, "delete")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return err
	}

	previous, perr := r.load(ctx, t, rctx, id)
	if perr != nil {
		err = domain.WrapOperation(domain.OpDelete, rctx.TypeName(), id, perr)
		return err
	}

	ev := &domain.HookEvent{Definition: rctx.Definition, Identity: id, Record: previous}
	proceed, hookErr := r.runPre(ctx, rctx, domain.HookPreDelete, ev)
	if !proceed {
		err = hookErr
		return err
	}

	if err = r.moveToTrash(ctx, rctx, id, previous); err != nil {
		return err
	}

	switch t.mode() {
	case domain.ModeSQL:
		err = t.sql.Delete(ctx, rctx.Definition, id)
	case domain.ModeDocument:
		err = t.doc.Delete(ctx, rctx.Definition, id)
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpDelete, rctx.TypeName(), id, err)
		rctx.LastErr = err
		return err
	}

	rctx.Previous = previous
	r.cacheRemove(ctx, rctx, id)
	r.publish(ctx, domain.TopicEntityDeleted, rctx, id)
	if rctx.Definition.AutoSync {
		r.syncer.dispatch(rctx, domain.OpDelete, id, previous)
	}
	r.runPost(rctx, domain.HookPostDelete, ev)

	return nil
}

// DeleteMany removes every record matching the filter in one backend
// statement. Bulk deletion bypasses trash, versioning and per-record events.
func (r *Repository) DeleteMany(ctx context.Context, rctx *domain.RepositoryContext, filter domain.FilterElement) (int64, error) {
	ctx, span := r.startSpan(ctx, rctx, "deleteMany")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return 0, err
	}

	opts := r.compileOptions(rctx, nil)

	var n int64
	switch t.mode() {
	case domain.ModeSQL:
		n, err = t.sql.DeleteWhere(ctx, rctx.Definition, compile.SQLFilter(filter, opts))
	case domain.ModeDocument:
		n, err = t.doc.DeleteWhere(ctx, rctx.Definition, compile.DocFilter(filter, opts))
	}
	if err != nil {
		err = domain.WrapOperation(domain.OpDeleteMany, rctx.TypeName(), "", err)
		rctx.LastErr = err
		return 0, err
	}

	if rctx.Definition.AutoSync {
		r.syncer.dispatchDeleteMany(rctx, filter, opts)
	}
	return n, nil
}

// moveToTrash snapshots the record into trash with the one-shot collision
// retry the trash identity contract calls for.
func (r *Repository) moveToTrash(ctx context.Context, rctx *domain.RepositoryContext, id string, rec domain.Record) error {
	ts, err := r.trashStore(rctx.Definition)
	if err != nil {
		return err
	}

	content, err := newTrashContent(rctx, id, rec)
	if err != nil {
		return err
	}

	err = ts.InsertTrash(ctx, content)
	if errors.Is(err, domain.ErrDuplicateKey) {
		if derr := ts.DeleteTrash(ctx, id); derr != nil {
			return domain.WrapOperation(domain.OpDelete, rctx.TypeName(), id, derr)
		}
		err = ts.InsertTrash(ctx, content)
	}
	if err != nil {
		return domain.WrapOperation(domain.OpDelete, rctx.TypeName(), id, err)
	}
	return nil
}

// compileOptions assembles the compiler metadata for this call.
func (r *Repository) compileOptions(rctx *domain.RepositoryContext, parentIDs []string) compile.Options {
	return compile.Options{
		Definition:       rctx.Definition,
		Extended:         r.extendedProps(rctx),
		BusinessEntityID: rctx.BusinessEntityID,
		ParentIDs:        parentIDs,
	}
}
