package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/metrics"
)

// versionOverrideAttribute lets a single object opt in or out of versioning
// regardless of the entity default.
const versionOverrideAttribute = "CreateNewVersionWhenUpdated"

// shouldVersion decides whether this update snapshots the prior state: the
// per-object override wins over the entity default.
func shouldVersion(rctx *domain.RepositoryContext, rec domain.Record) bool {
	if v, ok := rec.Get(versionOverrideAttribute); ok {
		if b, ok := asBool(v); ok {
			return b
		}
	}
	return rctx.Definition.CreateNewVersionWhenUpdated
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	}
	return false, false
}

// takeVersion writes an immutable snapshot of the pre-update state.
func (r *Repository) takeVersion(ctx context.Context, rctx *domain.RepositoryContext, id string, previous domain.Record) error {
	vs, err := r.versionStore(rctx.Definition)
	if err != nil {
		return err
	}

	number, err := vs.NextVersionNumber(ctx, rctx.Definition.Type, id)
	if err != nil {
		return domain.WrapOperation(rctx.Operation, rctx.TypeName(), id, err)
	}

	data, err := json.Marshal(previous)
	if err != nil {
		return domain.WrapOperation(rctx.Operation, rctx.TypeName(), id, err)
	}

	v := &domain.VersionContent{
		ID:               uuid.New().String(),
		ObjectID:         id,
		EntityID:         rctx.Definition.Type,
		ServiceName:      rctx.Definition.ServiceName,
		VersionNumber:    number,
		CreatedByUserID:  rctx.UserID,
		CreatedAt:        time.Now().UTC(),
		SerializedObject: data,
	}
	if err := vs.InsertVersion(ctx, v); err != nil {
		return domain.WrapOperation(rctx.Operation, rctx.TypeName(), id, err)
	}

	metrics.VersionsCreated.WithLabelValues(rctx.TypeName()).Inc()
	return nil
}

func newTrashContent(rctx *domain.RepositoryContext, id string, rec domain.Record) (*domain.TrashContent, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, domain.WrapOperation(rctx.Operation, rctx.TypeName(), id, err)
	}
	return &domain.TrashContent{
		ID:               id,
		CreatedByUserID:  rctx.UserID,
		CreatedAt:        time.Now().UTC(),
		SerializedObject: data,
		ServiceName:      rctx.Definition.ServiceName,
		EntityID:         rctx.Definition.Type,
	}, nil
}

// Versions lists an object's version snapshots in version order.
func (r *Repository) Versions(ctx context.Context, rctx *domain.RepositoryContext, id string) ([]*domain.VersionContent, error) {
	vs, err := r.versionStore(rctx.Definition)
	if err != nil {
		return nil, err
	}
	out, err := vs.ListVersions(ctx, rctx.Definition.Type, id)
	if err != nil {
		return nil, domain.WrapOperation(rctx.Operation, rctx.TypeName(), id, err)
	}
	return out, nil
}

// Trash lists the entity's trash snapshots, newest first.
func (r *Repository) Trash(ctx context.Context, rctx *domain.RepositoryContext) ([]*domain.TrashContent, error) {
	ts, err := r.trashStore(rctx.Definition)
	if err != nil {
		return nil, err
	}
	out, err := ts.ListTrash(ctx, rctx.Definition.Type)
	if err != nil {
		return nil, domain.WrapOperation(rctx.Operation, rctx.TypeName(), "", err)
	}
	return out, nil
}

// Rollback replaces the object's stored state with a prior version snapshot.
// An unknown version ID raises ErrInformationInvalid.
func (r *Repository) Rollback(ctx context.Context, rctx *domain.RepositoryContext, versionID string) (domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "rollback")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	vs, verr := r.versionStore(rctx.Definition)
	if verr != nil {
		err = verr
		return nil, err
	}

	v, gerr := vs.GetVersion(ctx, versionID)
	if errors.Is(gerr, domain.ErrNotFound) {
		err = fmt.Errorf("%w: unknown version %q", domain.ErrInformationInvalid, versionID)
		return nil, err
	}
	if gerr != nil {
		err = domain.WrapOperation(domain.OpRollback, rctx.TypeName(), versionID, gerr)
		return nil, err
	}
	if v.EntityID != rctx.Definition.Type {
		err = fmt.Errorf("%w: version %q belongs to %s", domain.ErrInformationInvalid, versionID, v.EntityID)
		return nil, err
	}

	var rec domain.Record
	if err = json.Unmarshal(v.SerializedObject, &rec); err != nil {
		err = fmt.Errorf("%w: version %q is not readable", domain.ErrInformationInvalid, versionID)
		return nil, err
	}

	t, terr := r.primaryTarget(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}
	current, lerr := r.load(ctx, t, rctx, v.ObjectID)
	if lerr != nil {
		err = domain.WrapOperation(domain.OpRollback, rctx.TypeName(), v.ObjectID, lerr)
		return nil, err
	}

	// The outgoing state is always snapshotted, regardless of the entity's
	// versioning policy; the overwrite below must not snapshot again.
	if err = r.takeVersion(ctx, rctx, v.ObjectID, current); err != nil {
		return nil, err
	}

	return r.replace(ctx, rctx, v.ObjectID, rec, false)
}

// Restore resurrects a deleted record from trash and evicts the snapshot.
// An unknown trash ID raises ErrInformationInvalid.
func (r *Repository) Restore(ctx context.Context, rctx *domain.RepositoryContext, trashID string) (domain.Record, error) {
	ctx, span := r.startSpan(ctx, rctx, "restore")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { observe(rctx, start, err) }()

	ts, terr := r.trashStore(rctx.Definition)
	if terr != nil {
		err = terr
		return nil, err
	}

	content, gerr := ts.GetTrash(ctx, trashID)
	if errors.Is(gerr, domain.ErrNotFound) {
		err = fmt.Errorf("%w: unknown trash entry %q", domain.ErrInformationInvalid, trashID)
		return nil, err
	}
	if gerr != nil {
		err = domain.WrapOperation(domain.OpRestore, rctx.TypeName(), trashID, gerr)
		return nil, err
	}
	if content.EntityID != rctx.Definition.Type {
		err = fmt.Errorf("%w: trash entry %q belongs to %s", domain.ErrInformationInvalid, trashID, content.EntityID)
		return nil, err
	}

	var rec domain.Record
	if err = json.Unmarshal(content.SerializedObject, &rec); err != nil {
		err = fmt.Errorf("%w: trash entry %q is not readable", domain.ErrInformationInvalid, trashID)
		return nil, err
	}

	t, rerr := r.primaryTarget(rctx.Definition)
	if rerr != nil {
		err = rerr
		return nil, err
	}

	id := rctx.Definition.Identity(rec)
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
		err = domain.WrapOperation(domain.OpRestore, rctx.TypeName(), id, err)
		rctx.LastErr = err
		return nil, err
	}

	if derr := ts.DeleteTrash(ctx, trashID); derr != nil {
		r.logger.Warn("trash eviction after restore failed",
			"entity_type", rctx.TypeName(),
			"trash_id", trashID,
			"error", derr,
		)
	}

	rctx.Current = rec
	r.cachePut(ctx, rctx, id, rec)
	r.publish(ctx, domain.TopicEntityRestored, rctx, id)
	if rctx.Definition.AutoSync {
		r.syncer.dispatch(rctx, domain.OpRestore, id, rec)
	}

	return rec, nil
}
