package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/open-mediary/mediary/internal/compile"
	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/metrics"
)

// syncer fans committed mutations out to an entity's sync data sources. Each
// dispatch is at-most-once per target: a failed delivery is logged and
// counted, never retried. Deliveries run detached from the caller's context
// so a finished request cannot cancel them.
type syncer struct {
	repo    *Repository
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func newSyncer(repo *Repository, timeout time.Duration, logger *slog.Logger) *syncer {
	return &syncer{repo: repo, timeout: timeout, logger: logger}
}

// dispatch schedules one fan-out run for a committed mutation. The record is
// cloned before handoff; the caller's context is not carried across.
func (s *syncer) dispatch(rctx *domain.RepositoryContext, op domain.OperationKind, id string, rec domain.Record) {
	targets := s.targets(rctx.Definition)
	if len(targets) == 0 {
		return
	}

	// Copy everything the goroutines touch; rctx is owned by the caller.
	def := rctx.Definition
	typeName := rctx.TypeName()
	businessEntityID := rctx.BusinessEntityID
	snapshot := rec.Clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		var inner sync.WaitGroup
		for _, name := range targets {
			inner.Add(1)
			go func(name string) {
				defer inner.Done()
				if err := s.deliver(ctx, def, businessEntityID, name, op, id, snapshot); err != nil {
					metrics.SyncFailures.WithLabelValues(typeName, name).Inc()
					s.logger.Warn("sync delivery failed",
						"entity_type", typeName,
						"target", name,
						"operation", string(op),
						"identity", id,
						"error", err,
					)
				}
			}(name)
		}
		inner.Wait()

		s.publishSynced(ctx, typeName, op, id)
	}()
}

// targets returns the deduplicated union of the secondary and sync data
// sources, excluding the primary.
func (s *syncer) targets(def *domain.EntityDefinition) []string {
	seen := make(map[string]bool, len(def.SyncDataSources)+1)
	var out []string
	for _, name := range append([]string{def.SecondaryDataSource}, def.SyncDataSources...) {
		if name == "" || name == def.PrimaryDataSource || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// dispatchDeleteMany replays a committed bulk delete against every target,
// recompiling the filter per target mode.
func (s *syncer) dispatchDeleteMany(rctx *domain.RepositoryContext, filter domain.FilterElement, opts compile.Options) {
	targets := s.targets(rctx.Definition)
	if len(targets) == 0 {
		return
	}

	def := rctx.Definition
	typeName := rctx.TypeName()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		var inner sync.WaitGroup
		for _, name := range targets {
			inner.Add(1)
			go func(name string) {
				defer inner.Done()

				t, err := s.repo.resolveTarget(name)
				if err == nil {
					switch t.mode() {
					case domain.ModeSQL:
						_, err = t.sql.DeleteWhere(ctx, def, compile.SQLFilter(filter, opts))
					case domain.ModeDocument:
						_, err = t.doc.DeleteWhere(ctx, def, compile.DocFilter(filter, opts))
					}
				}
				if err != nil {
					metrics.SyncFailures.WithLabelValues(typeName, name).Inc()
					s.logger.Warn("sync bulk delete failed",
						"entity_type", typeName,
						"target", name,
						"error", err,
					)
				}
			}(name)
		}
		inner.Wait()

		s.publishSynced(ctx, typeName, domain.OpDeleteMany, "")
	}()
}

// deliver applies one mutation to one target. Creates and updates upsert the
// full record so targets converge regardless of missed prior deliveries.
func (s *syncer) deliver(ctx context.Context, def *domain.EntityDefinition, businessEntityID, targetName string, op domain.OperationKind, id string, rec domain.Record) error {
	t, err := s.repo.resolveTarget(targetName)
	if err != nil {
		return err
	}

	sctx := &domain.RepositoryContext{
		Definition:       def,
		Operation:        op,
		BusinessEntityID: businessEntityID,
	}

	if op == domain.OpDelete {
		var derr error
		switch t.mode() {
		case domain.ModeSQL:
			derr = t.sql.Delete(ctx, def, id)
		case domain.ModeDocument:
			derr = t.doc.Delete(ctx, def, id)
		}
		if errors.Is(derr, domain.ErrNotFound) {
			return nil
		}
		return derr
	}

	stored := s.repo.toBackend(t, sctx, rec)

	var exists bool
	switch t.mode() {
	case domain.ModeSQL:
		exists, err = t.sql.Exists(ctx, def, id)
	case domain.ModeDocument:
		exists, err = t.doc.Exists(ctx, def, id)
	}
	if err != nil {
		return err
	}

	switch t.mode() {
	case domain.ModeSQL:
		if exists {
			err = t.sql.Replace(ctx, def, id, stored)
		} else {
			err = t.sql.Insert(ctx, def, stored)
		}
		if err == nil {
			err = s.repo.writeExtended(ctx, t, sctx, id, rec)
		}
	case domain.ModeDocument:
		if exists {
			err = t.doc.Replace(ctx, def, id, stored)
		} else {
			err = t.doc.Insert(ctx, def, stored)
		}
	}
	return err
}

func (s *syncer) publishSynced(ctx context.Context, typeName string, op domain.OperationKind, id string) {
	if s.repo.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.MutationEvent{
		EntityType: typeName,
		Identity:   id,
		Operation:  op,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.repo.bus.Publish(ctx, domain.TopicEntitySynced, payload); err != nil {
		s.logger.Warn("synced event publish failed", "entity_type", typeName, "identity", id, "error", err)
	}
}

// Wait blocks until every dispatched fan-out run has finished. Used by tests
// and shutdown.
func (s *syncer) Wait() {
	s.wg.Wait()
}
