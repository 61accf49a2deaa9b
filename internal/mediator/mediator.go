// Package mediator is the CRUD orchestration core. Every operation runs the
// same pipeline: hooks, validation, backend dispatch, cache maintenance,
// snapshotting and fan-out, with the backend reached only through the thin
// SQL/document driver interfaces.
package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/metrics"
)

// DefaultCacheExpiration applies when a cached entity declares no expiration.
const DefaultCacheExpiration = 10 * time.Minute

// Options wires a Repository together. Entities and Sources are required;
// everything else degrades gracefully when absent.
type Options struct {
	Entities *domain.EntityRegistry
	Sources  *domain.DataSourceRegistry

	Cache domain.Cache
	Bus   domain.EventBus
	Hooks *domain.HookRegistry

	Logger *slog.Logger

	// SyncTimeout bounds one whole fan-out run.
	SyncTimeout time.Duration
}

// Repository mediates every CRUD operation between callers and the storage
// backends. Safe for concurrent use once construction and connection
// registration are done.
type Repository struct {
	entities *domain.EntityRegistry
	sources  *domain.DataSourceRegistry

	sqlConns map[string]domain.SQLStore
	docConns map[string]domain.DocStore
	versions map[string]domain.VersionStore
	trash    map[string]domain.TrashStore

	cache  domain.Cache
	bus    domain.EventBus
	hooks  *domain.HookRegistry
	syncer *syncer

	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a Repository. Backend connections are attached afterwards with
// the Register*Connection methods, before first use.
func New(opts Options) (*Repository, error) {
	if opts.Entities == nil {
		return nil, fmt.Errorf("entity registry is required")
	}
	if opts.Sources == nil {
		return nil, fmt.Errorf("data source registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hooks := opts.Hooks
	if hooks == nil {
		hooks = domain.NewHookRegistry()
	}

	timeout := opts.SyncTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := &Repository{
		entities: opts.Entities,
		sources:  opts.Sources,
		sqlConns: make(map[string]domain.SQLStore),
		docConns: make(map[string]domain.DocStore),
		versions: make(map[string]domain.VersionStore),
		trash:    make(map[string]domain.TrashStore),
		cache:    opts.Cache,
		bus:      opts.Bus,
		hooks:    hooks,
		logger:   logger,
		tracer:   otel.Tracer("mediary/mediator"),
	}
	r.syncer = newSyncer(r, timeout, logger)
	return r, nil
}

// RegisterSQLConnection attaches a relational backend under a connection ref.
func (r *Repository) RegisterSQLConnection(ref string, store domain.SQLStore) {
	r.sqlConns[ref] = store
	if vs, ok := store.(domain.VersionStore); ok {
		r.versions[ref] = vs
	}
	if ts, ok := store.(domain.TrashStore); ok {
		r.trash[ref] = ts
	}
}

// RegisterDocConnection attaches a document backend under a connection ref.
func (r *Repository) RegisterDocConnection(ref string, store domain.DocStore) {
	r.docConns[ref] = store
	if vs, ok := store.(domain.VersionStore); ok {
		r.versions[ref] = vs
	}
	if ts, ok := store.(domain.TrashStore); ok {
		r.trash[ref] = ts
	}
}

// RegisterVersionStore overrides the version store for a connection ref.
func (r *Repository) RegisterVersionStore(ref string, store domain.VersionStore) {
	r.versions[ref] = store
}

// RegisterTrashStore overrides the trash store for a connection ref.
func (r *Repository) RegisterTrashStore(ref string, store domain.TrashStore) {
	r.trash[ref] = store
}

// NewContext builds an operation context for a registered entity type.
func (r *Repository) NewContext(entityType string, op domain.OperationKind) (*domain.RepositoryContext, error) {
	def := r.entities.Get(entityType)
	if def == nil {
		return nil, fmt.Errorf("%w: unknown entity type %q", domain.ErrInformationInvalid, entityType)
	}
	return domain.NewContext(def, op), nil
}

// Hooks returns the registry operations attach their lifecycle handlers to.
func (r *Repository) Hooks() *domain.HookRegistry {
	return r.hooks
}

// Syncer exposes the fan-out scheduler, mainly so tests and shutdown paths
// can wait for in-flight deliveries.
func (r *Repository) Syncer() interface{ Wait() } {
	return r.syncer
}

// target is one resolved backend endpoint for the duration of a call.
type target struct {
	source *domain.DataSource
	sql    domain.SQLStore
	doc    domain.DocStore
}

func (t *target) mode() domain.Mode {
	return t.source.Mode
}

// resolveTarget maps a data source name onto a live connection.
func (r *Repository) resolveTarget(name string) (*target, error) {
	src := r.sources.Get(name)
	if src == nil {
		return nil, fmt.Errorf("%w: unknown data source %q", domain.ErrDataSourceInvalid, name)
	}

	t := &target{source: src}
	switch src.Mode {
	case domain.ModeSQL:
		t.sql = r.sqlConns[src.ConnectionRef]
		if t.sql == nil {
			return nil, fmt.Errorf("%w: no SQL connection %q for source %q", domain.ErrDataSourceInvalid, src.ConnectionRef, name)
		}
	case domain.ModeDocument:
		t.doc = r.docConns[src.ConnectionRef]
		if t.doc == nil {
			return nil, fmt.Errorf("%w: no document connection %q for source %q", domain.ErrDataSourceInvalid, src.ConnectionRef, name)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported mode %q", domain.ErrDataSourceInvalid, src.Mode)
	}
	return t, nil
}

// primaryTarget resolves the entity's primary data source.
func (r *Repository) primaryTarget(def *domain.EntityDefinition) (*target, error) {
	return r.resolveTarget(def.PrimaryDataSource)
}

// versionStore resolves the version store for an entity: its dedicated
// version data source first, else the primary connection.
func (r *Repository) versionStore(def *domain.EntityDefinition) (domain.VersionStore, error) {
	name := def.VersionDataSource
	if name == "" {
		name = def.PrimaryDataSource
	}
	src := r.sources.Get(name)
	if src == nil {
		return nil, fmt.Errorf("%w: unknown version data source %q", domain.ErrDataSourceInvalid, name)
	}
	vs := r.versions[src.ConnectionRef]
	if vs == nil {
		return nil, fmt.Errorf("%w: connection %q holds no version store", domain.ErrDataSourceInvalid, src.ConnectionRef)
	}
	return vs, nil
}

// trashStore resolves the trash store for an entity.
func (r *Repository) trashStore(def *domain.EntityDefinition) (domain.TrashStore, error) {
	name := def.TrashDataSource
	if name == "" {
		name = def.PrimaryDataSource
	}
	src := r.sources.Get(name)
	if src == nil {
		return nil, fmt.Errorf("%w: unknown trash data source %q", domain.ErrDataSourceInvalid, name)
	}
	ts := r.trash[src.ConnectionRef]
	if ts == nil {
		return nil, fmt.Errorf("%w: connection %q holds no trash store", domain.ErrDataSourceInvalid, src.ConnectionRef)
	}
	return ts, nil
}

// runPre dispatches the synchronous pre-hooks. A handler returning proceed ==
// false cancels the operation, surfacing the handler's error when it supplied
// one. Errors from handlers that still proceed are logged only.
func (r *Repository) runPre(ctx context.Context, rctx *domain.RepositoryContext, kind domain.HookKind, ev *domain.HookEvent) (bool, error) {
	for _, h := range r.hooks.Pre(rctx.TypeName(), kind) {
		proceed, err := h(ctx, ev)
		if !proceed {
			return false, err
		}
		if err != nil {
			r.logger.Warn("pre-hook error",
				"entity_type", rctx.TypeName(),
				"event", string(kind),
				"error", err,
			)
		}
	}
	return true, nil
}

// runPost dispatches the post-hooks fire-and-forget.
func (r *Repository) runPost(rctx *domain.RepositoryContext, kind domain.HookKind, ev *domain.HookEvent) {
	handlers := r.hooks.Post(rctx.TypeName(), kind)
	if len(handlers) == 0 {
		return
	}
	typeName := rctx.TypeName()
	go func() {
		for _, h := range handlers {
			if err := h(context.WithoutCancel(context.Background()), ev); err != nil {
				r.logger.Warn("post-hook error",
					"entity_type", typeName,
					"event", string(kind),
					"error", err,
				)
			}
		}
	}()
}

// publish emits a lifecycle event on the bus, best effort.
func (r *Repository) publish(ctx context.Context, topic string, rctx *domain.RepositoryContext, identity string) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.MutationEvent{
		EntityType: rctx.TypeName(),
		Identity:   identity,
		Operation:  rctx.Operation,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, topic, payload); err != nil {
		r.logger.Warn("event publish failed",
			"topic", topic,
			"entity_type", rctx.TypeName(),
			"identity", identity,
			"error", err,
		)
	}
}

// startSpan opens a tracing span for one operation.
func (r *Repository) startSpan(ctx context.Context, rctx *domain.RepositoryContext, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "mediator."+op,
		trace.WithAttributes(
			attribute.String("mediary.entity_type", rctx.TypeName()),
			attribute.String("mediary.operation", op),
		),
	)
}

// observe records the metrics for one finished operation.
func observe(rctx *domain.RepositoryContext, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	op := string(rctx.Operation)
	metrics.Operations.WithLabelValues(op, rctx.TypeName(), outcome).Inc()
	metrics.OperationDuration.WithLabelValues(op, rctx.TypeName()).Observe(time.Since(start).Seconds())
}
