package domain

import (
	"context"
	"time"
)

// Thin driver surfaces. The mediator dispatches to one of these at the point
// of calling into the backend; all surrounding policy is backend-agnostic.

// SQLStore executes metadata-driven statements against a relational backend.
type SQLStore interface {
	Insert(ctx context.Context, def *EntityDefinition, rec Record) error
	Get(ctx context.Context, def *EntityDefinition, id string) (Record, error)
	GetMany(ctx context.Context, def *EntityDefinition, ids []string) ([]Record, error)
	Exists(ctx context.Context, def *EntityDefinition, id string) (bool, error)

	// Replace writes the full record; Update sends only the given values.
	Replace(ctx context.Context, def *EntityDefinition, id string, rec Record) error
	Update(ctx context.Context, def *EntityDefinition, id string, values Record) error

	Delete(ctx context.Context, def *EntityDefinition, id string) error
	DeleteWhere(ctx context.Context, def *EntityDefinition, pred *SQLPredicate) (int64, error)

	Find(ctx context.Context, def *EntityDefinition, pred *SQLPredicate, order SQLOrderBy, limit, offset int) ([]Record, error)
	FindIDs(ctx context.Context, def *EntityDefinition, pred *SQLPredicate, order SQLOrderBy, limit, offset int) ([]string, error)
	Count(ctx context.Context, def *EntityDefinition, pred *SQLPredicate) (int64, error)

	// Search matches text across string attributes, conjoined with pred.
	Search(ctx context.Context, def *EntityDefinition, text string, pred *SQLPredicate, order SQLOrderBy, limit, offset int) ([]Record, error)

	Ping(ctx context.Context) error
	Close() error
}

// DocStore executes compiled document filters against a document backend.
type DocStore interface {
	Insert(ctx context.Context, def *EntityDefinition, rec Record) error
	Get(ctx context.Context, def *EntityDefinition, id string) (Record, error)
	GetMany(ctx context.Context, def *EntityDefinition, ids []string) ([]Record, error)
	Exists(ctx context.Context, def *EntityDefinition, id string) (bool, error)

	Replace(ctx context.Context, def *EntityDefinition, id string, rec Record) error
	Update(ctx context.Context, def *EntityDefinition, id string, values Record) error

	Delete(ctx context.Context, def *EntityDefinition, id string) error
	DeleteWhere(ctx context.Context, def *EntityDefinition, filter *DocFilter) (int64, error)

	Find(ctx context.Context, def *EntityDefinition, filter *DocFilter, sort DocSort, limit, offset int) ([]Record, error)
	FindIDs(ctx context.Context, def *EntityDefinition, filter *DocFilter, sort DocSort, limit, offset int) ([]string, error)
	Count(ctx context.Context, def *EntityDefinition, filter *DocFilter) (int64, error)

	Search(ctx context.Context, def *EntityDefinition, text string, filter *DocFilter, sort DocSort, limit, offset int) ([]Record, error)

	Ping(ctx context.Context) error
	Close() error
}

// VersionStore persists version snapshots. Both backends implement it.
type VersionStore interface {
	InsertVersion(ctx context.Context, v *VersionContent) error

	// NextVersionNumber returns max(existing)+1 for the object, starting at 1.
	NextVersionNumber(ctx context.Context, entityID, objectID string) (int64, error)

	GetVersion(ctx context.Context, id string) (*VersionContent, error)
	ListVersions(ctx context.Context, entityID, objectID string) ([]*VersionContent, error)
	PruneVersions(ctx context.Context, olderThan time.Time) (int64, error)
}

// TrashStore persists trash snapshots. Both backends implement it.
type TrashStore interface {
	// InsertTrash surfaces ErrDuplicateKey on a primary-key collision so the
	// mediator can delete the stale record and retry once.
	InsertTrash(ctx context.Context, t *TrashContent) error

	GetTrash(ctx context.Context, id string) (*TrashContent, error)
	ListTrash(ctx context.Context, entityID string) ([]*TrashContent, error)
	DeleteTrash(ctx context.Context, id string) error
	PruneTrash(ctx context.Context, olderThan time.Time) (int64, error)
}
