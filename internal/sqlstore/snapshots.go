package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
)

// Version and trash snapshot persistence over the shared connection.

// InsertVersion stores an immutable version snapshot.
func (s *Store) InsertVersion(ctx context.Context, v *domain.VersionContent) error {
	query := `
		INSERT INTO version_contents (
			id, object_id, entity_id, service_name, version_number,
			created_by_user_id, created_at, serialized_object
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		v.ID, v.ObjectID, v.EntityID, v.ServiceName, v.VersionNumber,
		v.CreatedByUserID, v.CreatedAt.UTC(), string(v.SerializedObject),
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: version %q", domain.ErrDuplicateKey, v.ID)
	}
	return err
}

// NextVersionNumber returns max(existing)+1 for the object, starting at 1.
func (s *Store) NextVersionNumber(ctx context.Context, entityID, objectID string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM version_contents
		WHERE entity_id = ? AND object_id = ?
	`

	var next int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), entityID, objectID).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// GetVersion retrieves one version snapshot, or ErrNotFound.
func (s *Store) GetVersion(ctx context.Context, id string) (*domain.VersionContent, error) {
	query := `
		SELECT id, object_id, entity_id, service_name, version_number,
		       created_by_user_id, created_at, serialized_object
		FROM version_contents
		WHERE id = ?
	`

	var v domain.VersionContent
	var serialized string
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&v.ID, &v.ObjectID, &v.EntityID, &v.ServiceName, &v.VersionNumber,
		&v.CreatedByUserID, &v.CreatedAt, &serialized,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.SerializedObject = []byte(serialized)
	return &v, nil
}

// ListVersions returns the object's versions in version-number order.
func (s *Store) ListVersions(ctx context.Context, entityID, objectID string) ([]*domain.VersionContent, error) {
	query := `
		SELECT id, object_id, entity_id, service_name, version_number,
		       created_by_user_id, created_at, serialized_object
		FROM version_contents
		WHERE entity_id = ? AND object_id = ?
		ORDER BY version_number
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), entityID, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.VersionContent
	for rows.Next() {
		var v domain.VersionContent
		var serialized string
		if err := rows.Scan(
			&v.ID, &v.ObjectID, &v.EntityID, &v.ServiceName, &v.VersionNumber,
			&v.CreatedByUserID, &v.CreatedAt, &serialized,
		); err != nil {
			return nil, err
		}
		v.SerializedObject = []byte(serialized)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// PruneVersions removes snapshots older than the cutoff.
func (s *Store) PruneVersions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM version_contents WHERE created_at < ?`

	result, err := s.db.ExecContext(ctx, s.rebind(query), olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// InsertTrash stores a trash snapshot, surfacing ErrDuplicateKey on an
// identity collision.
func (s *Store) InsertTrash(ctx context.Context, t *domain.TrashContent) error {
	query := `
		INSERT INTO trash_contents (
			id, created_by_user_id, created_at, serialized_object,
			service_name, system_id, repository_id, entity_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		t.ID, t.CreatedByUserID, t.CreatedAt.UTC(), string(t.SerializedObject),
		t.ServiceName, t.SystemID, t.RepositoryID, t.EntityID,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: trash %q", domain.ErrDuplicateKey, t.ID)
	}
	return err
}

// GetTrash retrieves one trash snapshot, or ErrNotFound.
func (s *Store) GetTrash(ctx context.Context, id string) (*domain.TrashContent, error) {
	query := `
		SELECT id, created_by_user_id, created_at, serialized_object,
		       service_name, system_id, repository_id, entity_id
		FROM trash_contents
		WHERE id = ?
	`

	var t domain.TrashContent
	var serialized string
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&t.ID, &t.CreatedByUserID, &t.CreatedAt, &serialized,
		&t.ServiceName, &t.SystemID, &t.RepositoryID, &t.EntityID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.SerializedObject = []byte(serialized)
	return &t, nil
}

// ListTrash returns the entity's trash snapshots, newest first.
func (s *Store) ListTrash(ctx context.Context, entityID string) ([]*domain.TrashContent, error) {
	query := `
		SELECT id, created_by_user_id, created_at, serialized_object,
		       service_name, system_id, repository_id, entity_id
		FROM trash_contents
		WHERE entity_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TrashContent
	for rows.Next() {
		var t domain.TrashContent
		var serialized string
		if err := rows.Scan(
			&t.ID, &t.CreatedByUserID, &t.CreatedAt, &serialized,
			&t.ServiceName, &t.SystemID, &t.RepositoryID, &t.EntityID,
		); err != nil {
			return nil, err
		}
		t.SerializedObject = []byte(serialized)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteTrash removes one trash snapshot.
func (s *Store) DeleteTrash(ctx context.Context, id string) error {
	query := `DELETE FROM trash_contents WHERE id = ?`
	_, err := s.db.ExecContext(ctx, s.rebind(query), id)
	return err
}

// PruneTrash removes snapshots older than the cutoff.
func (s *Store) PruneTrash(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM trash_contents WHERE created_at < ?`

	result, err := s.db.ExecContext(ctx, s.rebind(query), olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
