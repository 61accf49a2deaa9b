package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
)

// SnapshotStore keeps version and trash snapshots for document-mode version
// and trash data sources.
type SnapshotStore struct {
	mu       sync.RWMutex
	versions map[string]*domain.VersionContent
	trash    map[string]*domain.TrashContent
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		versions: make(map[string]*domain.VersionContent),
		trash:    make(map[string]*domain.TrashContent),
	}
}

// InsertVersion stores an immutable version snapshot.
func (s *SnapshotStore) InsertVersion(ctx context.Context, v *domain.VersionContent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[v.ID]; ok {
		return fmt.Errorf("%w: version %q", domain.ErrDuplicateKey, v.ID)
	}
	clone := *v
	s.versions[v.ID] = &clone
	return nil
}

// NextVersionNumber returns max(existing)+1 for the object, starting at 1.
func (s *SnapshotStore) NextVersionNumber(ctx context.Context, entityID, objectID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, v := range s.versions {
		if v.EntityID == entityID && v.ObjectID == objectID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max + 1, nil
}

// GetVersion returns one version snapshot, or ErrNotFound.
func (s *SnapshotStore) GetVersion(ctx context.Context, id string) (*domain.VersionContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *v
	return &clone, nil
}

// ListVersions returns the object's versions in version-number order.
func (s *SnapshotStore) ListVersions(ctx context.Context, entityID, objectID string) ([]*domain.VersionContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.VersionContent
	for _, v := range s.versions {
		if v.EntityID == entityID && v.ObjectID == objectID {
			clone := *v
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

// PruneVersions removes snapshots older than the cutoff.
func (s *SnapshotStore) PruneVersions(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, v := range s.versions {
		if v.CreatedAt.Before(olderThan) {
			delete(s.versions, id)
			removed++
		}
	}
	return removed, nil
}

// InsertTrash stores a trash snapshot, surfacing ErrDuplicateKey on an
// identity collision.
func (s *SnapshotStore) InsertTrash(ctx context.Context, t *domain.TrashContent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trash[t.ID]; ok {
		return fmt.Errorf("%w: trash %q", domain.ErrDuplicateKey, t.ID)
	}
	clone := *t
	s.trash[t.ID] = &clone
	return nil
}

// GetTrash returns one trash snapshot, or ErrNotFound.
func (s *SnapshotStore) GetTrash(ctx context.Context, id string) (*domain.TrashContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trash[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

// ListTrash returns the entity's trash snapshots, newest first.
func (s *SnapshotStore) ListTrash(ctx context.Context, entityID string) ([]*domain.TrashContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TrashContent
	for _, t := range s.trash {
		if t.EntityID == entityID {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteTrash removes one trash snapshot.
func (s *SnapshotStore) DeleteTrash(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.trash, id)
	return nil
}

// PruneTrash removes snapshots older than the cutoff.
func (s *SnapshotStore) PruneTrash(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, t := range s.trash {
		if t.CreatedAt.Before(olderThan) {
			delete(s.trash, id)
			removed++
		}
	}
	return removed, nil
}
