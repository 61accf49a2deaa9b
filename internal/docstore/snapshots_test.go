package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/domain"
)

func TestVersionSnapshots(t *testing.T) {
	s := NewSnapshotStore()
	ctx := context.Background()

	n, err := s.NextVersionNumber(ctx, "Item", "a")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, s.InsertVersion(ctx, &domain.VersionContent{
		ID: "v1", EntityID: "Item", ObjectID: "a", VersionNumber: 1,
	}))
	require.NoError(t, s.InsertVersion(ctx, &domain.VersionContent{
		ID: "v2", EntityID: "Item", ObjectID: "a", VersionNumber: 2,
	}))
	require.NoError(t, s.InsertVersion(ctx, &domain.VersionContent{
		ID: "v3", EntityID: "Item", ObjectID: "other", VersionNumber: 7,
	}))

	t.Run("NumbersArePerObject", func(t *testing.T) {
		n, err := s.NextVersionNumber(ctx, "Item", "a")
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		n, err = s.NextVersionNumber(ctx, "Item", "other")
		require.NoError(t, err)
		require.EqualValues(t, 8, n)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		err := s.InsertVersion(ctx, &domain.VersionContent{ID: "v1"})
		require.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("Get", func(t *testing.T) {
		v, err := s.GetVersion(ctx, "v2")
		require.NoError(t, err)
		require.EqualValues(t, 2, v.VersionNumber)

		_, err = s.GetVersion(ctx, "absent")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListInVersionOrder", func(t *testing.T) {
		out, err := s.ListVersions(ctx, "Item", "a")
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, "v1", out[0].ID)
		require.Equal(t, "v2", out[1].ID)
	})
}

func TestTrashSnapshots(t *testing.T) {
	s := NewSnapshotStore()
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	require.NoError(t, s.InsertTrash(ctx, &domain.TrashContent{ID: "a", EntityID: "Item", CreatedAt: older}))
	require.NoError(t, s.InsertTrash(ctx, &domain.TrashContent{ID: "b", EntityID: "Item", CreatedAt: newer}))

	t.Run("CollisionSurfacesDuplicateKey", func(t *testing.T) {
		err := s.InsertTrash(ctx, &domain.TrashContent{ID: "a", EntityID: "Item"})
		require.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		out, err := s.ListTrash(ctx, "Item")
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, "b", out[0].ID)
	})

	t.Run("DeleteThenReinsert", func(t *testing.T) {
		require.NoError(t, s.DeleteTrash(ctx, "a"))
		require.NoError(t, s.InsertTrash(ctx, &domain.TrashContent{ID: "a", EntityID: "Item", CreatedAt: newer}))
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, err := s.GetTrash(ctx, "absent")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSnapshotPruning(t *testing.T) {
	s := NewSnapshotStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	require.NoError(t, s.InsertVersion(ctx, &domain.VersionContent{ID: "v-old", CreatedAt: old}))
	require.NoError(t, s.InsertVersion(ctx, &domain.VersionContent{ID: "v-new", CreatedAt: fresh}))
	require.NoError(t, s.InsertTrash(ctx, &domain.TrashContent{ID: "t-old", CreatedAt: old}))
	require.NoError(t, s.InsertTrash(ctx, &domain.TrashContent{ID: "t-new", CreatedAt: fresh}))

	cutoff := time.Now().Add(-24 * time.Hour)

	n, err := s.PruneVersions(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = s.PruneTrash(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.GetVersion(ctx, "v-old")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetTrash(ctx, "t-new")
	require.NoError(t, err)
}
