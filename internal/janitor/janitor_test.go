package janitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/docstore"
	"github.com/open-mediary/mediary/internal/domain"
)

func TestSweep(t *testing.T) {
	store := docstore.NewSnapshotStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	require.NoError(t, store.InsertVersion(ctx, &domain.VersionContent{
		ID: "v-old", ObjectID: "a", EntityID: "Doc", VersionNumber: 1, CreatedAt: old,
	}))
	require.NoError(t, store.InsertVersion(ctx, &domain.VersionContent{
		ID: "v-new", ObjectID: "a", EntityID: "Doc", VersionNumber: 2, CreatedAt: fresh,
	}))
	require.NoError(t, store.InsertTrash(ctx, &domain.TrashContent{
		ID: "t-old", EntityID: "Doc", CreatedAt: old,
	}))
	require.NoError(t, store.InsertTrash(ctx, &domain.TrashContent{
		ID: "t-new", EntityID: "Doc", CreatedAt: fresh,
	}))

	j := New(domain.JanitorConfig{
		Interval:         time.Hour,
		VersionRetention: 24 * time.Hour,
		TrashRetention:   24 * time.Hour,
	}, slog.Default())
	j.AddVersionStore(store)
	j.AddTrashStore(store)

	j.Sweep(ctx)

	versions, err := store.ListVersions(ctx, "Doc", "a")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, "v-new", versions[0].ID)

	trash, err := store.ListTrash(ctx, "Doc")
	require.NoError(t, err)
	require.Len(t, trash, 1)
	require.Equal(t, "t-new", trash[0].ID)
}

func TestStartStop(t *testing.T) {
	j := New(domain.JanitorConfig{Interval: 10 * time.Millisecond}, slog.Default())
	j.Start()
	time.Sleep(30 * time.Millisecond)
	j.Stop()
}
