package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(domain.SQLConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func orderDef() *domain.EntityDefinition {
	return &domain.EntityDefinition{
		Type:       "Order",
		Table:      "orders",
		PrimaryKey: "ID",
		Attributes: []domain.AttributeInfo{
			{Name: "ID", Type: domain.AttrString, NotNull: true},
			{Name: "Status", Type: domain.AttrString},
			{Name: "Total", Type: domain.AttrFloat},
			{Name: "Quantity", Type: domain.AttrInt},
			{Name: "Expedited", Type: domain.AttrBool},
			{Name: "PlacedAt", Type: domain.AttrTime},
			{Name: "Reference", StorageColumn: "ref_code", Type: domain.AttrString},
		},
		ExtendedProperties: map[string][]domain.ExtendedPropertyInfo{
			"acme": {
				{Name: "Region", Kind: domain.ExtShortText},
				{Name: "Score", Kind: domain.ExtNumber},
			},
		},
	}
}

func setupOrders(t *testing.T) (*Store, *domain.EntityDefinition) {
	t.Helper()

	store := newTestStore(t)
	def := orderDef()
	require.NoError(t, store.EnsureEntity(context.Background(), def))
	return store, def
}

func TestInsertGetRoundTrip(t *testing.T) {
	store, def := setupOrders(t)
	ctx := context.Background()

	placed := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Insert(ctx, def, domain.Record{
		"ID":        "o-1",
		"Status":    "open",
		"Total":     99.5,
		"Quantity":  3,
		"Expedited": true,
		"PlacedAt":  placed,
		"Reference": "R-77",
	}))

	rec, err := store.Get(ctx, def, "o-1")
	require.NoError(t, err)
	require.Equal(t, "open", rec["Status"])
	require.Equal(t, 99.5, rec["Total"])
	require.Equal(t, int64(3), rec["Quantity"])
	require.Equal(t, true, rec["Expedited"])
	require.Equal(t, "R-77", rec["Reference"])

	got, ok := rec["PlacedAt"].(time.Time)
	require.True(t, ok)
	require.True(t, placed.Equal(got))

	t.Run("DuplicateInsert", func(t *testing.T) {
		err := store.Insert(ctx, def, domain.Record{"ID": "o-1"})
		require.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, err := store.Get(ctx, def, "absent")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("NullColumnsStayAbsent", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, def, domain.Record{"ID": "o-2"}))
		rec, err := store.Get(ctx, def, "o-2")
		require.NoError(t, err)
		_, hasStatus := rec.Get("Status")
		require.False(t, hasStatus)
	})
}

func TestReplaceUpdateDelete(t *testing.T) {
	store, def := setupOrders(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, def, domain.Record{
		"ID": "o-1", "Status": "open", "Quantity": 1, "Total": 10.0,
	}))

	t.Run("ReplaceOverwritesAll", func(t *testing.T) {
		require.NoError(t, store.Replace(ctx, def, "o-1", domain.Record{
			"ID": "o-1", "Status": "held",
		}))
		rec, err := store.Get(ctx, def, "o-1")
		require.NoError(t, err)
		require.Equal(t, "held", rec["Status"])
		_, hasTotal := rec.Get("Total")
		require.False(t, hasTotal)
	})

	t.Run("UpdateTouchesOnlyGivenColumns", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, def, "o-1", domain.Record{"Quantity": 7}))
		rec, err := store.Get(ctx, def, "o-1")
		require.NoError(t, err)
		require.Equal(t, "held", rec["Status"])
		require.Equal(t, int64(7), rec["Quantity"])
	})

	t.Run("UpdateUnknownAttributesIgnored", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, def, "o-1", domain.Record{"NoSuchColumn": 1}))
	})

	t.Run("MissingRowIsNotFound", func(t *testing.T) {
		require.ErrorIs(t, store.Replace(ctx, def, "absent", domain.Record{"Status": "x"}), domain.ErrNotFound)
		require.ErrorIs(t, store.Update(ctx, def, "absent", domain.Record{"Status": "x"}), domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, def, "o-1"))
		ok, err := store.Exists(ctx, def, "o-1")
		require.NoError(t, err)
		require.False(t, ok)

		// Deleting an absentee is not an error.
		require.NoError(t, store.Delete(ctx, def, "o-1"))
	})
}

func TestFindWithPredicate(t *testing.T) {
	store, def := setupOrders(t)
	ctx := context.Background()

	for _, rec := range []domain.Record{
		{"ID": "a", "Status": "open", "Total": 10.0},
		{"ID": "b", "Status": "open", "Total": 30.0},
		{"ID": "c", "Status": "held", "Total": 20.0},
	} {
		require.NoError(t, store.Insert(ctx, def, rec))
	}

	pred := &domain.SQLPredicate{
		Expr:   "Origin.Status = @p0",
		Params: map[string]any{"p0": "open"},
	}

	t.Run("Find", func(t *testing.T) {
		recs, err := store.Find(ctx, def, pred, "Origin.Total DESC", 0, 0)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		require.Equal(t, "b", recs[0]["ID"])
	})

	t.Run("FindIDs", func(t *testing.T) {
		ids, err := store.FindIDs(ctx, def, pred, "Origin.Total ASC", 0, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("LimitOffset", func(t *testing.T) {
		recs, err := store.Find(ctx, def, nil, "Origin.ID ASC", 2, 1)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		require.Equal(t, "b", recs[0]["ID"])
	})

	t.Run("Count", func(t *testing.T) {
		n, err := store.Count(ctx, def, pred)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)

		n, err = store.Count(ctx, def, nil)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)
	})

	t.Run("GetMany", func(t *testing.T) {
		recs, err := store.GetMany(ctx, def, []string{"a", "absent", "c"})
		require.NoError(t, err)
		require.Len(t, recs, 2)
	})

	t.Run("Search", func(t *testing.T) {
		recs, err := store.Search(ctx, def, "hel", nil, "", 0, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "c", recs[0]["ID"])

		// Conjoined with the structural predicate.
		recs, err = store.Search(ctx, def, "ope", pred, "Origin.Total ASC", 0, 0)
		require.NoError(t, err)
		require.Len(t, recs, 2)
	})
}

func TestExtendedProperties(t *testing.T) {
	store, def := setupOrders(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, def, domain.Record{"ID": "o-1", "Status": "open"}))
	require.NoError(t, store.UpsertExtended(ctx, def, "o-1", "acme", domain.Record{
		"Region": "EMEA",
		"Score":  7.5,
	}))

	t.Run("GetExtended", func(t *testing.T) {
		ext, err := store.GetExtended(ctx, def, "o-1", "acme")
		require.NoError(t, err)
		require.Equal(t, "EMEA", ext["Region"])
		require.Equal(t, 7.5, ext["Score"])
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		require.NoError(t, store.UpsertExtended(ctx, def, "o-1", "acme", domain.Record{
			"Region": "APAC",
		}))
		ext, err := store.GetExtended(ctx, def, "o-1", "acme")
		require.NoError(t, err)
		require.Equal(t, "APAC", ext["Region"])
		// Unmentioned properties are cleared by the full upsert.
		_, hasScore := ext.Get("Score")
		require.False(t, hasScore)
	})

	t.Run("MissingRowYieldsEmpty", func(t *testing.T) {
		ext, err := store.GetExtended(ctx, def, "other", "acme")
		require.NoError(t, err)
		require.Empty(t, ext)
	})

	t.Run("PredicateAgainstExtentJoins", func(t *testing.T) {
		pred := &domain.SQLPredicate{
			Expr:   "Extent.Region = @p0",
			Params: map[string]any{"p0": "APAC"},
		}
		ids, err := store.FindIDs(ctx, def, pred, "", 0, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"o-1"}, ids)

		n, err := store.Count(ctx, def, pred)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})

	t.Run("DeleteRemovesExtendedRows", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, def, "o-1"))
		ext, err := store.GetExtended(ctx, def, "o-1", "acme")
		require.NoError(t, err)
		require.Empty(t, ext)
	})
}

func TestDeleteWhere(t *testing.T) {
	store, def := setupOrders(t)
	ctx := context.Background()

	for _, rec := range []domain.Record{
		{"ID": "a", "Status": "open"},
		{"ID": "b", "Status": "open"},
		{"ID": "c", "Status": "held"},
	} {
		require.NoError(t, store.Insert(ctx, def, rec))
	}
	require.NoError(t, store.UpsertExtended(ctx, def, "a", "acme", domain.Record{"Region": "EMEA"}))

	n, err := store.DeleteWhere(ctx, def, &domain.SQLPredicate{
		Expr:   "Origin.Status = @p0",
		Params: map[string]any{"p0": "open"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// Extended rows of deleted objects are gone with them.
	ext, err := store.GetExtended(ctx, def, "a", "acme")
	require.NoError(t, err)
	require.Empty(t, ext)

	left, err := store.Count(ctx, def, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, left)

	t.Run("EmptyPredicateClearsTable", func(t *testing.T) {
		n, err := store.DeleteWhere(ctx, def, &domain.SQLPredicate{})
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})
}

func TestParentLinkJoin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := orderDef()
	def.Parent = &domain.ParentAssociation{
		Attribute:       "CustomerID",
		Column:          "ref_code",
		LinkTable:       "order_customers",
		LinkColumn:      "customer_id",
		LinkChildColumn: "order_id",
	}
	require.NoError(t, store.EnsureEntity(ctx, def))

	require.NoError(t, store.Insert(ctx, def, domain.Record{"ID": "a", "Reference": "c-1"}))
	require.NoError(t, store.Insert(ctx, def, domain.Record{"ID": "b"}))

	// Link b to c-1 through the mapping table only.
	_, err := store.db.Exec("INSERT INTO order_customers (customer_id, order_id) VALUES (?, ?)", "c-1", "b")
	require.NoError(t, err)

	pred := &domain.SQLPredicate{
		Expr:   "(Origin.ref_code = @p0_d0 OR Link.customer_id = @p0_l0)",
		Params: map[string]any{"p0_d0": "c-1", "p0_l0": "c-1"},
	}

	ids, err := store.FindIDs(ctx, def, pred, "Origin.ID ASC", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	n, err := store.Count(ctx, def, pred)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestVersionStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.NextVersionNumber(ctx, "Order", "o-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, store.InsertVersion(ctx, &domain.VersionContent{
		ID: "v1", ObjectID: "o-1", EntityID: "Order", VersionNumber: 1,
		CreatedAt: time.Now().UTC(), SerializedObject: []byte(`{"ID":"o-1"}`),
	}))
	require.NoError(t, store.InsertVersion(ctx, &domain.VersionContent{
		ID: "v2", ObjectID: "o-1", EntityID: "Order", VersionNumber: 2,
		CreatedAt: time.Now().UTC(), SerializedObject: []byte(`{"ID":"o-1","Status":"held"}`),
	}))

	n, err = store.NextVersionNumber(ctx, "Order", "o-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	v, err := store.GetVersion(ctx, "v2")
	require.NoError(t, err)
	require.EqualValues(t, 2, v.VersionNumber)
	require.JSONEq(t, `{"ID":"o-1","Status":"held"}`, string(v.SerializedObject))

	_, err = store.GetVersion(ctx, "absent")
	require.ErrorIs(t, err, domain.ErrNotFound)

	list, err := store.ListVersions(ctx, "Order", "o-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "v1", list[0].ID)

	pruned, err := store.PruneVersions(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, pruned)
}

func TestTrashStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := &domain.TrashContent{
		ID: "o-1", EntityID: "Order",
		CreatedAt: time.Now().UTC(), SerializedObject: []byte(`{"ID":"o-1"}`),
	}
	require.NoError(t, store.InsertTrash(ctx, content))

	t.Run("CollisionSurfacesDuplicateKey", func(t *testing.T) {
		err := store.InsertTrash(ctx, content)
		require.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	got, err := store.GetTrash(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, "Order", got.EntityID)

	list, err := store.ListTrash(ctx, "Order")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteTrash(ctx, "o-1"))
	_, err = store.GetTrash(ctx, "o-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.InsertTrash(ctx, content))
	pruned, err := store.PruneTrash(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, pruned)
}
