package docstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/domain"
)

func testDef() *domain.EntityDefinition {
	return &domain.EntityDefinition{
		Type:       "Item",
		Table:      "items",
		PrimaryKey: "ID",
		Attributes: []domain.AttributeInfo{
			{Name: "ID", Type: domain.AttrString},
			{Name: "Name", Type: domain.AttrString},
			{Name: "Rank", Type: domain.AttrInt},
		},
	}
}

func seed(t *testing.T, s *Store, def *domain.EntityDefinition, recs ...domain.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, s.Insert(context.Background(), def, rec))
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def, domain.Record{"ID": "a", "Name": "first"})

	rec, err := s.Get(ctx, def, "a")
	require.NoError(t, err)
	require.Equal(t, "first", rec["Name"])

	t.Run("DuplicateInsert", func(t *testing.T) {
		err := s.Insert(ctx, def, domain.Record{"ID": "a"})
		require.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("MissingIdentity", func(t *testing.T) {
		err := s.Insert(ctx, def, domain.Record{"Name": "anon"})
		require.ErrorIs(t, err, domain.ErrValueInvalid)
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, err := s.Get(ctx, def, "absent")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("StoredCopyIsIsolated", func(t *testing.T) {
		rec["Name"] = "mutated"
		again, err := s.Get(ctx, def, "a")
		require.NoError(t, err)
		require.Equal(t, "first", again["Name"])
	})
}

func TestReplaceAndUpdate(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def, domain.Record{"ID": "a", "Name": "first", "Rank": 1})

	require.NoError(t, s.Replace(ctx, def, "a", domain.Record{"ID": "a", "Name": "second"}))
	rec, err := s.Get(ctx, def, "a")
	require.NoError(t, err)
	_, hasRank := rec.Get("Rank")
	require.False(t, hasRank, "replace drops unmentioned fields")

	require.NoError(t, s.Update(ctx, def, "a", domain.Record{"Rank": 9}))
	rec, err = s.Get(ctx, def, "a")
	require.NoError(t, err)
	require.Equal(t, "second", rec["Name"], "update keeps unmentioned fields")
	require.Equal(t, 9, rec["Rank"])

	require.ErrorIs(t, s.Replace(ctx, def, "absent", domain.Record{"ID": "absent"}), domain.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, def, "absent", domain.Record{"Rank": 1}), domain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def, domain.Record{"ID": "a"})

	require.NoError(t, s.Delete(ctx, def, "a"))
	ok, err := s.Exists(ctx, def, "a")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting an absentee is not an error.
	require.NoError(t, s.Delete(ctx, def, "a"))
}

func TestMatchSemantics(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def,
		domain.Record{"ID": "a", "Name": "alpha", "Rank": 1},
		domain.Record{"ID": "b", "Name": "beta", "Rank": 2},
		domain.Record{"ID": "c", "Name": nil, "Rank": 3},
		domain.Record{"ID": "d", "Rank": int64(2)},
	)

	count := func(f *domain.DocFilter) int64 {
		n, err := s.Count(ctx, def, f)
		require.NoError(t, err)
		return n
	}

	t.Run("Eq", func(t *testing.T) {
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocEq, Field: "Name", Value: "alpha"}))
	})

	t.Run("EqAgainstNilNeverMatches", func(t *testing.T) {
		require.EqualValues(t, 0, count(&domain.DocFilter{Op: domain.DocEq, Field: "Name", Value: nil}))
	})

	t.Run("NeSkipsAbsentAndNull", func(t *testing.T) {
		// c has Name=nil and d has no Name at all; neither matches.
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocNe, Field: "Name", Value: "alpha"}))
	})

	t.Run("NumericWidening", func(t *testing.T) {
		// d stores Rank as int64; the filter compares a plain int.
		require.EqualValues(t, 2, count(&domain.DocFilter{Op: domain.DocEq, Field: "Rank", Value: 2}))
	})

	t.Run("Ranges", func(t *testing.T) {
		require.EqualValues(t, 3, count(&domain.DocFilter{Op: domain.DocGte, Field: "Rank", Value: 2}))
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocLt, Field: "Rank", Value: 2}))
	})

	t.Run("NullMarker", func(t *testing.T) {
		// Both the explicit nil and the absent field count as null.
		require.EqualValues(t, 2, count(&domain.DocFilter{Op: domain.DocEq, Field: "Name", Value: domain.StringNull}))
		require.EqualValues(t, 2, count(&domain.DocFilter{Op: domain.DocNe, Field: "Name", Value: domain.StringNull}))
	})

	t.Run("Regex", func(t *testing.T) {
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocRegex, Field: "Name", Value: "^al"}))
	})

	t.Run("Combinators", func(t *testing.T) {
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocAnd, Children: []*domain.DocFilter{
			{Op: domain.DocGt, Field: "Rank", Value: 1},
			{Op: domain.DocEq, Field: "Name", Value: "beta"},
		}}))
		require.EqualValues(t, 2, count(&domain.DocFilter{Op: domain.DocOr, Children: []*domain.DocFilter{
			{Op: domain.DocEq, Field: "Name", Value: "alpha"},
			{Op: domain.DocEq, Field: "Name", Value: "beta"},
		}}))
	})

	t.Run("MatchAll", func(t *testing.T) {
		require.EqualValues(t, 4, count(domain.MatchAll()))
		require.EqualValues(t, 4, count(nil))
	})

	t.Run("ArrayMembership", func(t *testing.T) {
		seed(t, s, def, domain.Record{"ID": "e", "Tags": []any{"x", "y"}})
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocEq, Field: "Tags", Value: "y"}))
	})

	t.Run("DottedPath", func(t *testing.T) {
		seed(t, s, def, domain.Record{"ID": "f", "ExtendedProperties": map[string]any{"Region": "EMEA"}})
		require.EqualValues(t, 1, count(&domain.DocFilter{Op: domain.DocEq, Field: "ExtendedProperties.Region", Value: "EMEA"}))
	})
}

func TestFindOrderingAndPaging(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def,
		domain.Record{"ID": "a", "Rank": 3},
		domain.Record{"ID": "b", "Rank": 1},
		domain.Record{"ID": "c", "Rank": nil},
		domain.Record{"ID": "d", "Rank": 2},
	)

	idsOf := func(recs []domain.Record) []string {
		out := make([]string, len(recs))
		for i, rec := range recs {
			out[i] = fmt.Sprintf("%v", rec["ID"])
		}
		return out
	}

	t.Run("AscendingNilFirst", func(t *testing.T) {
		recs, err := s.Find(ctx, def, nil, domain.DocSort{{Field: "Rank"}}, 0, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"c", "b", "d", "a"}, idsOf(recs))
	})

	t.Run("DescendingNilLast", func(t *testing.T) {
		recs, err := s.Find(ctx, def, nil, domain.DocSort{{Field: "Rank", Descending: true}}, 0, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "d", "b", "c"}, idsOf(recs))
	})

	t.Run("PrimaryKeyTieBreak", func(t *testing.T) {
		recs, err := s.Find(ctx, def, nil, nil, 0, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c", "d"}, idsOf(recs))
	})

	t.Run("LimitOffset", func(t *testing.T) {
		recs, err := s.Find(ctx, def, nil, domain.DocSort{{Field: "Rank"}}, 2, 1)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "d"}, idsOf(recs))
	})

	t.Run("OffsetPastEnd", func(t *testing.T) {
		recs, err := s.Find(ctx, def, nil, nil, 0, 10)
		require.NoError(t, err)
		require.Empty(t, recs)
	})

	t.Run("FindIDs", func(t *testing.T) {
		ids, err := s.FindIDs(ctx, def, nil, domain.DocSort{{Field: "Rank", Descending: true}}, 2, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "d"}, ids)
	})
}

func TestSearch(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def,
		domain.Record{"ID": "a", "Name": "Blue Bottle"},
		domain.Record{"ID": "b", "Name": "Green Bottle", "Rank": 5},
		domain.Record{"ID": "c", "Name": "Red Cap"},
	)

	t.Run("CaseInsensitive", func(t *testing.T) {
		recs, err := s.Search(ctx, def, "bottle", nil, nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, recs, 2)
	})

	t.Run("ConjoinedWithFilter", func(t *testing.T) {
		recs, err := s.Search(ctx, def, "bottle",
			&domain.DocFilter{Op: domain.DocGte, Field: "Rank", Value: 5}, nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "b", recs[0]["ID"])
	})

	t.Run("NoMatch", func(t *testing.T) {
		recs, err := s.Search(ctx, def, "cork", nil, nil, 0, 0)
		require.NoError(t, err)
		require.Empty(t, recs)
	})
}

func TestDeleteWhere(t *testing.T) {
	s := New()
	def := testDef()
	ctx := context.Background()

	seed(t, s, def,
		domain.Record{"ID": "a", "Rank": 1},
		domain.Record{"ID": "b", "Rank": 2},
		domain.Record{"ID": "c", "Rank": 3},
	)

	n, err := s.DeleteWhere(ctx, def, &domain.DocFilter{Op: domain.DocGte, Field: "Rank", Value: 2})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	left, err := s.Count(ctx, def, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, left)
}

func TestCancelledContext(t *testing.T) {
	s := New()
	def := testDef()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.Insert(ctx, def, domain.Record{"ID": "a"}))
	_, err := s.Get(ctx, def, "a")
	require.Error(t, err)
}
