package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestUpsert_ReplacesInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c1", Title: "First", MessageCount: 2, FullText: "a"}))
	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c1", Title: "Renamed", MessageCount: 5, FullText: "b", HasCode: true}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)
	require.Equal(t, 5, got.MessageCount)
	require.Equal(t, "b", got.FullText)
	require.True(t, got.HasCode)
}

func TestUpsert_KeepsEnrichment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c1", Title: "First"}))
	found, err := s.UpdateEnrichment(ctx, Enrichment{ID: "c1", Label: "Cooking", Summary: "Soup."})
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c1", Title: "Again"}))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Again", got.Title)
	require.NotNil(t, got.Label)
	require.Equal(t, "Cooking", *got.Label)
}

func TestUpdateEnrichment_UnknownID(t *testing.T) {
	s := openTestStore(t)
	found, err := s.UpdateEnrichment(context.Background(), Enrichment{ID: "missing", Label: "X"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpdateEnrichment_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c1", Title: "T"}))

	e := Enrichment{ID: "c1", Label: "Travel", Summary: "Trip.", Instructions: ptr("use metric units")}
	_, err := s.UpdateEnrichment(ctx, e)
	require.NoError(t, err)
	first, err := s.Get(ctx, "c1")
	require.NoError(t, err)

	_, err = s.UpdateEnrichment(ctx, e)
	require.NoError(t, err)
	second, err := s.Get(ctx, "c1")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, "use metric units", *second.Instructions)
}

func TestListAll_OrderedByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "late", Title: "L", CreatedAt: ptr(int64(300))}))
	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "early", Title: "E", CreatedAt: ptr(int64(100))}))
	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "undated", Title: "U"}))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "undated", all[0].ID)
	require.Equal(t, "early", all[1].ID)
	require.Equal(t, "late", all[2].ID)
	require.Equal(t, 1970, all[1].Created().Year())
}

func TestBatch_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Batch(ctx, func(w Writer) error {
		if err := w.Upsert(ctx, &Conversation{ID: "c1", Title: "T"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpen_ReopensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c1", Title: "Kept", CreatedAt: ptr(int64(1700000000)), UpdatedAt: ptr(int64(1700000500))}))
	require.NoError(t, s.Upsert(ctx, &Conversation{ID: "c2", Title: "Undated"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), *got.CreatedAt)
	require.Equal(t, int64(1700000500), *got.UpdatedAt)

	_, err = s.UpdateEnrichment(ctx, Enrichment{ID: "c1", Label: "Misc", Summary: "x"})
	require.NoError(t, err)
	got, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), *got.CreatedAt)

	undated, err := s.Get(ctx, "c2")
	require.NoError(t, err)
	require.Nil(t, undated.CreatedAt)
	require.Nil(t, undated.UpdatedAt)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c2", "c1"}, []string{all[0].ID, all[1].ID})
}
