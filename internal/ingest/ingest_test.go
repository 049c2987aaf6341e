package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatvault/internal/archive"
	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/events"
	"github.com/comigor/chatvault/internal/history"
)

const shardA = `[
 {"id":"c1","title":"Soup","create_time":1609459200.5,"current_node":"b","mapping":{
   "root":{"id":"root","parent":null,"children":["a"],"message":null},
   "a":{"id":"a","parent":"root","children":["b"],"message":{"id":"a","author":{"role":"user"},"content":{"content_type":"text","parts":["How do I make soup?"]}}},
   "b":{"id":"b","parent":"a","children":[],"message":{"id":"b","author":{"role":"assistant"},"content":{"content_type":"text","parts":["Boil water."]}}}
 }},
 {"id":42}
]`

const shardB = `[
 {"id":"c2","title":"","create_time":1704067200,"current_node":null,"mapping":{}},
 {"conversation_id":"c3","title":"Code","current_node":"x","mapping":{
   "x":{"id":"x","parent":null,"children":[],"message":{"id":"x","author":{"role":"assistant"},"content":{"content_type":"code","parts":["print(1)"]}}}
 }}
]`

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type recorder struct{ got []events.Event }

func (r *recorder) Emit(e events.Event) { r.got = append(r.got, e) }

func (r *recorder) kinds() []events.Kind {
	out := make([]events.Kind, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Kind)
	}
	return out
}

func TestRun_ShardedArchive(t *testing.T) {
	ctx := context.Background()
	path := writeZip(t, map[string]string{
		"conversations-000.json":        shardA,
		"conversations-001.json":        shardB,
		"__MACOSX/._conversations.json": "garbage",
	})
	store := openStore(t)
	rec := &recorder{}

	sum, err := New(store, rec, config.IngestConfig{ProgressEvery: 2, BatchSize: 2}).Run(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 2021, sum.EarliestYear)
	require.Equal(t, 2024, sum.LatestYear)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	c1, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "How do I make soup?\n\nBoil water.", c1.FullText)
	require.Equal(t, 2, c1.MessageCount)

	c2, err := store.Get(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, "Untitled", c2.Title)
	require.Zero(t, c2.MessageCount)

	c3, err := store.Get(ctx, "c3")
	require.NoError(t, err)
	require.True(t, c3.HasCode)

	require.Equal(t, []events.Kind{
		events.IngestStarted,
		events.IngestExtractingArchive,
		events.IngestParsingConversations,
		events.IngestParsingConversations,
		events.IngestBuildingIndex,
		events.IngestComplete,
	}, rec.kinds())
	require.Equal(t, 2, rec.got[3].Processed)

	done := rec.got[len(rec.got)-1]
	require.Equal(t, 3, done.Total)
	require.Equal(t, 2021, done.EarliestYear)
	require.NotEmpty(t, done.RunID)
	for _, e := range rec.got {
		require.Equal(t, sum.RunID, e.RunID)
	}
}

func TestRun_ReingestDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ing := New(store, nil, config.IngestConfig{})

	first := writeZip(t, map[string]string{"conversations.json": shardA})
	_, err := ing.Run(ctx, first)
	require.NoError(t, err)

	_, err = store.UpdateEnrichment(ctx, history.Enrichment{ID: "c1", Label: "Cooking", Summary: "Soup."})
	require.NoError(t, err)

	renamed := `[{"id":"c1","title":"Soup v2","current_node":null,"mapping":{}}]`
	second := writeZip(t, map[string]string{"conversations.json": renamed})
	_, err = ing.Run(ctx, second)
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	c1, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Soup v2", c1.Title)
	require.Equal(t, "Cooking", *c1.Label)
}

func TestRun_NoTimestampsLeavesYearsZero(t *testing.T) {
	path := writeZip(t, map[string]string{"conversations.json": `[{"id":"a","mapping":{}}]`})
	sum, err := New(openStore(t), nil, config.IngestConfig{}).Run(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Total)
	require.Zero(t, sum.EarliestYear)
	require.Zero(t, sum.LatestYear)
}

func TestRun_MissingDataEmitsError(t *testing.T) {
	path := writeZip(t, map[string]string{"readme.txt": "hi"})
	rec := &recorder{}

	_, err := New(openStore(t), rec, config.IngestConfig{}).Run(context.Background(), path)
	require.ErrorIs(t, err, archive.ErrNoConversations)

	var archErr *archive.Error
	require.True(t, errors.As(err, &archErr))

	last := rec.got[len(rec.got)-1]
	require.Equal(t, events.IngestError, last.Kind)
	require.NotEmpty(t, last.Message)
}

type failingStore struct{}

func (failingStore) Batch(context.Context, func(history.Writer) error) error {
	return errors.New("disk full")
}

func TestRun_StoreFailureAborts(t *testing.T) {
	path := writeZip(t, map[string]string{"conversations.json": shardA})
	rec := &recorder{}

	_, err := New(failingStore{}, rec, config.IngestConfig{}).Run(context.Background(), path)
	require.EqualError(t, err, "disk full")
	require.Equal(t, events.IngestError, rec.got[len(rec.got)-1].Kind)
}

func TestRun_Cancelled(t *testing.T) {
	path := writeZip(t, map[string]string{"conversations.json": shardA})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(openStore(t), nil, config.IngestConfig{}).Run(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
}
