package enrich

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatvault/internal/batch"
	"github.com/comigor/chatvault/internal/history"
	"github.com/comigor/chatvault/internal/keychain"
)

// fakeBackend mirrors batch.Backend with overridable funcs. Results lines use
// a tiny "id|status|text" format parsed by ParseResult.
type fakeBackend struct {
	CompleteFunc func(ctx context.Context, system, user string) (string, error)
	SubmitFunc   func(ctx context.Context, reqs []batch.Request) (string, error)
	PollFunc     func(ctx context.Context, jobID string) (batch.Status, error)
	FetchFunc    func(ctx context.Context, location string) (io.ReadCloser, error)

	submitted []batch.Request
	polls     int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Complete(ctx context.Context, system, user string) (string, error) {
	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, system, user)
	}
	return `{"labels":["Cooking","Programming"]}`, nil
}

func (f *fakeBackend) Submit(ctx context.Context, reqs []batch.Request) (string, error) {
	f.submitted = reqs
	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, reqs)
	}
	return "job-1", nil
}

func (f *fakeBackend) Poll(ctx context.Context, jobID string) (batch.Status, error) {
	f.polls++
	if f.PollFunc != nil {
		return f.PollFunc(ctx, jobID)
	}
	return batch.Status{Done: true, State: "ended", Location: "results-1"}, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	if f.FetchFunc != nil {
		return f.FetchFunc(ctx, location)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeBackend) ParseResult(line []byte) (batch.Result, error) {
	parts := strings.SplitN(string(line), "|", 3)
	if len(parts) != 3 {
		return batch.Result{}, io.ErrUnexpectedEOF
	}
	return batch.Result{
		CustomID:  parts[0],
		Succeeded: parts[1] == "succeeded",
		Text:      parts[2],
		Detail:    parts[1],
	}, nil
}

type fakeCreds struct {
	key     string
	deleted bool
}

func (c *fakeCreds) Get() (string, error) {
	if c.key == "" {
		return "", keychain.ErrNotFound
	}
	return c.key, nil
}

func (c *fakeCreds) Delete() error {
	c.deleted = true
	c.key = ""
	return nil
}

func openStore(t *testing.T, ids ...string) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for i, id := range ids {
		created := int64(1700000000 + i)
		require.NoError(t, s.Upsert(context.Background(), &history.Conversation{
			ID:        id,
			Title:     "Title " + id,
			CreatedAt: &created,
			FullText:  "transcript of " + id,
		}))
	}
	return s
}

func results(lines ...string) func(context.Context, string) (io.ReadCloser, error) {
	return func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n")), nil
	}
}
