package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range []string{"a.png", "b.png", "c.png"} {
		_, err := s.Insert(ctx, Entry{
			RunID:      "run-1",
			SinkID:     "9",
			FilePath:   p,
			Parameters: "cat\nSteps: 20",
			Record:     json.RawMessage(`{"Steps":20}`),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c.png", got[0].FilePath)
	assert.Equal(t, "b.png", got[1].FilePath)
	assert.JSONEq(t, `{"Steps":20}`, string(got[0].Record))
	assert.True(t, got[0].CreatedAt.Equal(base.Add(2*time.Second)))
}

func TestByRunAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	id1, err := s.Insert(ctx, Entry{RunID: "r1", SinkID: "9", FilePath: "x.png"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Entry{RunID: "r2", SinkID: "9", FilePath: "y.png"})
	require.NoError(t, err)

	got, err := s.ByRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id1, got[0].ID)
	assert.Nil(t, got[0].Record)
	assert.False(t, got[0].CreatedAt.IsZero())

	e, err := s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "x.png", e.FilePath)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), Entry{RunID: "r", SinkID: "1", FilePath: "p"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
