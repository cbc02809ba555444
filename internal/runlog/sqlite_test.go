package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	first, err := s.Start(ctx, "trace-1", "financial_statements")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, first, StatusComplete, []string{"gold/serving/a.parquet", "gold/export/b.xlsx"}))

	s.now = func() time.Time { return base.Add(time.Hour) }
	second, err := s.Start(ctx, "trace-2", "financial_statements")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, second, "etl: reconcile stage: schema mismatch"))

	third, err := s.Start(ctx, "trace-3", "financial_statements")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, third, StatusNoNewData, nil))

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "trace-3", entries[0].TraceID)
	assert.Equal(t, StatusNoNewData, entries[0].Status)
	assert.Nil(t, entries[0].Artifacts)

	assert.Equal(t, StatusFailed, entries[1].Status)
	assert.Equal(t, "etl: reconcile stage: schema mismatch", entries[1].Error)
	require.NotNil(t, entries[1].CompletedAt)
	assert.True(t, entries[1].CompletedAt.Equal(base.Add(time.Hour)))

	assert.Equal(t, StatusComplete, entries[2].Status)
	assert.Equal(t, []string{"gold/serving/a.parquet", "gold/export/b.xlsx"}, entries[2].Artifacts)
	assert.True(t, entries[2].StartedAt.Equal(base))
}

func TestSQLite_ListLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	for i := 0; i < 5; i++ {
		_, err := s.Start(ctx, "trace", "financial_statements")
		require.NoError(t, err)
	}
	entries, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Nil(t, entries[0].CompletedAt)
}

func TestSQLite_UnknownRun(t *testing.T) {
	s := newTestSQLite(t)
	err := s.Complete(context.Background(), 42, StatusComplete, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
	err = s.Fail(context.Background(), 42, "boom")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	l, err := Open(ctx, DriverNone, "")
	require.NoError(t, err)
	assert.IsType(t, Noop{}, l)

	l, err = Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer l.Close()
	id, err := l.Start(ctx, "trace", "p")
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = Open(ctx, "mongo", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestNoop(t *testing.T) {
	var l Log = Noop{}
	ctx := context.Background()
	id, err := l.Start(ctx, "t", "p")
	assert.NoError(t, err)
	assert.Zero(t, id)
	assert.NoError(t, l.Complete(ctx, id, StatusComplete, nil))
	entries, err := l.List(ctx, 5)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
