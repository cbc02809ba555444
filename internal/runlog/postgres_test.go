package runlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgres_Migrate(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS finlake").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	p := NewPostgres(mock, nil)
	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Start(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("INSERT INTO finlake.runs").
		WithArgs("trace-1", "financial_statements").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	p := NewPostgres(mock, nil)
	id, err := p.Start(context.Background(), "trace-1", "financial_statements")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteCopiesArtifacts(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("UPDATE finlake.runs SET status").
		WithArgs("complete", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"finlake", "run_artifacts"}, []string{"run_id", "key"}).WillReturnResult(2)

	p := NewPostgres(mock, nil)
	err := p.Complete(context.Background(), 7, StatusComplete, []string{"a", "b"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteWithoutArtifacts(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("UPDATE finlake.runs SET status").
		WithArgs("no_new_data", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	p := NewPostgres(mock, nil)
	require.NoError(t, p.Complete(context.Background(), 3, StatusNoNewData, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteUnknownRun(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("UPDATE finlake.runs SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	p := NewPostgres(mock, nil)
	err := p.Complete(context.Background(), 99, StatusComplete, []string{"a"})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPostgres_Fail(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("UPDATE finlake.runs SET status = 'failed'").
		WithArgs("boom", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	p := NewPostgres(mock, nil)
	require.NoError(t, p.Fail(context.Background(), 7, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailDBError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("UPDATE finlake.runs").WillReturnError(fmt.Errorf("connection reset"))

	p := NewPostgres(mock, nil)
	err := p.Fail(context.Background(), 7, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runlog: fail run 7")
}

func TestPostgres_List(t *testing.T) {
	mock := newMockPool(t)
	started := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)

	cols := []string{"id", "trace_id", "pipeline", "status", "started_at", "completed_at", "error", "artifacts"}
	mock.ExpectQuery("SELECT r.id, r.trace_id").
		WithArgs(DefaultListLimit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "trace-2", "financial_statements", "running", started.Add(time.Hour), nil, "", []string{}).
			AddRow(int64(1), "trace-1", "financial_statements", "complete", started, &completed, "", []string{"gold/a.parquet"}))

	p := NewPostgres(mock, nil)
	entries, err := p.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Nil(t, entries[0].CompletedAt)
	assert.Nil(t, entries[0].Artifacts)

	assert.Equal(t, StatusComplete, entries[1].Status)
	require.NotNil(t, entries[1].CompletedAt)
	assert.True(t, entries[1].CompletedAt.Equal(completed))
	assert.Equal(t, []string{"gold/a.parquet"}, entries[1].Artifacts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Close(t *testing.T) {
	closed := false
	p := NewPostgres(nil, func() { closed = true })
	require.NoError(t, p.Close())
	assert.True(t, closed)
}
