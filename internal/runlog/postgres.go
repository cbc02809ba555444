package runlog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finlake/internal/db"
)

// ArtifactsTable holds one row per artifact key a run produced.
const ArtifactsTable = "finlake.run_artifacts"

// Postgres implements Log over a pgx pool.
type Postgres struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres wraps a pool. closeFn, when non-nil, is called by Close.
func NewPostgres(pool db.Pool, closeFn func()) *Postgres {
	return &Postgres{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS finlake;

CREATE TABLE IF NOT EXISTS finlake.runs (
	id           BIGSERIAL PRIMARY KEY,
	trace_id     TEXT NOT NULL,
	pipeline     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS finlake.run_artifacts (
	run_id BIGINT NOT NULL REFERENCES finlake.runs(id) ON DELETE CASCADE,
	key    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_trace_id ON finlake.runs(trace_id);
CREATE INDEX IF NOT EXISTS idx_run_artifacts_run_id ON finlake.run_artifacts(run_id);
`

// Migrate creates the finlake schema and its tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "runlog: migrate postgres")
}

// Close releases the pool.
func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

// Start records the beginning of a run and returns its id.
func (p *Postgres) Start(ctx context.Context, traceID, pipeline string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO finlake.runs (trace_id, pipeline, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		traceID, pipeline,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", traceID)
	}
	return id, nil
}

// Complete finishes a run and bulk-loads its artifact keys.
func (p *Postgres) Complete(ctx context.Context, id int64, status Status, artifacts []string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE finlake.runs SET status = $1, completed_at = now() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "id %d", id)
	}

	rows := make([][]any, len(artifacts))
	for i, key := range artifacts {
		rows[i] = []any{id, key}
	}
	if _, err := db.CopyFrom(ctx, p.pool, ArtifactsTable, []string{"run_id", "key"}, rows); err != nil {
		return eris.Wrapf(err, "runlog: artifacts of run %d", id)
	}
	return nil
}

// Fail marks a run as failed with message.
func (p *Postgres) Fail(ctx context.Context, id int64, message string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE finlake.runs SET status = 'failed', completed_at = now(), error = $1 WHERE id = $2`,
		message, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "id %d", id)
	}
	return nil
}

// List returns the most recent runs first, with their artifacts.
func (p *Postgres) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.trace_id, r.pipeline, r.status, r.started_at, r.completed_at,
		        COALESCE(r.error, ''),
		        COALESCE((SELECT array_agg(a.key ORDER BY a.key) FROM finlake.run_artifacts a WHERE a.run_id = r.id), '{}')
		 FROM finlake.runs r ORDER BY r.id DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			status    string
			completed *time.Time
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Pipeline, &status, &e.StartedAt, &completed, &e.Error, &e.Artifacts); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		e.Status = Status(status)
		e.CompletedAt = completed
		if len(e.Artifacts) == 0 {
			e.Artifacts = nil
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}
