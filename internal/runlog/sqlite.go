package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const tsLayout = time.RFC3339Nano

// SQLite implements Log using modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &SQLite{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id     TEXT NOT NULL,
	pipeline     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	artifacts    TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_trace_id ON runs(trace_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Migrate creates the runs table.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "runlog: migrate sqlite")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Start inserts a running entry and returns its id.
func (s *SQLite) Start(ctx context.Context, traceID, pipeline string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (trace_id, pipeline, status, started_at) VALUES (?, ?, ?, ?)`,
		traceID, pipeline, string(StatusRunning), s.now().UTC().Format(tsLayout),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", traceID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "runlog: last insert id")
	}
	return id, nil
}

// Complete finishes a run with status and the artifacts it produced.
func (s *SQLite) Complete(ctx context.Context, id int64, status Status, artifacts []string) error {
	var artifactsJSON []byte
	if len(artifacts) > 0 {
		var err error
		artifactsJSON, err = json.Marshal(artifacts)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal artifacts")
		}
	}
	return s.finish(ctx, id,
		`UPDATE runs SET status = ?, completed_at = ?, artifacts = ? WHERE id = ?`,
		string(status), s.now().UTC().Format(tsLayout), nullString(string(artifactsJSON)), id,
	)
}

// Fail marks a run as failed with message.
func (s *SQLite) Fail(ctx context.Context, id int64, message string) error {
	return s.finish(ctx, id,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(StatusFailed), s.now().UTC().Format(tsLayout), message, id,
	)
}

func (s *SQLite) finish(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "runlog: update run %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "runlog: update run %d", id)
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "id %d", id)
	}
	return nil
}

// List returns the most recent runs first.
func (s *SQLite) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, pipeline, status, started_at, completed_at, artifacts, error
		 FROM runs ORDER BY id DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                              Entry
			status, started                string
			completed, artifacts, errorMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Pipeline, &status, &started, &completed, &artifacts, &errorMsg); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		e.Status = Status(status)
		if e.StartedAt, err = time.Parse(tsLayout, started); err != nil {
			return nil, eris.Wrapf(err, "runlog: run %d started_at", e.ID)
		}
		if completed.Valid {
			t, err := time.Parse(tsLayout, completed.String)
			if err != nil {
				return nil, eris.Wrapf(err, "runlog: run %d completed_at", e.ID)
			}
			e.CompletedAt = &t
		}
		if artifacts.Valid && artifacts.String != "" {
			if err := json.Unmarshal([]byte(artifacts.String), &e.Artifacts); err != nil {
				return nil, eris.Wrapf(err, "runlog: run %d artifacts", e.ID)
			}
		}
		e.Error = errorMsg.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
