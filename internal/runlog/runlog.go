// Package runlog records each ETL invocation: trace id, status, the
// artifacts it produced and the error that stopped it.
package runlog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusNoNewData Status = "no_new_data"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned when updating an unknown run id.
var ErrRunNotFound = eris.New("runlog: run not found")

// Entry is one recorded run.
type Entry struct {
	ID          int64      `json:"id"`
	TraceID     string     `json:"trace_id"`
	Pipeline    string     `json:"pipeline"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Log persists run entries.
type Log interface {
	Start(ctx context.Context, traceID, pipeline string) (int64, error)
	Complete(ctx context.Context, id int64, status Status, artifacts []string) error
	Fail(ctx context.Context, id int64, message string) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Migrate(ctx context.Context) error
	Close() error
}

// DefaultListLimit caps List when limit <= 0.
const DefaultListLimit = 20

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Noop discards everything. Used when the run log is disabled.
type Noop struct{}

func (Noop) Start(context.Context, string, string) (int64, error)    { return 0, nil }
func (Noop) Complete(context.Context, int64, Status, []string) error { return nil }
func (Noop) Fail(context.Context, int64, string) error               { return nil }
func (Noop) List(context.Context, int) ([]Entry, error)              { return nil, nil }
func (Noop) Migrate(context.Context) error                           { return nil }
func (Noop) Close() error                                            { return nil }
