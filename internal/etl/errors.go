package etl

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/finlake/internal/cvm"
)

// Sentinel errors. All of them abort the run.
var (
	// ErrSchemaMismatch reports a raw file whose header or cells drift from
	// the declared schema.
	ErrSchemaMismatch = cvm.ErrSchemaMismatch

	// ErrEmptyAfterFilter reports a file or aggregation with no rows for the
	// configured company.
	ErrEmptyAfterFilter = eris.New("etl: no rows left after filter")
)

// Stage names a pipeline stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageRetrieve  Stage = "retrieve"
	StageReconcile Stage = "reconcile"
	StageEnrich    Stage = "enrich"
	StageMetrics   Stage = "metrics"
)

// StageError wraps the error that aborted a run with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return "etl: " + string(e.Stage) + " stage: " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
