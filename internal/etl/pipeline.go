package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/cvm"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/runlog"
)

// PipelineName identifies this pipeline in the run log.
const PipelineName = "financial_statements"

// Retriever lands new CVM archives and returns the raw keys to process.
type Retriever interface {
	Retrieve(ctx context.Context, years []int, traceID string) (*cvm.Result, error)
}

// Publisher makes gold tables available to low-latency readers.
type Publisher interface {
	Publish(ctx context.Context, table catalog.GoldTable, agg catalog.AggregationType, rows any, refDate, traceID, bucketPath string) error
}

// Config holds the pipeline's tunables.
type Config struct {
	// CNPJ is the tracked company, formatted as in CNPJ_CIA.
	CNPJ string
	// YearsToFetch counts back from the current year. Default: 3.
	YearsToFetch int
	// Scale maps ESCALA_MOEDA units to multipliers.
	Scale catalog.ScaleTable
	// Concurrency bounds parallel reconciliation units. Default: 1.
	Concurrency int
}

// FinancialStatements runs retrieval, reconciliation, enrichment and
// metrics derivation for the configured company.
type FinancialStatements struct {
	gw        *objstore.Gateway
	retriever Retriever
	cache     Publisher
	runs      runlog.Log
	cfg       Config
	now       func() time.Time
	log       *zap.Logger
}

// New creates the pipeline. cache may be nil; runs defaults to a no-op log.
func New(gw *objstore.Gateway, r Retriever, cache Publisher, runs runlog.Log, cfg Config) (*FinancialStatements, error) {
	cnpj, err := cvm.FormatCNPJ(cfg.CNPJ)
	if err != nil {
		return nil, eris.Wrap(err, "etl: company cnpj")
	}
	cfg.CNPJ = cnpj
	if cfg.YearsToFetch <= 0 {
		cfg.YearsToFetch = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if len(cfg.Scale) == 0 {
		cfg.Scale = catalog.DefaultScaleTable()
	}
	if runs == nil {
		runs = runlog.Noop{}
	}
	return &FinancialStatements{
		gw:        gw,
		retriever: r,
		cache:     cache,
		runs:      runs,
		cfg:       cfg,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "etl"), zap.String("pipeline", PipelineName)),
	}, nil
}

// RunOptions selects what a run processes.
type RunOptions struct {
	// Years to process. Default: the current year and YearsToFetch-1 before it.
	Years []int
	// RawKeys skips retrieval and reconciles these bronze/raw keys instead.
	RawKeys []string
}

// RunResult summarizes a finished run.
type RunResult struct {
	TraceID string
	// Stamp is the run's start time in StampLayout followed by the first
	// eight characters of TraceID. It suffixes every silver and gold key
	// the run writes.
	Stamp        string
	Status       runlog.Status
	RawKeys      []string
	CleanedKeys  []string
	EnrichedKeys []string
	Metrics      *MetricsResult
}

// Artifacts lists every key the run produced or reused downstream of bronze.
func (r *RunResult) Artifacts() []string {
	var out []string
	out = append(out, r.CleanedKeys...)
	out = append(out, r.EnrichedKeys...)
	if r.Metrics != nil {
		out = append(out, r.Metrics.ServingKeys...)
		if r.Metrics.ExportKey != "" {
			out = append(out, r.Metrics.ExportKey)
		}
	}
	return out
}

// DefaultYears returns the current year followed by the n-1 years before it.
func DefaultYears(now time.Time, n int) []int {
	years := make([]int, 0, n)
	for i := 0; i < n; i++ {
		years = append(years, now.Year()-i)
	}
	return years
}

// Run executes the whole pipeline under a fresh trace id. When retrieval
// finds nothing new the run ends early with StatusNoNewData and no error.
func (p *FinancialStatements) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	now := p.now().In(cvm.SaoPaulo)
	traceID := uuid.NewString()
	res := &RunResult{TraceID: traceID, Stamp: now.Format(cvm.StampLayout) + "-" + traceID[:8]}
	log := p.log.With(zap.String("trace_id", res.TraceID), zap.String("stamp", res.Stamp))

	years := opts.Years
	if len(years) == 0 {
		years = DefaultYears(now, p.cfg.YearsToFetch)
	}

	runID, err := p.runs.Start(ctx, res.TraceID, PipelineName)
	if err != nil {
		return nil, eris.Wrap(err, "etl: start run")
	}
	log.Info("run started", zap.Ints("years", years), zap.String("cnpj", p.cfg.CNPJ))
	start := time.Now()

	fail := func(stage Stage, err error) (*RunResult, error) {
		stageErr := &StageError{Stage: stage, Err: err}
		res.Status = runlog.StatusFailed
		if logErr := p.runs.Fail(ctx, runID, stageErr.Error()); logErr != nil {
			log.Warn("failed to record run failure", zap.Error(logErr))
		}
		log.Error("run failed", zap.String("stage", string(stage)), zap.Error(err))
		return nil, stageErr
	}

	var lastUpdate string
	res.RawKeys = opts.RawKeys
	if len(res.RawKeys) == 0 {
		if p.retriever == nil {
			return fail(StageRetrieve, eris.New("etl: no retriever and no raw keys"))
		}
		retrieved, err := p.retriever.Retrieve(ctx, years, res.TraceID)
		if eris.Is(err, cvm.ErrNoNewData) {
			res.Status = runlog.StatusNoNewData
			if logErr := p.runs.Complete(ctx, runID, res.Status, nil); logErr != nil {
				log.Warn("failed to record run completion", zap.Error(logErr))
			}
			log.Info("no new data, nothing to do")
			return res, nil
		}
		if err != nil {
			return fail(StageRetrieve, err)
		}
		res.RawKeys = retrieved.RawKeys
		if !retrieved.LastUpdate.IsZero() {
			lastUpdate = retrieved.LastUpdate.Format(cvm.StampLayout)
		}
	}

	res.CleanedKeys, err = p.Reconcile(ctx, res.RawKeys, years, res.TraceID, res.Stamp)
	if err != nil {
		return fail(StageReconcile, err)
	}

	res.EnrichedKeys, err = p.Enrich(ctx, res.CleanedKeys, res.TraceID, lastUpdate, res.Stamp)
	if err != nil {
		return fail(StageEnrich, err)
	}

	res.Metrics, err = p.Metrics(ctx, res.EnrichedKeys, res.TraceID, res.Stamp)
	if err != nil {
		return fail(StageMetrics, err)
	}

	res.Status = runlog.StatusComplete
	if err := p.runs.Complete(ctx, runID, res.Status, res.Artifacts()); err != nil {
		log.Warn("failed to record run completion", zap.Error(err))
	}
	log.Info("run complete",
		zap.Int("raw_files", len(res.RawKeys)),
		zap.Int("cleaned_tables", len(res.CleanedKeys)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
