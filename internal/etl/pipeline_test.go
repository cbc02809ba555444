package etl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/cvm"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/runlog"
	"github.com/sells-group/finlake/internal/table"
)

func TestNew_Defaults(t *testing.T) {
	gw, _ := newTestGateway(t)
	p, err := New(gw, nil, nil, nil, Config{CNPJ: "12345678000190"})
	require.NoError(t, err)
	assert.Equal(t, testCNPJ, p.cfg.CNPJ)
	assert.Equal(t, 3, p.cfg.YearsToFetch)
	assert.Equal(t, 1, p.cfg.Concurrency)
	assert.Equal(t, catalog.DefaultScaleTable(), p.cfg.Scale)
	assert.IsType(t, runlog.Noop{}, p.runs)
}

func TestNew_InvalidCNPJ(t *testing.T) {
	gw, _ := newTestGateway(t)
	_, err := New(gw, nil, nil, nil, Config{CNPJ: "123"})
	assert.Error(t, err)
}

func TestDefaultYears(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []int{2025, 2024, 2023}, DefaultYears(now, 3))
	assert.Empty(t, DefaultYears(now, 0))
}

func TestRun_TwoYearsEndToEnd(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)
	raw := append(seedYear(t, gw, 2024), seedYear(t, gw, 2023)...)
	r := &fakeRetriever{result: &cvm.Result{RawKeys: raw, LastUpdate: time.Date(2025, 5, 20, 7, 0, 0, 0, cvm.SaoPaulo)}}
	pub := &fakePublisher{}
	runs := &recordingRuns{}
	p := newTestPipeline(t, gw, r, pub, runs, Config{})

	res, err := p.Run(ctx, RunOptions{Years: []int{2024, 2023}})
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusComplete, res.Status)
	assert.NotEmpty(t, res.TraceID)
	assert.Len(t, res.CleanedKeys, 16)
	assert.Len(t, res.EnrichedKeys, 2)
	require.NotNil(t, res.Metrics)

	for _, agg := range catalog.AggregationTypes() {
		recs := res.Metrics.Records[agg]
		require.Len(t, recs, 2, string(agg))
		assert.Equal(t, "2023-03-31", recs[0].Date)
		assert.Equal(t, "2024-03-31", recs[1].Date)

		got := recs[1]
		assert.Equal(t, testCNPJ, got.IssuerCNPJ)
		assert.Equal(t, int32(1), got.Quarter)
		assert.Equal(t, int32(2024), got.Year)
		assert.InDelta(t, 100_000, got.Revenue, 1e-6)
		assert.InDelta(t, 40_000, got.EBIT, 1e-6)
		assert.InDelta(t, 30_000, got.EBITDA, 1e-6)
		assert.InDelta(t, 55_000, got.TotalDebt, 1e-6)
		assert.InDelta(t, 40_000, got.NetDebt, 1e-6)
		assert.InDelta(t, 50_000, got.InterestPaid, 1e-6)
		assert.InDelta(t, 12_000, got.Capex, 1e-6)
		assert.InDelta(t, 7_000, got.WCChange, 1e-6)
	}

	assert.Equal(t, 1, r.calls)
	assert.Len(t, pub.calls, 2)
	assert.Equal(t, runlog.StatusComplete, runs.status)
	assert.Equal(t, res.Artifacts(), runs.artifacts)
	assert.Contains(t, runs.artifacts, res.Metrics.ExportKey)

	data, _, err := gw.Get(ctx, res.EnrichedKeys[0])
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRun_IdempotentRerun(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)
	raw := append(seedYear(t, gw, 2024), seedYear(t, gw, 2023)...)
	p := newTestPipeline(t, gw, nil, nil, nil, Config{})
	opts := RunOptions{Years: []int{2024, 2023}, RawKeys: raw}

	first, err := p.Run(ctx, opts)
	require.NoError(t, err)
	second, err := p.Run(ctx, opts)
	require.NoError(t, err)

	assert.NotEqual(t, first.TraceID, second.TraceID)
	assert.Equal(t, first.CleanedKeys, second.CleanedKeys)
	assert.Equal(t, first.Metrics.ServingKeys, second.Metrics.ServingKeys)

	cleaned, err := gw.List(ctx, catalog.SilverCleaned.Prefix())
	require.NoError(t, err)
	assert.Len(t, cleaned, 16)
	serving, err := gw.List(ctx, catalog.GoldServing.Prefix())
	require.NoError(t, err)
	assert.Len(t, serving, 2)
}

func TestRun_ChangedContentKeepsEarlierArtifacts(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)
	raw := seedYear(t, gw, 2024)
	p := newTestPipeline(t, gw, nil, nil, nil, Config{})
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	first, err := p.Run(ctx, RunOptions{Years: []int{2024}, RawKeys: raw})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.Stamp, "2025-06-01T09-00-00-"), first.Stamp)

	// A restated income statement lands under the same raw key.
	restated := append([]acct(nil), fixtureAccounts[catalog.DocIncomeStatement]...)
	restated[0].value = "250000"
	dreKey := rawKey(catalog.DocIncomeStatement, catalog.AggConsolidated, 2024)
	putRaw(t, gw, dreKey, rawCSV(t, catalog.DocIncomeStatement, catalog.AggConsolidated, 2024, fixtureLines(restated)))

	p.now = func() time.Time { return time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC) }
	second, err := p.Run(ctx, RunOptions{Years: []int{2024}, RawKeys: raw})
	require.NoError(t, err)
	assert.NotEqual(t, first.Stamp, second.Stamp)

	consolidated := strings.ToLower(string(catalog.AggConsolidated))
	dre := catalog.Key(catalog.SilverCleaned, catalog.SourceCVM, catalog.DocIncomeStatement, consolidated) + "/"
	cleaned, err := gw.List(ctx, dre)
	require.NoError(t, err)
	require.Len(t, cleaned, 2)
	assert.Contains(t, cleaned, CleanedKey(Task{Year: 2024, Aggregation: catalog.AggConsolidated, Doc: catalog.DocIncomeStatement}, first.Stamp))
	assert.Contains(t, cleaned, CleanedKey(Task{Year: 2024, Aggregation: catalog.AggConsolidated, Doc: catalog.DocIncomeStatement}, second.Stamp))

	firstRows, err := decodeAt[StatementRow](ctx, gw, cleaned, first.Stamp)
	require.NoError(t, err)
	secondRows, err := decodeAt[StatementRow](ctx, gw, cleaned, second.Stamp)
	require.NoError(t, err)
	assert.NotEqual(t, firstRows[0].VlConta, secondRows[0].VlConta)

	// Unchanged units collapse onto the first run's artifact.
	bpa := catalog.Key(catalog.SilverCleaned, catalog.SourceCVM, catalog.DocBalanceSheetAssets, consolidated) + "/"
	assets, err := gw.List(ctx, bpa)
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	for _, agg := range catalog.AggregationTypes() {
		serving, err := gw.List(ctx, catalog.Key(catalog.GoldServing, catalog.SourceCVM, catalog.DocFinancialsQuarterly, strings.ToLower(string(agg)))+"/")
		require.NoError(t, err)
		if agg == catalog.AggConsolidated {
			assert.Len(t, serving, 2, "restated metrics are written beside the earlier table")
		} else {
			assert.Len(t, serving, 1)
		}
	}
	exports, err := gw.List(ctx, catalog.Key(catalog.GoldExport, catalog.SourceCVM, catalog.DocFinancialsQuarterly)+"/")
	require.NoError(t, err)
	assert.Len(t, exports, 2)
}

// decodeAt decodes the table among keys whose name carries stamp.
func decodeAt[T any](ctx context.Context, gw *objstore.Gateway, keys []string, stamp string) ([]T, error) {
	for _, k := range keys {
		if strings.Contains(k, stamp) {
			data, _, err := gw.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			return table.Decode[T](data)
		}
	}
	return nil, eris.Errorf("no key with stamp %s", stamp)
}

func TestRun_NoNewData(t *testing.T) {
	gw, mem := newTestGateway(t)
	r := &fakeRetriever{result: &cvm.Result{}, err: eris.Wrap(cvm.ErrNoNewData, "retrieve")}
	runs := &recordingRuns{}
	p := newTestPipeline(t, gw, r, nil, runs, Config{})
	puts := mem.Puts()

	res, err := p.Run(context.Background(), RunOptions{Years: []int{2024}})
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusNoNewData, res.Status)
	assert.Nil(t, res.Metrics)
	assert.Equal(t, runlog.StatusNoNewData, runs.status)
	assert.Equal(t, puts, mem.Puts())
}

func TestRun_RetrieveFailure(t *testing.T) {
	gw, _ := newTestGateway(t)
	r := &fakeRetriever{err: errors.New("landing page: 503")}
	runs := &recordingRuns{}
	p := newTestPipeline(t, gw, r, nil, runs, Config{})

	res, err := p.Run(context.Background(), RunOptions{Years: []int{2024}})
	require.Error(t, err)
	assert.Nil(t, res)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageRetrieve, stageErr.Stage)
	assert.Equal(t, runlog.StatusFailed, runs.status)
	assert.Contains(t, runs.failure, "retrieve stage")
}

func TestRun_SchemaMismatchFailsReconcile(t *testing.T) {
	gw, _ := newTestGateway(t)
	key := putRaw(t, gw, rawKey(catalog.DocIncomeStatement, catalog.AggConsolidated, 2024), []byte("A;B\n1;2\n"))
	runs := &recordingRuns{}
	p := newTestPipeline(t, gw, nil, nil, runs, Config{})

	_, err := p.Run(context.Background(), RunOptions{Years: []int{2024}, RawKeys: []string{key}})
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageReconcile, stageErr.Stage)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, runlog.StatusFailed, runs.status)
}

func TestRun_MissingAggregationFailsEnrich(t *testing.T) {
	gw, _ := newTestGateway(t)
	key := putRaw(t, gw, rawKey(catalog.DocIncomeStatement, catalog.AggConsolidated, 2024),
		rawCSV(t, catalog.DocIncomeStatement, catalog.AggConsolidated, 2024, fixtureLines(fixtureAccounts[catalog.DocIncomeStatement])))
	p := newTestPipeline(t, gw, nil, nil, nil, Config{})

	_, err := p.Run(context.Background(), RunOptions{Years: []int{2024}, RawKeys: []string{key}})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageEnrich, stageErr.Stage)
	assert.ErrorIs(t, err, ErrEmptyAfterFilter)
}

func TestRun_PublishFailureFailsMetrics(t *testing.T) {
	gw, _ := newTestGateway(t)
	raw := seedYear(t, gw, 2024)
	pub := &fakePublisher{err: errors.New("redis: connection refused")}
	p := newTestPipeline(t, gw, nil, pub, nil, Config{})

	_, err := p.Run(context.Background(), RunOptions{Years: []int{2024}, RawKeys: raw})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageMetrics, stageErr.Stage)
}

func TestRun_RunLogStartFailure(t *testing.T) {
	gw, _ := newTestGateway(t)
	runs := &recordingRuns{startErr: errors.New("database is locked")}
	p := newTestPipeline(t, gw, &fakeRetriever{}, nil, runs, Config{})

	_, err := p.Run(context.Background(), RunOptions{Years: []int{2024}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start run")
}

func TestRun_NoRetrieverNoKeys(t *testing.T) {
	gw, _ := newTestGateway(t)
	p := newTestPipeline(t, gw, nil, nil, nil, Config{})

	_, err := p.Run(context.Background(), RunOptions{Years: []int{2024}})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageRetrieve, stageErr.Stage)
}
