package etl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/cvm"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/resilience"
	"github.com/sells-group/finlake/internal/runlog"
)

const (
	testCNPJ  = "12.345.678/0001-90"
	otherCNPJ = "98.765.432/0001-10"
	testStamp = "2025-06-01T09-00-00"
)

type acct struct {
	code  string
	value string
}

// fixtureAccounts are the lines every seeded statement carries, in MIL.
var fixtureAccounts = map[catalog.DocumentType][]acct{
	catalog.DocBalanceSheetAssets:      {{"1.01.01", "15"}},
	catalog.DocBalanceSheetLiabilities: {{"2.01.04", "20"}, {"2.01.04.01", "5"}, {"2.02.01", "30"}},
	catalog.DocCashFlowIndirect:        {{"6.01.02", "7"}, {"6.02.01", "-12"}},
	catalog.DocIncomeStatement:         {{"3.01", "100"}, {"3.010", "999"}, {"3.05", "40"}, {"3.04.04", "-10"}, {"3.06.02", "-50"}},
}

type csvLine struct {
	cnpj   string
	ordem  string
	code   string
	value  string
	escala string
}

// rawCSV renders a CVM extract for doc in the portal's dialect.
func rawCSV(t *testing.T, doc catalog.DocumentType, agg catalog.AggregationType, year int, lines []csvLine) []byte {
	t.Helper()
	schema, err := catalog.SchemaFor(doc)
	require.NoError(t, err)

	var b strings.Builder
	b.WriteString(strings.Join(schema.Names(), ";") + "\n")
	for _, l := range lines {
		vals := map[string]string{
			"CNPJ_CIA":      l.cnpj,
			"DT_REFER":      fmt.Sprintf("%d-03-31", year),
			"VERSAO":        "1",
			"DENOM_CIA":     "ACME PARTICIPAÇÕES S.A.",
			"CD_CVM":        "1234",
			"GRUPO_DFP":     agg.SheetName() + " - " + string(doc),
			"MOEDA":         "REAL",
			"ESCALA_MOEDA":  l.escala,
			"ORDEM_EXERC":   l.ordem,
			"DT_INI_EXERC":  fmt.Sprintf("%d-01-01", year),
			"DT_FIM_EXERC":  fmt.Sprintf("%d-03-31", year),
			"CD_CONTA":      l.code,
			"DS_CONTA":      "Conta " + l.code,
			"VL_CONTA":      l.value,
			"ST_CONTA_FIXA": "S",
		}
		cells := make([]string, 0, len(schema))
		for _, name := range schema.Names() {
			cells = append(cells, vals[name])
		}
		b.WriteString(strings.Join(cells, ";") + "\n")
	}
	out, err := charmap.ISO8859_1.NewEncoder().String(b.String())
	require.NoError(t, err)
	return []byte(out)
}

// fixtureLines adds a prior-exercise row and another company's row to accts.
func fixtureLines(accts []acct) []csvLine {
	lines := make([]csvLine, 0, len(accts)+2)
	for _, a := range accts {
		lines = append(lines, csvLine{cnpj: testCNPJ, ordem: cvm.FinalExercise, code: a.code, value: a.value, escala: "MIL"})
	}
	lines = append(lines,
		csvLine{cnpj: testCNPJ, ordem: "PENÚLTIMO", code: accts[0].code, value: "77777", escala: "MIL"},
		csvLine{cnpj: otherCNPJ, ordem: cvm.FinalExercise, code: accts[0].code, value: "1", escala: "MIL"},
	)
	return lines
}

func rawKey(doc catalog.DocumentType, agg catalog.AggregationType, year int) string {
	return fmt.Sprintf("bronze/raw/cvm/itr/itr_cia_aberta_%s%s%d.csv", doc.FileFragment(), agg.FileFragment(), year)
}

func putRaw(t *testing.T, gw *objstore.Gateway, key string, data []byte) string {
	t.Helper()
	res, err := gw.Put(context.Background(), key, data, objstore.Provenance{
		TraceID:      "seed",
		Source:       catalog.SourceCVM,
		DocumentType: cvm.OriginFile(key),
		ContentType:  catalog.ContentCSV,
	})
	require.NoError(t, err)
	require.True(t, res.Written, key)
	return res.Key
}

// seedYear writes the eight ITR extracts of one year and returns their keys.
func seedYear(t *testing.T, gw *objstore.Gateway, year int) []string {
	t.Helper()
	var keys []string
	for _, agg := range catalog.AggregationTypes() {
		for _, doc := range catalog.StatementTypes() {
			data := rawCSV(t, doc, agg, year, fixtureLines(fixtureAccounts[doc]))
			keys = append(keys, putRaw(t, gw, rawKey(doc, agg, year), data))
		}
	}
	return keys
}

func newTestGateway(t *testing.T) (*objstore.Gateway, *objstore.MemoryBackend) {
	t.Helper()
	mem := objstore.NewMemoryBackend()
	gw := objstore.NewGateway(mem, objstore.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, gw.Init(context.Background()))
	return gw, mem
}

func newTestPipeline(t *testing.T, gw *objstore.Gateway, r Retriever, pub Publisher, runs runlog.Log, cfg Config) *FinancialStatements {
	t.Helper()
	if cfg.CNPJ == "" {
		cfg.CNPJ = "12345678000190"
	}
	p, err := New(gw, r, pub, runs, cfg)
	require.NoError(t, err)
	return p
}

type fakeRetriever struct {
	result *cvm.Result
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(context.Context, []int, string) (*cvm.Result, error) {
	f.calls++
	return f.result, f.err
}

type published struct {
	agg        catalog.AggregationType
	records    []MetricRecord
	refDate    string
	bucketPath string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, _ catalog.GoldTable, agg catalog.AggregationType, rows any, refDate, _, bucketPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, published{agg: agg, records: rows.([]MetricRecord), refDate: refDate, bucketPath: bucketPath})
	return nil
}

type recordingRuns struct {
	runlog.Noop
	started   int
	status    runlog.Status
	artifacts []string
	failure   string
	startErr  error
}

func (r *recordingRuns) Start(context.Context, string, string) (int64, error) {
	if r.startErr != nil {
		return 0, r.startErr
	}
	r.started++
	return int64(r.started), nil
}

func (r *recordingRuns) Complete(_ context.Context, _ int64, status runlog.Status, artifacts []string) error {
	r.status = status
	r.artifacts = artifacts
	return nil
}

func (r *recordingRuns) Fail(_ context.Context, _ int64, message string) error {
	r.status = runlog.StatusFailed
	r.failure = message
	return nil
}
