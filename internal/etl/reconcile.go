package etl

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/cvm"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/table"
)

// Task is one reconciliation unit.
type Task struct {
	Year        int
	Aggregation catalog.AggregationType
	Doc         catalog.DocumentType
}

func (t Task) String() string {
	return strings.ToLower(string(t.Doc)) + "/" + strings.ToLower(string(t.Aggregation)) + "/" + strconv.Itoa(t.Year)
}

// BuildTasks expands years into the year × aggregation × statement units,
// in that nesting order.
func BuildTasks(years []int) []Task {
	tasks := make([]Task, 0, len(years)*len(catalog.AggregationTypes())*len(catalog.StatementTypes()))
	for _, y := range years {
		for _, agg := range catalog.AggregationTypes() {
			for _, doc := range catalog.StatementTypes() {
				tasks = append(tasks, Task{Year: y, Aggregation: agg, Doc: doc})
			}
		}
	}
	return tasks
}

// CleanedKey is the silver/cleaned key of a reconciled unit written by the
// run stamped stamp.
func CleanedKey(t Task, stamp string) string {
	doc := strings.ToLower(string(t.Doc))
	agg := strings.ToLower(string(t.Aggregation))
	return catalog.Key(catalog.SilverCleaned, catalog.SourceCVM, t.Doc, agg,
		doc+"_"+agg+"_"+strconv.Itoa(t.Year)+"_"+stamp+".parquet")
}

// Reconcile filters the raw extracts in rawKeys down to the configured
// company's final-exercise rows and writes one table per unit. The returned
// keys follow task order; units without raw files are skipped.
func (p *FinancialStatements) Reconcile(ctx context.Context, rawKeys []string, years []int, traceID, stamp string) ([]string, error) {
	tasks := BuildTasks(years)
	results := make([]string, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Concurrency))
	for i, task := range tasks {
		g.Go(func() error {
			key, err := p.reconcileUnit(gctx, task, rawKeys, traceID, stamp)
			if err != nil {
				return eris.Wrapf(err, "etl: reconcile %s", task)
			}
			results[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(results))
	for _, k := range results {
		if k != "" {
			keys = append(keys, k)
		}
	}
	p.log.Info("reconciliation complete", zap.Int("tables", len(keys)), zap.Int("units", len(tasks)))
	return keys, nil
}

func (p *FinancialStatements) reconcileUnit(ctx context.Context, task Task, rawKeys []string, traceID, stamp string) (string, error) {
	log := p.log.With(zap.String("unit", task.String()))

	var selected []string
	for _, k := range rawKeys {
		if cvm.MatchesUnit(k, task.Doc, task.Aggregation, task.Year) {
			selected = append(selected, k)
		}
	}
	if len(selected) == 0 {
		log.Warn("no raw files for unit, skipping")
		return "", nil
	}

	var rows []StatementRow
	for _, key := range selected {
		fileRows, err := p.reconcileFile(ctx, key, task.Doc)
		if err != nil {
			return "", err
		}
		rows = append(rows, fileRows...)
	}

	data, err := table.Encode(rows)
	if err != nil {
		return "", err
	}
	res, err := p.gw.Put(ctx, CleanedKey(task, stamp), data, objstore.Provenance{
		TraceID:      traceID,
		Source:       catalog.SourceCVM,
		DocumentType: task.Doc,
		ContentType:  catalog.ContentParquet,
		RefDate:      strconv.Itoa(task.Year),
		Aggregation:  task.Aggregation,
	})
	if err != nil {
		return "", err
	}
	log.Info("unit reconciled",
		zap.Int("files", len(selected)),
		zap.Int("rows", len(rows)),
		zap.String("key", res.Key),
		zap.Bool("written", res.Written),
	)
	return res.Key, nil
}

func (p *FinancialStatements) reconcileFile(ctx context.Context, key string, doc catalog.DocumentType) ([]StatementRow, error) {
	data, _, err := p.gw.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	st, err := cvm.ParseStatement(ctx, data, doc)
	if err != nil {
		return nil, eris.Wrapf(err, "etl: %s", key)
	}

	origin := string(cvm.OriginFile(key))
	matched := 0
	var rows []StatementRow
	for i := range st.Rows {
		if st.Value(i, "CNPJ_CIA") != p.cfg.CNPJ {
			continue
		}
		matched++
		if st.Value(i, "ORDEM_EXERC") != cvm.FinalExercise {
			continue
		}
		row, err := statementRow(st, i, origin)
		if err != nil {
			return nil, eris.Wrapf(err, "%s row %d", key, i+1)
		}
		rows = append(rows, row)
	}
	if matched == 0 {
		return nil, eris.Wrapf(ErrEmptyAfterFilter, "%s has no rows for cnpj %s", key, p.cfg.CNPJ)
	}
	return rows, nil
}
