package etl

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/table"
)

// Chart-of-accounts codes read by the metrics stage.
const (
	CodeRevenue          = "3.01"
	CodeEBIT             = "3.05"
	CodeDepreciation     = "3.04.04"
	CodeDebtShortTerm    = "2.01.04"
	CodeDebtLongTerm     = "2.02.01"
	CodeCash             = "1.01.01"
	CodeInterestPaid     = "6.01.02.02"
	CodeInterestFallback = "3.06.02"
	CodeCapex            = "6.02.01"
	CodeWorkingCapital   = "6.01.02"
)

// MetricsResult holds the gold outputs of one run.
type MetricsResult struct {
	ServingKeys []string
	ExportKey   string
	Records     map[catalog.AggregationType][]MetricRecord
}

// SumExact sums the adjusted values of rows whose account code equals code.
func SumExact(rows []EnrichedRow, code string) float64 {
	var total float64
	for _, r := range rows {
		if r.CdConta == code {
			total += r.AdjustedAccountValue
		}
	}
	return total
}

// SumPrefix sums the adjusted values of rows whose account code starts with prefix.
func SumPrefix(rows []EnrichedRow, prefix string) float64 {
	var total float64
	for _, r := range rows {
		if strings.HasPrefix(r.CdConta, prefix) {
			total += r.AdjustedAccountValue
		}
	}
	return total
}

type groupKey struct {
	cnpj string
	date string
}

// ComputeMetrics groups rows by (CNPJ_CIA, DT_REFER) and derives one record
// per group, ordered by date then company.
func ComputeMetrics(rows []EnrichedRow, agg catalog.AggregationType) ([]MetricRecord, error) {
	groups := make(map[groupKey][]EnrichedRow)
	for _, r := range rows {
		k := groupKey{cnpj: r.CNPJCia, date: r.DtRefer}
		groups[k] = append(groups[k], r)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].cnpj < keys[j].cnpj
	})

	records := make([]MetricRecord, 0, len(keys))
	for _, k := range keys {
		ref, err := time.Parse(catalog.DateLayout, k.date)
		if err != nil {
			return nil, eris.Wrapf(err, "etl: DT_REFER %q", k.date)
		}
		records = append(records, metricRecord(groups[k], k, ref, agg))
	}
	return records, nil
}

func metricRecord(g []EnrichedRow, k groupKey, ref time.Time, agg catalog.AggregationType) MetricRecord {
	ebit := SumExact(g, CodeEBIT)
	depreciation := SumExact(g, CodeDepreciation)
	debtST := SumPrefix(g, CodeDebtShortTerm)
	debtLT := SumPrefix(g, CodeDebtLongTerm)
	cash := SumExact(g, CodeCash)

	interest := SumPrefix(g, CodeInterestPaid)
	if interest == 0 {
		interest = SumExact(g, CodeInterestFallback)
	}

	totalDebt := debtST + debtLT
	return MetricRecord{
		IssuerCNPJ:      k.cnpj,
		Date:            k.date,
		AggregationType: string(agg),
		Quarter:         QuarterOf(ref.Month()),
		Year:            int32(ref.Year()),
		Revenue:         SumExact(g, CodeRevenue),
		EBITDA:          ebit + depreciation,
		EBIT:            ebit,
		Depreciation:    depreciation,
		NetDebt:         totalDebt - cash,
		TotalDebt:       totalDebt,
		DebtShortTerm:   debtST,
		DebtLongTerm:    debtLT,
		Cash:            cash,
		InterestPaid:    math.Abs(interest),
		Capex:           math.Abs(SumPrefix(g, CodeCapex)),
		WCChange:        SumPrefix(g, CodeWorkingCapital),
	}
}

// ServingKey is the gold/serving key of an aggregation's metrics table.
func ServingKey(agg catalog.AggregationType, ref, stamp string) string {
	t := strings.ToLower(string(catalog.TableFinancialsQuarterly))
	a := strings.ToLower(string(agg))
	return catalog.Key(catalog.GoldServing, catalog.SourceCVM, catalog.DocFinancialsQuarterly, a,
		t+"_"+a+"_"+ref+"_"+stamp+".parquet")
}

// ExportKey is the gold/export key of the run's workbook.
func ExportKey(ref, stamp string) string {
	t := strings.ToLower(string(catalog.TableFinancialsQuarterly))
	return catalog.Key(catalog.GoldExport, catalog.SourceCVM, catalog.DocFinancialsQuarterly,
		t+"_"+ref+"_"+stamp+".xlsx")
}

// Metrics derives the quarterly records from the enriched tables, writes a
// serving table per aggregation, publishes each to the cache and writes one
// workbook built from the same records.
func (p *FinancialStatements) Metrics(ctx context.Context, enrichedKeys []string, traceID, stamp string) (*MetricsResult, error) {
	partitions := make(map[catalog.AggregationType][]EnrichedRow)
	for _, key := range enrichedKeys {
		data, prov, err := p.gw.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		rows, err := table.Decode[EnrichedRow](data)
		if err != nil {
			return nil, eris.Wrapf(err, "etl: decode %s", key)
		}
		partitions[prov.Aggregation] = append(partitions[prov.Aggregation], rows...)
	}

	res := &MetricsResult{Records: make(map[catalog.AggregationType][]MetricRecord)}
	var exportRef string
	for _, agg := range catalog.AggregationTypes() {
		records, err := ComputeMetrics(partitions[agg], agg)
		if err != nil {
			return nil, err
		}
		res.Records[agg] = records

		ref := latestDate(records)
		if ref > exportRef {
			exportRef = ref
		}
		data, err := table.Encode(records)
		if err != nil {
			return nil, err
		}
		put, err := p.gw.Put(ctx, ServingKey(agg, ref, stamp), data, objstore.Provenance{
			TraceID:      traceID,
			Source:       catalog.SourceCVM,
			DocumentType: catalog.DocFinancialsQuarterly,
			ContentType:  catalog.ContentParquet,
			RefDate:      ref,
			Aggregation:  agg,
		})
		if err != nil {
			return nil, err
		}
		res.ServingKeys = append(res.ServingKeys, put.Key)

		if p.cache != nil {
			if err := p.cache.Publish(ctx, catalog.TableFinancialsQuarterly, agg, records, ref, traceID, put.Key); err != nil {
				return nil, eris.Wrapf(err, "etl: publish %s", agg)
			}
		}
		p.log.Info("metrics table stored",
			zap.String("aggregation", string(agg)),
			zap.Int("records", len(records)),
			zap.String("key", put.Key),
		)
	}

	book, err := BuildWorkbook(res.Records)
	if err != nil {
		return nil, err
	}
	put, err := p.gw.Put(ctx, ExportKey(exportRef, stamp), book, objstore.Provenance{
		TraceID:      traceID,
		Source:       catalog.SourceCVM,
		DocumentType: catalog.DocFinancialsQuarterly,
		ContentType:  catalog.ContentXLSX,
		RefDate:      exportRef,
	})
	if err != nil {
		return nil, err
	}
	res.ExportKey = put.Key
	return res, nil
}

func latestDate(records []MetricRecord) string {
	if len(records) == 0 {
		return ""
	}
	return records[len(records)-1].Date
}
