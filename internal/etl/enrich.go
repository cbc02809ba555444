package etl

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/table"
)

// Account types tagged on balance sheet rows.
const (
	AccountTypeAssets      = "ATIVO"
	AccountTypeLiabilities = "PASSIVO"
)

// QuarterOf maps a month to its calendar quarter.
func QuarterOf(m time.Month) int32 {
	switch {
	case m <= 3:
		return 1
	case m <= 6:
		return 2
	case m <= 9:
		return 3
	default:
		return 4
	}
}

// EnrichedKey is the silver/enriched key for an aggregation's consolidated
// table with reference date ref, written by the run stamped stamp.
func EnrichedKey(agg catalog.AggregationType, ref, stamp string) string {
	doc := strings.ToLower(string(catalog.DocFinancialStatementsFinal))
	a := strings.ToLower(string(agg))
	return catalog.Key(catalog.SilverEnriched, catalog.SourceCVM, catalog.DocFinancialStatementsFinal, a,
		doc+"_"+a+"_"+ref+"_"+stamp+".parquet")
}

// Enrich scale-corrects and tags every cleaned table, then writes exactly
// one table per aggregation type. Document type and aggregation come from
// each artifact's provenance.
func (p *FinancialStatements) Enrich(ctx context.Context, cleanedKeys []string, traceID, lastUpdate, stamp string) ([]string, error) {
	partitions := make(map[catalog.AggregationType][]EnrichedRow)

	for _, key := range cleanedKeys {
		data, prov, err := p.gw.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if prov.Aggregation == "" {
			return nil, eris.Errorf("etl: %s has no aggregation type", key)
		}
		rows, err := table.Decode[StatementRow](data)
		if err != nil {
			return nil, eris.Wrapf(err, "etl: decode %s", key)
		}
		for i, r := range rows {
			e, err := p.enrichRow(r, prov.DocumentType, prov.Aggregation, traceID, lastUpdate)
			if err != nil {
				return nil, eris.Wrapf(err, "etl: enrich %s row %d", key, i+1)
			}
			partitions[prov.Aggregation] = append(partitions[prov.Aggregation], e)
		}
	}

	var keys []string
	for _, agg := range catalog.AggregationTypes() {
		rows := partitions[agg]
		if len(rows) == 0 {
			return nil, eris.Wrapf(ErrEmptyAfterFilter, "no enriched rows for %s", agg)
		}
		ref := maxEndOfPeriod(rows)
		data, err := table.Encode(rows)
		if err != nil {
			return nil, err
		}
		res, err := p.gw.Put(ctx, EnrichedKey(agg, ref, stamp), data, objstore.Provenance{
			TraceID:      traceID,
			Source:       catalog.SourceCVM,
			DocumentType: catalog.DocFinancialStatementsFinal,
			ContentType:  catalog.ContentParquet,
			RefDate:      ref,
			Aggregation:  agg,
		})
		if err != nil {
			return nil, err
		}
		p.log.Info("enriched table stored",
			zap.String("aggregation", string(agg)),
			zap.Int("rows", len(rows)),
			zap.String("key", res.Key),
			zap.Bool("written", res.Written),
		)
		keys = append(keys, res.Key)
	}
	return keys, nil
}

func (p *FinancialStatements) enrichRow(r StatementRow, doc catalog.DocumentType, agg catalog.AggregationType, traceID, lastUpdate string) (EnrichedRow, error) {
	mult, err := p.cfg.Scale.Multiplier(r.EscalaMoeda)
	if err != nil {
		return EnrichedRow{}, err
	}
	end, err := time.Parse(catalog.DateLayout, r.DtFimExerc)
	if err != nil {
		return EnrichedRow{}, eris.Wrapf(err, "etl: DT_FIM_EXERC %q", r.DtFimExerc)
	}

	var accountType string
	switch doc {
	case catalog.DocBalanceSheetAssets:
		accountType = AccountTypeAssets
	case catalog.DocBalanceSheetLiabilities:
		accountType = AccountTypeLiabilities
	}

	return EnrichedRow{
		CNPJCia:     r.CNPJCia,
		DtRefer:     r.DtRefer,
		Versao:      r.Versao,
		DenomCia:    r.DenomCia,
		CdCVM:       r.CdCVM,
		GrupoDFP:    r.GrupoDFP,
		Moeda:       r.Moeda,
		EscalaMoeda: r.EscalaMoeda,
		OrdemExerc:  r.OrdemExerc,
		DtIniExerc:  r.DtIniExerc,
		DtFimExerc:  r.DtFimExerc,
		CdConta:     r.CdConta,
		DsConta:     r.DsConta,
		VlConta:     r.VlConta,
		StContaFixa: r.StContaFixa,
		OriginFile:  r.OriginFile,

		AdjustedAccountValue: r.VlConta * mult,
		Quarter:              QuarterOf(end.Month()),
		Year:                 int32(end.Year()),
		AccountType:          accountType,
		AggregationType:      string(agg),
		OriginDocumentType:   string(doc),
		IngestionTraceID:     traceID,
		Source:               string(catalog.SourceCVM),
		LastUpdatedDate:      lastUpdate,
	}, nil
}

// maxEndOfPeriod returns the latest DT_FIM_EXERC. ISO dates order lexically.
func maxEndOfPeriod(rows []EnrichedRow) string {
	var ref string
	for _, r := range rows {
		if r.DtFimExerc > ref {
			ref = r.DtFimExerc
		}
	}
	return ref
}
