package etl

import (
	"bytes"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/finlake/internal/catalog"
)

// ExportColumns is the header row of each workbook sheet.
var ExportColumns = []string{
	"issuer_cnpj", "date", "quarter", "year",
	"revenue", "ebitda", "ebit", "depreciation",
	"net_debt", "total_debt", "debt_short_term", "debt_long_term",
	"cash", "interest_paid", "capex", "wc_change",
}

// BuildWorkbook renders one sheet per aggregation type, consolidated first.
func BuildWorkbook(records map[catalog.AggregationType][]MetricRecord) ([]byte, error) {
	f := xlsx.NewFile()
	for _, agg := range catalog.AggregationTypes() {
		sheet, err := f.AddSheet(agg.SheetName())
		if err != nil {
			return nil, eris.Wrapf(err, "etl: add sheet %s", agg.SheetName())
		}
		header := sheet.AddRow()
		for _, c := range ExportColumns {
			header.AddCell().SetString(c)
		}
		for _, r := range records[agg] {
			row := sheet.AddRow()
			row.AddCell().SetString(r.IssuerCNPJ)
			row.AddCell().SetString(r.Date)
			row.AddCell().SetInt(int(r.Quarter))
			row.AddCell().SetInt(int(r.Year))
			for _, v := range []float64{
				r.Revenue, r.EBITDA, r.EBIT, r.Depreciation,
				r.NetDebt, r.TotalDebt, r.DebtShortTerm, r.DebtLongTerm,
				r.Cash, r.InterestPaid, r.Capex, r.WCChange,
			} {
				row.AddCell().SetFloat(v)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "etl: write workbook")
	}
	return buf.Bytes(), nil
}
