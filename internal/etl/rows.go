// Package etl runs the financial statement pipeline: raw CVM extracts in
// bronze are reconciled into silver/cleaned, enriched into silver/enriched
// and reduced to quarterly metrics in gold.
package etl

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finlake/internal/cvm"
)

// StatementRow is one account line of a reconciled statement. Dates are
// ISO (2006-01-02) strings and empty numeric cells decode as zero.
type StatementRow struct {
	CNPJCia     string  `parquet:"name=CNPJ_CIA, type=BYTE_ARRAY, convertedtype=UTF8" json:"CNPJ_CIA"`
	DtRefer     string  `parquet:"name=DT_REFER, type=BYTE_ARRAY, convertedtype=UTF8" json:"DT_REFER"`
	Versao      int64   `parquet:"name=VERSAO, type=INT64" json:"VERSAO"`
	DenomCia    string  `parquet:"name=DENOM_CIA, type=BYTE_ARRAY, convertedtype=UTF8" json:"DENOM_CIA"`
	CdCVM       int64   `parquet:"name=CD_CVM, type=INT64" json:"CD_CVM"`
	GrupoDFP    string  `parquet:"name=GRUPO_DFP, type=BYTE_ARRAY, convertedtype=UTF8" json:"GRUPO_DFP"`
	Moeda       string  `parquet:"name=MOEDA, type=BYTE_ARRAY, convertedtype=UTF8" json:"MOEDA"`
	EscalaMoeda string  `parquet:"name=ESCALA_MOEDA, type=BYTE_ARRAY, convertedtype=UTF8" json:"ESCALA_MOEDA"`
	OrdemExerc  string  `parquet:"name=ORDEM_EXERC, type=BYTE_ARRAY, convertedtype=UTF8" json:"ORDEM_EXERC"`
	DtIniExerc  string  `parquet:"name=DT_INI_EXERC, type=BYTE_ARRAY, convertedtype=UTF8" json:"DT_INI_EXERC,omitempty"`
	DtFimExerc  string  `parquet:"name=DT_FIM_EXERC, type=BYTE_ARRAY, convertedtype=UTF8" json:"DT_FIM_EXERC"`
	CdConta     string  `parquet:"name=CD_CONTA, type=BYTE_ARRAY, convertedtype=UTF8" json:"CD_CONTA"`
	DsConta     string  `parquet:"name=DS_CONTA, type=BYTE_ARRAY, convertedtype=UTF8" json:"DS_CONTA"`
	VlConta     float64 `parquet:"name=VL_CONTA, type=DOUBLE" json:"VL_CONTA"`
	StContaFixa string  `parquet:"name=ST_CONTA_FIXA, type=BYTE_ARRAY, convertedtype=UTF8" json:"ST_CONTA_FIXA"`
	OriginFile  string  `parquet:"name=ORIGIN_FILE, type=BYTE_ARRAY, convertedtype=UTF8" json:"ORIGIN_FILE"`
}

// EnrichedRow is a StatementRow plus the enr_* derived columns.
type EnrichedRow struct {
	CNPJCia     string  `parquet:"name=CNPJ_CIA, type=BYTE_ARRAY, convertedtype=UTF8" json:"CNPJ_CIA"`
	DtRefer     string  `parquet:"name=DT_REFER, type=BYTE_ARRAY, convertedtype=UTF8" json:"DT_REFER"`
	Versao      int64   `parquet:"name=VERSAO, type=INT64" json:"VERSAO"`
	DenomCia    string  `parquet:"name=DENOM_CIA, type=BYTE_ARRAY, convertedtype=UTF8" json:"DENOM_CIA"`
	CdCVM       int64   `parquet:"name=CD_CVM, type=INT64" json:"CD_CVM"`
	GrupoDFP    string  `parquet:"name=GRUPO_DFP, type=BYTE_ARRAY, convertedtype=UTF8" json:"GRUPO_DFP"`
	Moeda       string  `parquet:"name=MOEDA, type=BYTE_ARRAY, convertedtype=UTF8" json:"MOEDA"`
	EscalaMoeda string  `parquet:"name=ESCALA_MOEDA, type=BYTE_ARRAY, convertedtype=UTF8" json:"ESCALA_MOEDA"`
	OrdemExerc  string  `parquet:"name=ORDEM_EXERC, type=BYTE_ARRAY, convertedtype=UTF8" json:"ORDEM_EXERC"`
	DtIniExerc  string  `parquet:"name=DT_INI_EXERC, type=BYTE_ARRAY, convertedtype=UTF8" json:"DT_INI_EXERC,omitempty"`
	DtFimExerc  string  `parquet:"name=DT_FIM_EXERC, type=BYTE_ARRAY, convertedtype=UTF8" json:"DT_FIM_EXERC"`
	CdConta     string  `parquet:"name=CD_CONTA, type=BYTE_ARRAY, convertedtype=UTF8" json:"CD_CONTA"`
	DsConta     string  `parquet:"name=DS_CONTA, type=BYTE_ARRAY, convertedtype=UTF8" json:"DS_CONTA"`
	VlConta     float64 `parquet:"name=VL_CONTA, type=DOUBLE" json:"VL_CONTA"`
	StContaFixa string  `parquet:"name=ST_CONTA_FIXA, type=BYTE_ARRAY, convertedtype=UTF8" json:"ST_CONTA_FIXA"`
	OriginFile  string  `parquet:"name=ORIGIN_FILE, type=BYTE_ARRAY, convertedtype=UTF8" json:"ORIGIN_FILE"`

	AdjustedAccountValue float64 `parquet:"name=enr_adjusted_account_value, type=DOUBLE" json:"enr_adjusted_account_value"`
	Quarter              int32   `parquet:"name=enr_quarter, type=INT32" json:"enr_quarter"`
	Year                 int32   `parquet:"name=enr_year, type=INT32" json:"enr_year"`
	AccountType          string  `parquet:"name=enr_account_type, type=BYTE_ARRAY, convertedtype=UTF8" json:"enr_account_type,omitempty"`
	AggregationType      string  `parquet:"name=enr_aggregation_type, type=BYTE_ARRAY, convertedtype=UTF8" json:"enr_aggregation_type"`
	OriginDocumentType   string  `parquet:"name=enr_origin_document_type, type=BYTE_ARRAY, convertedtype=UTF8" json:"enr_origin_document_type"`
	IngestionTraceID     string  `parquet:"name=enr_ingestion_trace_id, type=BYTE_ARRAY, convertedtype=UTF8" json:"enr_ingestion_trace_id"`
	Source               string  `parquet:"name=enr_source, type=BYTE_ARRAY, convertedtype=UTF8" json:"enr_source"`
	LastUpdatedDate      string  `parquet:"name=enr_last_updated_date, type=BYTE_ARRAY, convertedtype=UTF8" json:"enr_last_updated_date"`
}

// MetricRecord is one company's standardized figures for one reference date.
type MetricRecord struct {
	IssuerCNPJ      string  `parquet:"name=issuer_cnpj, type=BYTE_ARRAY, convertedtype=UTF8" json:"issuer_cnpj"`
	Date            string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8" json:"date"`
	AggregationType string  `parquet:"name=aggregation_type, type=BYTE_ARRAY, convertedtype=UTF8" json:"aggregation_type"`
	Quarter         int32   `parquet:"name=quarter, type=INT32" json:"quarter"`
	Year            int32   `parquet:"name=year, type=INT32" json:"year"`
	Revenue         float64 `parquet:"name=revenue, type=DOUBLE" json:"revenue"`
	EBITDA          float64 `parquet:"name=ebitda, type=DOUBLE" json:"ebitda"`
	EBIT            float64 `parquet:"name=ebit, type=DOUBLE" json:"ebit"`
	Depreciation    float64 `parquet:"name=depreciation, type=DOUBLE" json:"depreciation"`
	NetDebt         float64 `parquet:"name=net_debt, type=DOUBLE" json:"net_debt"`
	TotalDebt       float64 `parquet:"name=total_debt, type=DOUBLE" json:"total_debt"`
	DebtShortTerm   float64 `parquet:"name=debt_short_term, type=DOUBLE" json:"debt_short_term"`
	DebtLongTerm    float64 `parquet:"name=debt_long_term, type=DOUBLE" json:"debt_long_term"`
	Cash            float64 `parquet:"name=cash, type=DOUBLE" json:"cash"`
	InterestPaid    float64 `parquet:"name=interest_paid, type=DOUBLE" json:"interest_paid"`
	Capex           float64 `parquet:"name=capex, type=DOUBLE" json:"capex"`
	WCChange        float64 `parquet:"name=wc_change, type=DOUBLE" json:"wc_change"`
}

// statementRow maps row i of a parsed statement to a StatementRow. Cells
// were type-checked by cvm.ParseStatement.
func statementRow(st *cvm.Statement, i int, origin string) (StatementRow, error) {
	versao, err := parseInt(st.Value(i, "VERSAO"))
	if err != nil {
		return StatementRow{}, eris.Wrap(err, "etl: VERSAO")
	}
	cdCVM, err := parseInt(st.Value(i, "CD_CVM"))
	if err != nil {
		return StatementRow{}, eris.Wrap(err, "etl: CD_CVM")
	}
	vl, err := parseFloat(st.Value(i, "VL_CONTA"))
	if err != nil {
		return StatementRow{}, eris.Wrap(err, "etl: VL_CONTA")
	}
	return StatementRow{
		CNPJCia:     st.Value(i, "CNPJ_CIA"),
		DtRefer:     st.Value(i, "DT_REFER"),
		Versao:      versao,
		DenomCia:    st.Value(i, "DENOM_CIA"),
		CdCVM:       cdCVM,
		GrupoDFP:    st.Value(i, "GRUPO_DFP"),
		Moeda:       st.Value(i, "MOEDA"),
		EscalaMoeda: st.Value(i, "ESCALA_MOEDA"),
		OrdemExerc:  st.Value(i, "ORDEM_EXERC"),
		DtIniExerc:  st.Value(i, "DT_INI_EXERC"),
		DtFimExerc:  st.Value(i, "DT_FIM_EXERC"),
		CdConta:     st.Value(i, "CD_CONTA"),
		DsConta:     st.Value(i, "DS_CONTA"),
		VlConta:     vl,
		StContaFixa: st.Value(i, "ST_CONTA_FIXA"),
		OriginFile:  origin,
	}, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
