// Package catalog declares the static vocabulary of the data lake: medallion
// layers, enumerations, metadata keys, column schemas and the currency-scale
// table. Nothing in this package holds mutable state.
package catalog

import (
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Layer is a medallion layer path prefix (without the trailing slash).
type Layer string

// Medallion layers.
const (
	BronzeLanding  Layer = "bronze/landing"
	BronzeRaw      Layer = "bronze/raw"
	SilverCleaned  Layer = "silver/cleaned"
	SilverEnriched Layer = "silver/enriched"
	GoldServing    Layer = "gold/serving"
	GoldExport     Layer = "gold/export"
	GoldDocuments  Layer = "gold/documents"
	Logs           Layer = "logs"
)

// Layers returns every layer in bucket initialization order.
func Layers() []Layer {
	return []Layer{BronzeRaw, BronzeLanding, SilverCleaned, SilverEnriched, GoldExport, GoldServing, GoldDocuments, Logs}
}

// Prefix returns the layer's key prefix including the trailing slash.
func (l Layer) Prefix() string { return string(l) + "/" }

// DataSource identifies where an artifact originated.
type DataSource string

// Known data sources.
const (
	SourceCVM DataSource = "CVM"
)

// ParseDataSource validates a stored data source value.
func ParseDataSource(s string) (DataSource, error) {
	switch DataSource(s) {
	case SourceCVM:
		return DataSource(s), nil
	}
	return "", eris.Errorf("catalog: unknown data source %q", s)
}

// DocumentType names the kind of document an artifact holds.
type DocumentType string

// Document types. The four statement types map to CVM raw file families.
const (
	DocITR                      DocumentType = "ITR"
	DocDFP                      DocumentType = "DFP"
	DocBalanceSheetAssets       DocumentType = "BALANCO_PATRIMONIAL_ATIVO"
	DocBalanceSheetLiabilities  DocumentType = "BALANCO_PATRIMONIAL_PASSIVO"
	DocCashFlowIndirect         DocumentType = "FLUXO_DE_CAIXA_INDIRETO"
	DocIncomeStatement          DocumentType = "DRE"
	DocFinancialStatementsFinal DocumentType = "DEMONSTRATIVOS_FINANCEIROS_FINAL"
	DocFinancialsQuarterly      DocumentType = "FINANCIALS_QUARTERLY"
)

var documentTypes = map[DocumentType]bool{
	DocITR:                      true,
	DocDFP:                      true,
	DocBalanceSheetAssets:       true,
	DocBalanceSheetLiabilities:  true,
	DocCashFlowIndirect:         true,
	DocIncomeStatement:          true,
	DocFinancialStatementsFinal: true,
	DocFinancialsQuarterly:      true,
}

// ParseDocumentType validates a stored document type value.
func ParseDocumentType(s string) (DocumentType, error) {
	if documentTypes[DocumentType(s)] {
		return DocumentType(s), nil
	}
	return "", eris.Errorf("catalog: unknown document type %q", s)
}

// StatementTypes returns the reconciled statement types in processing order.
func StatementTypes() []DocumentType {
	return []DocumentType{DocBalanceSheetAssets, DocBalanceSheetLiabilities, DocCashFlowIndirect, DocIncomeStatement}
}

// FileFragment returns the raw file-name fragment of a statement type
// (e.g. "BPA" in itr_cia_aberta_BPA_con_2024.csv).
func (d DocumentType) FileFragment() string {
	switch d {
	case DocBalanceSheetAssets:
		return "BPA"
	case DocBalanceSheetLiabilities:
		return "BPP"
	case DocCashFlowIndirect:
		return "DFC_MI"
	case DocIncomeStatement:
		return "DRE"
	}
	return ""
}

// IsBalanceSheet reports whether the type is one of the two balance sheet sides.
func (d DocumentType) IsBalanceSheet() bool {
	return d == DocBalanceSheetAssets || d == DocBalanceSheetLiabilities
}

// AggregationType distinguishes consolidated from parent-only statements.
type AggregationType string

// Aggregation types.
const (
	AggConsolidated AggregationType = "CONSOLIDADO"
	AggIndividual   AggregationType = "INDIVIDUAL"
)

// AggregationTypes returns both aggregation types, consolidated first.
func AggregationTypes() []AggregationType {
	return []AggregationType{AggConsolidated, AggIndividual}
}

// ParseAggregationType validates a stored aggregation value (case-insensitive).
func ParseAggregationType(s string) (AggregationType, error) {
	switch AggregationType(strings.ToUpper(s)) {
	case AggConsolidated:
		return AggConsolidated, nil
	case AggIndividual:
		return AggIndividual, nil
	}
	return "", eris.Errorf("catalog: unknown aggregation type %q", s)
}

// FileFragment returns the raw file-name fragment of the aggregation.
func (a AggregationType) FileFragment() string {
	if a == AggIndividual {
		return "_ind_"
	}
	return "_con_"
}

// SheetName returns the export workbook sheet for the aggregation.
func (a AggregationType) SheetName() string {
	if a == AggIndividual {
		return "DFS Individual"
	}
	return "DFS Consolidado"
}

// ContentType is the MIME type stored with an artifact.
type ContentType string

// Content types.
const (
	ContentZIP     ContentType = "application/zip"
	ContentCSV     ContentType = "text/csv"
	ContentParquet ContentType = "application/vnd.apache.parquet"
	ContentXLSX    ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentText    ContentType = "text/plain"
)

// ParseContentType validates a stored content type value.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case ContentZIP, ContentCSV, ContentParquet, ContentXLSX, ContentText:
		return ContentType(s), nil
	}
	return "", eris.Errorf("catalog: unknown content type %q", s)
}

// GoldTable names a gold serving table.
type GoldTable string

// Gold tables.
const (
	TableFinancialsQuarterly GoldTable = "FINANCIALS_QUARTERLY"
)

// Artifact metadata keys. Object stores lowercase user metadata keys, so
// these are lowercase already.
const (
	MetaFileHash        = "file-hash"
	MetaIngestTS        = "ingest-ts"
	MetaTraceID         = "trace-id"
	MetaSource          = "source"
	MetaDocumentType    = "document-type"
	MetaContentType     = "content-type"
	MetaRefDate         = "ref-date"
	MetaAggregationType = "aggregation-type"
)

// PlaceholderName is written under every layer prefix on bucket init.
const PlaceholderName = ".placeholder"

// Key joins a layer, source and document type with further path parts into
// an object key. Source and document segments are lowercased.
func Key(layer Layer, source DataSource, doc DocumentType, parts ...string) string {
	segs := []string{string(layer), strings.ToLower(string(source)), strings.ToLower(string(doc))}
	segs = append(segs, parts...)
	return path.Join(segs...)
}

// Folder returns the destination folder of a key including the trailing slash.
func Folder(key string) string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}
