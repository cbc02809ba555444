package catalog

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayers_Prefixes(t *testing.T) {
	var prefixes []string
	for _, l := range Layers() {
		prefixes = append(prefixes, l.Prefix())
	}
	assert.ElementsMatch(t, []string{
		"bronze/raw/", "bronze/landing/", "silver/cleaned/", "silver/enriched/",
		"gold/export/", "gold/serving/", "gold/documents/", "logs/",
	}, prefixes)
}

func TestKey(t *testing.T) {
	key := Key(SilverCleaned, SourceCVM, DocBalanceSheetAssets, "consolidado", "bpa_2024.parquet")
	assert.Equal(t, "silver/cleaned/cvm/balanco_patrimonial_ativo/consolidado/bpa_2024.parquet", key)
	assert.Equal(t, "silver/cleaned/cvm/balanco_patrimonial_ativo/consolidado/", Folder(key))
	assert.Equal(t, "", Folder("file.csv"))
}

func TestParseEnums(t *testing.T) {
	agg, err := ParseAggregationType("individual")
	require.NoError(t, err)
	assert.Equal(t, AggIndividual, agg)

	_, err = ParseAggregationType("SEMI")
	assert.Error(t, err)

	doc, err := ParseDocumentType("DRE")
	require.NoError(t, err)
	assert.Equal(t, DocIncomeStatement, doc)

	_, err = ParseDocumentType("dre")
	assert.Error(t, err)

	_, err = ParseDataSource("B3")
	assert.Error(t, err)

	_, err = ParseContentType("image/png")
	assert.Error(t, err)
}

func TestFileFragments(t *testing.T) {
	tests := []struct {
		doc  DocumentType
		want string
	}{
		{DocBalanceSheetAssets, "BPA"},
		{DocBalanceSheetLiabilities, "BPP"},
		{DocCashFlowIndirect, "DFC_MI"},
		{DocIncomeStatement, "DRE"},
		{DocITR, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.doc.FileFragment(), string(tt.doc))
	}
	assert.Equal(t, "_con_", AggConsolidated.FileFragment())
	assert.Equal(t, "_ind_", AggIndividual.FileFragment())
	assert.Equal(t, "DFS Consolidado", AggConsolidated.SheetName())
	assert.Equal(t, "DFS Individual", AggIndividual.SheetName())
}

func TestSchemaFor(t *testing.T) {
	bpa, err := SchemaFor(DocBalanceSheetAssets)
	require.NoError(t, err)
	assert.Equal(t, "CNPJ_CIA", bpa.Names()[0])
	assert.Equal(t, -1, bpa.Index("DT_INI_EXERC"))

	dre, err := SchemaFor(DocIncomeStatement)
	require.NoError(t, err)
	assert.Len(t, dre, len(bpa)+1)
	assert.Equal(t, 9, dre.Index("DT_INI_EXERC"))

	bpp, err := SchemaFor(DocBalanceSheetLiabilities)
	require.NoError(t, err)
	assert.Equal(t, bpa.Names(), bpp.Names())

	_, err = SchemaFor(DocITR)
	assert.Error(t, err)
}

func TestParseSchemas_RejectsUnknownType(t *testing.T) {
	_, err := parseSchemas([]byte("documents:\n  DRE:\n    - {name: X, type: decimal}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestColumnType_Check(t *testing.T) {
	assert.NoError(t, TypeInt.Check("12"))
	assert.NoError(t, TypeFloat.Check("-1234.5600000000"))
	assert.NoError(t, TypeDate.Check("2024-03-31"))
	assert.NoError(t, TypeDate.Check(""))
	assert.NoError(t, TypeString.Check("anything"))
	assert.Error(t, TypeInt.Check("1.5"))
	assert.Error(t, TypeFloat.Check("1,5"))
	assert.Error(t, TypeDate.Check("31/03/2024"))
}

func TestScaleTable(t *testing.T) {
	tbl := DefaultScaleTable()

	m, err := tbl.Multiplier("MIL")
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, 1000*m)

	m, err = tbl.Multiplier("UNIDADE")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, 1000*m)

	m, err = tbl.Multiplier("MILHÕES")
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, m)

	_, err = tbl.Multiplier("BILHOES")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnmappedScaleUnit))
}
