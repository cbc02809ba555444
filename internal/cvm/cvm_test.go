package cvm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/finlake/internal/catalog"
)

const bpaHeader = "CNPJ_CIA;DT_REFER;VERSAO;DENOM_CIA;CD_CVM;GRUPO_DFP;MOEDA;ESCALA_MOEDA;ORDEM_EXERC;DT_FIM_EXERC;CD_CONTA;DS_CONTA;VL_CONTA;ST_CONTA_FIXA"

func latin1(t *testing.T, s string) []byte {
	t.Helper()
	out, err := charmap.ISO8859_1.NewEncoder().String(s)
	require.NoError(t, err)
	return []byte(out)
}

func TestMatchesUnit(t *testing.T) {
	key := "bronze/raw/cvm/itr/itr_cia_aberta_BPA_con_2024.csv"
	assert.True(t, MatchesUnit(key, catalog.DocBalanceSheetAssets, catalog.AggConsolidated, 2024))
	assert.False(t, MatchesUnit(key, catalog.DocBalanceSheetAssets, catalog.AggIndividual, 2024))
	assert.False(t, MatchesUnit(key, catalog.DocBalanceSheetAssets, catalog.AggConsolidated, 2023))
	assert.False(t, MatchesUnit(key, catalog.DocBalanceSheetLiabilities, catalog.AggConsolidated, 2024))
	assert.False(t, MatchesUnit(key, catalog.DocITR, catalog.AggConsolidated, 2024))

	assert.True(t, MatchesUnit("bronze/raw/cvm/dfp/dfp_cia_aberta_DFC_MI_ind_2023.csv",
		catalog.DocCashFlowIndirect, catalog.AggIndividual, 2023))
}

func TestOriginFile(t *testing.T) {
	assert.Equal(t, catalog.DocDFP, OriginFile("bronze/raw/cvm/dfp/dfp_cia_aberta_DRE_con_2023.csv"))
	assert.Equal(t, catalog.DocITR, OriginFile("bronze/raw/cvm/itr/itr_cia_aberta_DRE_con_2023.csv"))
}

func TestFormatCNPJ(t *testing.T) {
	got, err := FormatCNPJ("12345678000190")
	require.NoError(t, err)
	assert.Equal(t, "12.345.678/0001-90", got)

	got, err = FormatCNPJ("12.345.678/0001-90")
	require.NoError(t, err)
	assert.Equal(t, "12.345.678/0001-90", got)

	_, err = FormatCNPJ("1234")
	require.Error(t, err)
	_, err = FormatCNPJ("12a45678000190")
	require.Error(t, err)
}

func TestParseStatement(t *testing.T) {
	data := latin1(t, bpaHeader+"\n"+
		"12.345.678/0001-90;2024-03-31;1;ACME S.A.;1234;DF Consolidado - Balanço Patrimonial Ativo;REAL;MIL;ÚLTIMO;2024-03-31;1.01.01;Caixa e Equivalentes;1500.5;S\n"+
		"12.345.678/0001-90;2024-03-31;1;ACME S.A.;1234;DF Consolidado - Balanço Patrimonial Ativo;REAL;MIL;PENÚLTIMO;2023-12-31;1.01.01;Caixa e Equivalentes;;S\n")

	st, err := ParseStatement(context.Background(), data, catalog.DocBalanceSheetAssets)
	require.NoError(t, err)
	require.Len(t, st.Rows, 2)
	assert.Equal(t, FinalExercise, st.Value(0, "ORDEM_EXERC"))
	assert.Equal(t, "PENÚLTIMO", st.Value(1, "ORDEM_EXERC"))
	assert.Equal(t, "1500.5", st.Value(0, "VL_CONTA"))
	assert.Equal(t, "", st.Value(1, "VL_CONTA"))
	assert.Equal(t, "", st.Value(0, "DT_INI_EXERC"))
}

func TestParseStatement_HeaderDrift(t *testing.T) {
	reordered := "DT_REFER;CNPJ_CIA;VERSAO;DENOM_CIA;CD_CVM;GRUPO_DFP;MOEDA;ESCALA_MOEDA;ORDEM_EXERC;DT_FIM_EXERC;CD_CONTA;DS_CONTA;VL_CONTA;ST_CONTA_FIXA"
	_, err := ParseStatement(context.Background(), latin1(t, reordered+"\n"), catalog.DocBalanceSheetAssets)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	// BPA header handed to an income statement lacks DT_INI_EXERC.
	_, err = ParseStatement(context.Background(), latin1(t, bpaHeader+"\n"), catalog.DocIncomeStatement)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestParseStatement_BadCell(t *testing.T) {
	data := latin1(t, bpaHeader+"\n"+
		"12.345.678/0001-90;31/03/2024;1;ACME;1234;G;REAL;MIL;ÚLTIMO;2024-03-31;1.01;Ativo;10;S\n")
	_, err := ParseStatement(context.Background(), data, catalog.DocBalanceSheetAssets)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "DT_REFER")
}

func TestParseStatement_ShortRow(t *testing.T) {
	data := latin1(t, bpaHeader+"\n12.345.678/0001-90;2024-03-31\n")
	_, err := ParseStatement(context.Background(), data, catalog.DocBalanceSheetAssets)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestParseStatement_NotAStatement(t *testing.T) {
	_, err := ParseStatement(context.Background(), []byte(bpaHeader), catalog.DocITR)
	require.Error(t, err)
}
