// Package cvm knows the layout of the CVM open data portal: dataset landing
// pages, archive naming, raw statement file names and their CSV dialect.
package cvm

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finlake/internal/catalog"
)

// FinalExercise is the ORDEM_EXERC value of the current-period figures.
const FinalExercise = "ÚLTIMO"

// MatchesUnit reports whether a raw key holds the given statement type and
// aggregation for year, e.g. ".../itr_cia_aberta_BPA_con_2024.csv".
func MatchesUnit(key string, doc catalog.DocumentType, agg catalog.AggregationType, year int) bool {
	frag := doc.FileFragment()
	if frag == "" {
		return false
	}
	return strings.Contains(key, frag+agg.FileFragment()+strconv.Itoa(year))
}

// OriginFile returns the filing family a raw key came from.
func OriginFile(key string) catalog.DocumentType {
	if strings.Contains(strings.ToLower(key), "dfp_") {
		return catalog.DocDFP
	}
	return catalog.DocITR
}

// FormatCNPJ renders a CNPJ as it appears in CNPJ_CIA (00.000.000/0000-00).
// Input may be digits only or already punctuated.
func FormatCNPJ(cnpj string) (string, error) {
	var digits strings.Builder
	for _, r := range cnpj {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '.' || r == '/' || r == '-' || r == ' ':
		default:
			return "", eris.Errorf("cvm: invalid character %q in cnpj %q", r, cnpj)
		}
	}
	d := digits.String()
	if len(d) != 14 {
		return "", eris.Errorf("cvm: cnpj %q must have 14 digits, got %d", cnpj, len(d))
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14], nil
}
