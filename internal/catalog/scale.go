package catalog

import (
	"sort"

	"github.com/rotisserie/eris"
)

// ErrUnmappedScaleUnit is returned for an ESCALA_MOEDA value with no multiplier.
var ErrUnmappedScaleUnit = eris.New("catalog: unmapped currency scale unit")

// ScaleTable maps a currency-scale unit label to its multiplier.
type ScaleTable map[string]float64

// DefaultScaleTable returns the scale units observed in CVM extracts.
// MILHOES and MILHÕES are not part of the published CVM layout.
func DefaultScaleTable() ScaleTable {
	return ScaleTable{
		"UNIDADE": 1,
		"MIL":     1_000,
		"MILHOES": 1_000_000,
		"MILHÕES": 1_000_000,
	}
}

// Multiplier returns the multiplier for a unit label.
func (t ScaleTable) Multiplier(unit string) (float64, error) {
	m, ok := t[unit]
	if !ok {
		return 0, eris.Wrapf(ErrUnmappedScaleUnit, "unit %q (known: %v)", unit, t.Units())
	}
	return m, nil
}

// Units returns the known unit labels, sorted.
func (t ScaleTable) Units() []string {
	units := make([]string, 0, len(t))
	for u := range t {
		units = append(units, u)
	}
	sort.Strings(units)
	return units
}
