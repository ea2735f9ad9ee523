package resolve

import (
	"math"
	"maps"
	"slices"

	"github.com/roach88/paramgraph/internal/param"
)

// SourceFallback marks parameters served from a fallback table.
const SourceFallback = "fallback"

// FallbackTable is an immutable table of well-known values consulted when
// the snapshot cannot answer.
type FallbackTable struct {
	params map[param.Path]param.Parameter
}

// NewFallbackTable builds a table from parameters keyed by their path.
func NewFallbackTable(params ...param.Parameter) FallbackTable {
	t := FallbackTable{params: make(map[param.Path]param.Parameter, len(params))}
	for _, p := range params {
		if p.Source == "" {
			p.Source = SourceFallback
		}
		t.params[p.Path()] = p
	}
	return t
}

// Lookup returns the fallback parameter at path.
func (t FallbackTable) Lookup(path param.Path) (param.Parameter, bool) {
	p, ok := t.params[path]
	return p, ok
}

// Paths returns every path in the table, sorted.
func (t FallbackTable) Paths() []param.Path {
	return slices.SortedFunc(maps.Keys(t.params), param.ComparePaths)
}

// Len returns the number of entries.
func (t FallbackTable) Len() int {
	return len(t.params)
}

func constant(key string, value float64, unit string) param.Parameter {
	return param.Parameter{
		Category: "constants",
		Key:      key,
		Value:    param.Number(value),
		Source:   SourceFallback,
		Metadata: param.Metadata{Unit: unit, References: []string{"CODATA 2018"}},
	}
}

// DefaultFallback returns the built-in table of physical constants (SI,
// CODATA 2018 exact or recommended values) under the "constants" category.
func DefaultFallback() FallbackTable {
	return NewFallbackTable(
		constant("c", 299792458, "m/s"),
		constant("G", 6.67430e-11, "m^3/(kg s^2)"),
		constant("h", 6.62607015e-34, "J s"),
		constant("hbar", 1.054571817e-34, "J s"),
		constant("k_B", 1.380649e-23, "J/K"),
		constant("e", 1.602176634e-19, "C"),
		constant("N_A", 6.02214076e23, "1/mol"),
		constant("alpha", 7.2973525693e-3, ""),
		constant("m_e", 9.1093837015e-31, "kg"),
		constant("m_p", 1.67262192369e-27, "kg"),
		constant("pi", math.Pi, ""),
	)
}
