package risk

import (
	"strings"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// SymbolInfo classifies an instrument for exposure limits
type SymbolInfo struct {
	Sector     string           `yaml:"sector" json:"sector"`
	AssetClass types.AssetClass `yaml:"asset_class" json:"asset_class"`
	Currency   string           `yaml:"currency" json:"currency"`
}

// SymbolDirectory holds static classification per symbol
type SymbolDirectory map[string]SymbolInfo

// Lookup returns the classification for symbol, preferring fields the signal carries
func (d SymbolDirectory) Lookup(symbol string, meta types.SignalMetadata) SymbolInfo {
	info := d[strings.ToUpper(symbol)]
	if meta.Sector != "" {
		info.Sector = meta.Sector
	}
	if meta.AssetClass != "" {
		info.AssetClass = meta.AssetClass
	}
	if meta.Currency != "" {
		info.Currency = meta.Currency
	}
	info.Currency = strings.ToUpper(info.Currency)
	return info
}

// CorrelationMatrix stores pairwise return correlations. Lookups are symmetric.
type CorrelationMatrix map[string]map[string]float64

// Get returns the correlation between a and b, 1 for identical symbols and 0 when unknown
func (m CorrelationMatrix) Get(a, b string) float64 {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if a == b {
		return 1
	}
	if v, ok := m[a][b]; ok {
		return v
	}
	if v, ok := m[b][a]; ok {
		return v
	}
	return 0
}

// Exposure is a point-in-time view of the book used for one risk check.
// All values are absolute market values in account currency.
type Exposure struct {
	Capital        float64
	Cash           float64
	Quantities     map[string]float64
	PositionValues map[string]float64
	Sectors        map[string]float64
	AssetClasses   map[types.AssetClass]float64
	Currencies     map[string]float64
	Correlations   CorrelationMatrix
}

// CashReservePct returns cash as a fraction of capital
func (e Exposure) CashReservePct() float64 {
	if e.Capital <= 0 {
		return 0
	}
	return e.Cash / e.Capital
}

// MaxCorrelationWith returns the highest correlation between symbol and any
// other symbol currently held, and that symbol
func (e Exposure) MaxCorrelationWith(symbol string) (float64, string) {
	best, with := 0.0, ""
	for held, qty := range e.Quantities {
		if qty == 0 || strings.EqualFold(held, symbol) {
			continue
		}
		if c := e.Correlations.Get(symbol, held); c > best {
			best, with = c, held
		}
	}
	return best, with
}
