package regime

import (
	"fmt"
	"strings"
	"time"
)

// RegimeType is the market regime label produced by the external regime model
type RegimeType string

const (
	TrendingBull   RegimeType = "trending_bull"
	RangeBound     RegimeType = "range_bound"
	TrendingBear   RegimeType = "trending_bear"
	HighVolatility RegimeType = "high_volatility"
	Crisis         RegimeType = "crisis"
)

// AllRegimes lists every known regime
var AllRegimes = []RegimeType{TrendingBull, RangeBound, TrendingBear, HighVolatility, Crisis}

// Valid reports whether r is a known regime
func (r RegimeType) Valid() bool {
	for _, v := range AllRegimes {
		if v == r {
			return true
		}
	}
	return false
}

// ParseRegime converts a label from the regime feed to a RegimeType
func ParseRegime(s string) (RegimeType, error) {
	r := RegimeType(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown regime %q", s)
	}
	return r, nil
}

// Reading is the regime model's latest classification for a symbol.
// An empty Symbol means the reading applies market-wide.
type Reading struct {
	Symbol      string     `json:"symbol,omitempty"`
	Regime      RegimeType `json:"regime"`
	Probability float64    `json:"probability"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RegimeChange represents a regime transition event
type RegimeChange struct {
	Symbol    string     `json:"symbol,omitempty"`
	OldRegime RegimeType `json:"old_regime"`
	NewRegime RegimeType `json:"new_regime"`
	At        time.Time  `json:"at"`
}
