package regime

import "strings"

// Compatibility maps a strategy name to the regimes it may trade in.
// Strategies absent from the table are treated as incompatible with every regime.
type Compatibility map[string][]RegimeType

// DefaultCompatibility is the static strategy/regime table
func DefaultCompatibility() Compatibility {
	return Compatibility{
		"momentum":        {TrendingBull, TrendingBear},
		"trend_following": {TrendingBull, TrendingBear},
		"mean_reversion":  {RangeBound},
		"breakout":        {TrendingBull, RangeBound, HighVolatility},
		"volatility":      {HighVolatility},
		"news_event":      {TrendingBull, RangeBound, TrendingBear, HighVolatility},
	}
}

// Allows reports whether strategy may trade in regime. Crisis allows nothing.
func (c Compatibility) Allows(strategy string, r RegimeType) bool {
	if r == Crisis {
		return false
	}
	for _, allowed := range c[strings.ToLower(strategy)] {
		if allowed == r {
			return true
		}
	}
	return false
}
