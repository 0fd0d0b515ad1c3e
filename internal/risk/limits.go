package risk

// Hard limits. These are compiled in and cannot be changed by configuration.
const (
	MinCashReservePct         = 0.10
	MaxDrawdownPct            = 0.15
	MaxSectorExposurePct      = 0.40
	MaxPositionPct            = 0.20
	MaxCorrelation            = 0.70
	CorrelationSizeMultiplier = 0.5
	MaxUSDExposurePct         = 0.50
	MaxCryptoExposurePct      = 0.15

	// MinStopDistancePct is used as the stop distance when a signal's stop equals its entry
	MinStopDistancePct = 0.02
	// DefaultBaseRiskPct is the fraction of capital risked per trade before multipliers
	DefaultBaseRiskPct = 0.01
)
