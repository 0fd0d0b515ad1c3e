package regime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSymbolAndMarketReadings(t *testing.T) {
	tr := NewTracker(0)
	ctx := context.Background()

	_, err := tr.Current(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrNoReading)

	require.NoError(t, tr.Update(Reading{Regime: RangeBound, Probability: 0.7}))
	r, err := tr.Current(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, RangeBound, r.Regime)

	require.NoError(t, tr.Update(Reading{Symbol: "aapl", Regime: TrendingBull, Probability: 0.9}))
	r, err = tr.Current(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, TrendingBull, r.Regime)

	r, err = tr.Current(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, RangeBound, r.Regime)
}

func TestTrackerRejectsStaleAndInvalid(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	tr := NewTracker(5 * time.Minute)
	tr.now = func() time.Time { return now }

	assert.Error(t, tr.Update(Reading{Regime: "sideways"}))
	assert.Error(t, tr.Update(Reading{Regime: Crisis, Probability: 1.5}))

	require.NoError(t, tr.Update(Reading{Symbol: "SPY", Regime: Crisis, Probability: 0.8, UpdatedAt: now.Add(-10 * time.Minute)}))
	_, err := tr.Current(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrStaleReading)
}

func TestTrackerPublishesChanges(t *testing.T) {
	tr := NewTracker(0)
	var changes []RegimeChange
	tr.Subscribe(func(c RegimeChange) { changes = append(changes, c) })

	require.NoError(t, tr.Update(Reading{Regime: TrendingBull, Probability: 0.8}))
	require.NoError(t, tr.Update(Reading{Regime: TrendingBull, Probability: 0.9}))
	require.NoError(t, tr.Update(Reading{Regime: HighVolatility, Probability: 0.6}))

	require.Len(t, changes, 1)
	assert.Equal(t, TrendingBull, changes[0].OldRegime)
	assert.Equal(t, HighVolatility, changes[0].NewRegime)
}

func TestCompatibility(t *testing.T) {
	c := DefaultCompatibility()

	assert.True(t, c.Allows("momentum", TrendingBull))
	assert.True(t, c.Allows("Mean_Reversion", RangeBound))
	assert.False(t, c.Allows("mean_reversion", TrendingBull))
	assert.False(t, c.Allows("unknown_strategy", TrendingBull))
	for strategy := range c {
		assert.False(t, c.Allows(strategy, Crisis), strategy)
	}
}

func TestParseRegime(t *testing.T) {
	r, err := ParseRegime("High_Volatility")
	require.NoError(t, err)
	assert.Equal(t, HighVolatility, r)
	_, err = ParseRegime("bullish")
	assert.Error(t, err)
}
