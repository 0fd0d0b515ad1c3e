package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalExpiry(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	s := Signal{Symbol: "AAPL", Producer: "momentum", Timestamp: ts, TTLSeconds: 60}

	assert.Equal(t, ts.Add(time.Minute), s.ExpiresAt())
	assert.False(t, s.Expired(ts.Add(59*time.Second)))
	assert.False(t, s.Expired(ts.Add(60*time.Second)))
	assert.True(t, s.Expired(ts.Add(61*time.Second)))
}

func TestSignalKeyIsCaseInsensitiveOnSymbol(t *testing.T) {
	ts := time.Now()
	a := Signal{Symbol: "aapl", Producer: "p1", Timestamp: ts}
	b := Signal{Symbol: "AAPL", Producer: "p1", Timestamp: ts}
	c := Signal{Symbol: "AAPL", Producer: "p2", Timestamp: ts}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestDirection(t *testing.T) {
	assert.True(t, DirectionLong.IsEntry())
	assert.True(t, DirectionShort.IsEntry())
	assert.False(t, DirectionClose.IsEntry())
}

func TestPositionHelpers(t *testing.T) {
	long := Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100}
	short := Position{Symbol: "TSLA", Quantity: -5, AvgEntryPrice: 200, MarkPrice: 210}

	assert.Equal(t, 1000.0, long.MarketValue())
	assert.Equal(t, 1050.0, short.MarketValue())
	assert.Equal(t, OrderSideSell, long.CloseSide())
	assert.Equal(t, OrderSideBuy, short.CloseSide())
	assert.Equal(t, -3.0, Fill{Side: OrderSideSell, Quantity: 3}.SignedQuantity())
}
