package bybit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

type fakeAPI struct {
	mu        sync.Mutex
	placed    []map[string]interface{}
	placeResp interface{}
	placeErr  error
	positions interface{}
	history   interface{}
}

func (f *fakeAPI) PlaceOrder(_ context.Context, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, params)
	return f.placeResp, f.placeErr
}

func (f *fakeAPI) GetPositionList(context.Context, map[string]interface{}) (interface{}, error) {
	return f.positions, nil
}

func (f *fakeAPI) GetOrderHistory(context.Context, map[string]interface{}) (interface{}, error) {
	return f.history, nil
}

func ok(result map[string]interface{}) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: 0, RetMsg: "OK", Result: result}
}

func TestSubmitMapsOrderRequest(t *testing.T) {
	api := &fakeAPI{placeResp: ok(map[string]interface{}{"orderId": "abc", "orderLinkId": "link-1"})}
	c := newClient(api, Config{QtyPrecision: 2}, nil, nil)

	ack, err := c.Submit(context.Background(), types.OrderRequest{
		ClientOrderID: "link-1",
		Symbol:        "btcusdt",
		Side:          types.OrderSideBuy,
		Quantity:      0.129,
		StopLoss:      58000,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", ack.OrderID)
	assert.Equal(t, "link-1", ack.ClientOrderID)

	require.Len(t, api.placed, 1)
	p := api.placed[0]
	assert.Equal(t, "linear", p["category"])
	assert.Equal(t, "BTCUSDT", p["symbol"])
	assert.Equal(t, "Buy", p["side"])
	assert.Equal(t, "Market", p["orderType"])
	assert.Equal(t, "0.12", p["qty"])
	assert.Equal(t, "58000", p["stopLoss"])
	assert.NotContains(t, p, "reduceOnly")
}

func TestSubmitReduceOnlySkipsProtectiveLegs(t *testing.T) {
	api := &fakeAPI{placeResp: ok(map[string]interface{}{"orderId": "x"})}
	c := newClient(api, Config{}, nil, nil)

	_, err := c.Submit(context.Background(), types.OrderRequest{
		Symbol: "ETHUSDT", Side: types.OrderSideSell, Quantity: 1, ReduceOnly: true, StopLoss: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, true, api.placed[0]["reduceOnly"])
	assert.NotContains(t, api.placed[0], "stopLoss")
}

func TestSubmitRejectsQuantityBelowPrecision(t *testing.T) {
	c := newClient(&fakeAPI{}, Config{QtyPrecision: 2}, nil, nil)
	_, err := c.Submit(context.Background(), types.OrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: 0.001})
	assert.Error(t, err)
}

func TestSubmitSurfacesAPIError(t *testing.T) {
	api := &fakeAPI{placeResp: &bybit_api.ServerResponse{RetCode: ErrCodeInsufficientBalance, RetMsg: "insufficient"}}
	c := newClient(api, Config{}, nil, nil)

	_, err := c.Submit(context.Background(), types.OrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: 1})
	require.Error(t, err)
	assert.True(t, IsRejection(err))

	var be *BybitError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrCodeInsufficientBalance, be.Code)
}

func TestSubmitTracksFill(t *testing.T) {
	api := &fakeAPI{
		placeResp: ok(map[string]interface{}{"orderId": "o-1", "orderLinkId": "l-1"}),
		history: ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{
				"orderId": "o-1", "orderLinkId": "l-1", "symbol": "BTCUSDT", "side": "Buy",
				"orderStatus": "Filled", "cumExecQty": "0.5", "cumExecFee": "1.2", "avgPrice": "60000",
				"updatedTime": "1700000000000",
			},
		}}),
	}
	got := make(chan types.Fill, 1)
	handler := execution.FillHandlerFunc(func(_ context.Context, f types.Fill) error {
		got <- f
		return nil
	})
	c := newClient(api, Config{FillPoll: 5 * time.Millisecond, FillTimeout: time.Second}, handler, nil)

	_, err := c.Submit(context.Background(), types.OrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: 0.5})
	require.NoError(t, err)

	select {
	case f := <-got:
		assert.Equal(t, "o-1", f.OrderID)
		assert.InDelta(t, 0.5, f.Quantity, 1e-9)
		assert.InDelta(t, 60000, f.Price, 1e-9)
		assert.InDelta(t, 1.2, f.Fee, 1e-9)
		assert.Equal(t, int64(1700000000000), f.FilledAt.UnixMilli())
	case <-time.After(time.Second):
		t.Fatal("fill not delivered")
	}
}

func TestListPositionsSignsShorts(t *testing.T) {
	api := &fakeAPI{positions: ok(map[string]interface{}{"list": []interface{}{
		map[string]interface{}{"symbol": "BTCUSDT", "side": "Buy", "size": "0.25", "avgPrice": "60000", "markPrice": "61000"},
		map[string]interface{}{"symbol": "ETHUSDT", "side": "Sell", "size": "2", "avgPrice": "3000", "markPrice": "2900"},
		map[string]interface{}{"symbol": "SOLUSDT", "side": "", "size": "0"},
	}})}
	c := newClient(api, Config{}, nil, nil)

	positions, err := c.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.InDelta(t, 0.25, positions[0].Quantity, 1e-9)
	assert.InDelta(t, -2, positions[1].Quantity, 1e-9)
	assert.InDelta(t, 2900, positions[1].MarkPrice, 1e-9)
}

func TestEnvironment(t *testing.T) {
	assert.Equal(t, "demo", newClient(&fakeAPI{}, Config{Demo: true}, nil, nil).GetEnvironment())
	assert.Equal(t, "testnet", newClient(&fakeAPI{}, Config{Testnet: true}, nil, nil).GetEnvironment())
	assert.Equal(t, "mainnet", newClient(&fakeAPI{}, Config{}, nil, nil).GetEnvironment())
}
