package bybit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderHistoryResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderStatus string `json:"orderStatus"`
		CumExecQty  string `json:"cumExecQty"`
		CumExecFee  string `json:"cumExecFee"`
		AvgPrice    string `json:"avgPrice"`
		UpdatedTime string `json:"updatedTime"`
	} `json:"list"`
}

// FormatQty truncates qty to the configured precision
func (c *Client) FormatQty(qty float64) string {
	return decimal.NewFromFloat(qty).Truncate(c.cfg.QtyPrecision).String()
}

// Submit implements execution.Executor
func (c *Client) Submit(ctx context.Context, order types.OrderRequest) (types.OrderAck, error) {
	qty := c.FormatQty(order.Quantity)
	if d, _ := decimal.NewFromString(qty); !d.IsPositive() {
		return types.OrderAck{}, fmt.Errorf("order quantity %.8f rounds to zero at precision %d", order.Quantity, c.cfg.QtyPrecision)
	}
	if order.Type == "" {
		order.Type = types.OrderTypeMarket
	}

	params := map[string]interface{}{
		"category":  c.cfg.Category,
		"symbol":    strings.ToUpper(order.Symbol),
		"side":      string(order.Side),
		"orderType": string(order.Type),
		"qty":       qty,
	}
	if order.Type == types.OrderTypeLimit {
		params["price"] = decimal.NewFromFloat(order.LimitPrice).String()
		params["timeInForce"] = "GTC"
	}
	if order.ClientOrderID != "" {
		params["orderLinkId"] = order.ClientOrderID
	}
	if order.ReduceOnly {
		params["reduceOnly"] = true
	}
	if order.StopLoss > 0 && !order.ReduceOnly {
		params["stopLoss"] = decimal.NewFromFloat(order.StopLoss).String()
	}
	if order.TakeProfit > 0 && !order.ReduceOnly {
		params["takeProfit"] = decimal.NewFromFloat(order.TakeProfit).String()
	}

	var res orderResult
	if err := c.call(ctx, "place order", func() (interface{}, error) { return c.api.PlaceOrder(ctx, params) }, &res); err != nil {
		return types.OrderAck{}, err
	}

	ack := types.OrderAck{
		OrderID:       res.OrderID,
		ClientOrderID: res.OrderLinkID,
		Status:        "New",
		SubmittedAt:   time.Now(),
	}
	c.log.Info("order placed: %s %s %s (order %s, link %s)", order.Side, qty, order.Symbol, res.OrderID, res.OrderLinkID)

	if c.fills != nil {
		go c.trackFill(order, ack)
	}
	return ack, nil
}

// trackFill polls order history until the order is filled, cancelled or the fill timeout passes
func (c *Client) trackFill(order types.OrderRequest, ack types.OrderAck) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FillTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.FillPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.LogWarning("fill tracking", "order %s not filled within %s", ack.OrderID, c.cfg.FillTimeout)
			return
		case <-ticker.C:
			fill, done, err := c.fetchFill(ctx, order, ack)
			if err != nil {
				c.log.LogError("fetch fill "+ack.OrderID, err)
				continue
			}
			if !done {
				continue
			}
			if fill != nil {
				if err := c.fills.ApplyFill(ctx, *fill); err != nil {
					c.log.LogError("apply fill "+ack.OrderID, err)
				}
			}
			return
		}
	}
}

// fetchFill returns the fill once the order reached a terminal state
func (c *Client) fetchFill(ctx context.Context, order types.OrderRequest, ack types.OrderAck) (*types.Fill, bool, error) {
	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   strings.ToUpper(order.Symbol),
		"orderId":  ack.OrderID,
	}
	var res orderHistoryResult
	if err := c.call(ctx, "order history", func() (interface{}, error) { return c.api.GetOrderHistory(ctx, params) }, &res); err != nil {
		return nil, false, err
	}

	for _, o := range res.List {
		if o.OrderID != ack.OrderID {
			continue
		}
		switch o.OrderStatus {
		case "Filled", "PartiallyFilledCanceled", "Cancelled", "Rejected", "Deactivated":
			qty := parseDecimal(o.CumExecQty)
			if qty <= 0 {
				return nil, true, nil
			}
			return &types.Fill{
				OrderID:       o.OrderID,
				ClientOrderID: o.OrderLinkID,
				Symbol:        o.Symbol,
				Side:          types.OrderSide(o.Side),
				Quantity:      qty,
				Price:         parseDecimal(o.AvgPrice),
				Fee:           parseDecimal(o.CumExecFee),
				FilledAt:      parseTimestamp(o.UpdatedTime),
			}, true, nil
		}
	}
	return nil, false, nil
}

func parseDecimal(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func parseTimestamp(ms string) time.Time {
	d, err := decimal.NewFromString(ms)
	if err != nil || d.IsZero() {
		return time.Now()
	}
	return time.UnixMilli(d.IntPart())
}
