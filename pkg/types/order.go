package types

import "time"

// OrderSide mirrors the exchange side names
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// Opposite returns the side that would reduce a position opened with s
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderRequest is what the core hands to the execution collaborator
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	DecisionID    string    `json:"decision_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	// ReferencePrice is the signal's entry price, used for slippage checks and paper fills
	ReferencePrice float64 `json:"reference_price,omitempty"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	TakeProfit     float64 `json:"take_profit,omitempty"`
	ReduceOnly     bool    `json:"reduce_only"`
	Reason         string  `json:"reason,omitempty"`
}

// OrderAck is the collaborator's acknowledgement of a submitted order
type OrderAck struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Fill is a confirmed execution reported back by the collaborator
type Fill struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	FilledAt      time.Time `json:"filled_at"`
}

// SignedQuantity returns the fill quantity, negative for sells
func (f Fill) SignedQuantity() float64 {
	if f.Side == OrderSideSell {
		return -f.Quantity
	}
	return f.Quantity
}

// Position is a net holding in one symbol. Quantity is signed: negative means short.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

// MarketValue returns the absolute notional of the position at its mark (or entry) price
func (p Position) MarketValue() float64 {
	price := p.MarkPrice
	if price == 0 {
		price = p.AvgEntryPrice
	}
	v := p.Quantity * price
	if v < 0 {
		return -v
	}
	return v
}

// CloseSide returns the order side that flattens the position
func (p Position) CloseSide() OrderSide {
	if p.Quantity < 0 {
		return OrderSideBuy
	}
	return OrderSideSell
}
