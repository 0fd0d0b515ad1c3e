package bybit

import (
	"context"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

type positionListResult struct {
	List []struct {
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		Size           string `json:"size"`
		AvgPrice       string `json:"avgPrice"`
		MarkPrice      string `json:"markPrice"`
		UnrealisedPnl  string `json:"unrealisedPnl"`
		CumRealisedPnl string `json:"cumRealisedPnl"`
		CreatedTime    string `json:"createdTime"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// ListPositions implements execution.PositionSource. Sizes are signed: Sell positions are negative.
func (c *Client) ListPositions(ctx context.Context) ([]types.Position, error) {
	var positions []types.Position
	cursor := ""
	for {
		params := map[string]interface{}{
			"category":   c.cfg.Category,
			"settleCoin": "USDT",
			"limit":      200,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var res positionListResult
		if err := c.call(ctx, "position list", func() (interface{}, error) { return c.api.GetPositionList(ctx, params) }, &res); err != nil {
			return nil, err
		}

		for _, p := range res.List {
			size := parseDecimal(p.Size)
			if size == 0 {
				continue
			}
			if p.Side == "Sell" {
				size = -size
			}
			positions = append(positions, types.Position{
				Symbol:        p.Symbol,
				Quantity:      size,
				AvgEntryPrice: parseDecimal(p.AvgPrice),
				MarkPrice:     parseDecimal(p.MarkPrice),
				UnrealizedPnL: parseDecimal(p.UnrealisedPnl),
				RealizedPnL:   parseDecimal(p.CumRealisedPnl),
				OpenedAt:      parseTimestamp(p.CreatedTime),
			})
		}

		if res.NextPageCursor == "" || len(res.List) == 0 {
			break
		}
		cursor = res.NextPageCursor
	}
	return positions, nil
}
