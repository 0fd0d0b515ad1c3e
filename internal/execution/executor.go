// Package execution defines the boundary between the core and whatever
// actually places orders, and provides a paper implementation.
package execution

import (
	"context"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// Executor submits orders to a broker. Submit returns once the order is
// acknowledged; fills arrive later through a FillHandler.
type Executor interface {
	Submit(ctx context.Context, order types.OrderRequest) (types.OrderAck, error)
}

// PositionSource lists positions as a venue or the ledger sees them
type PositionSource interface {
	ListPositions(ctx context.Context) ([]types.Position, error)
}

// FillHandler receives fill confirmations
type FillHandler interface {
	ApplyFill(ctx context.Context, fill types.Fill) error
}

// FillHandlerFunc adapts a function to FillHandler
type FillHandlerFunc func(ctx context.Context, fill types.Fill) error

func (f FillHandlerFunc) ApplyFill(ctx context.Context, fill types.Fill) error {
	return f(ctx, fill)
}
