package ingress

import (
	"context"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// ChannelSource forwards signals from an in-process channel
type ChannelSource struct {
	signals <-chan types.Signal
	handler SignalHandler
}

func NewChannelSource(signals <-chan types.Signal, handler SignalHandler) *ChannelSource {
	return &ChannelSource{signals: signals, handler: handler}
}

// Run forwards until the channel is closed or ctx is done
func (s *ChannelSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-s.signals:
			if !ok {
				return nil
			}
			if err := s.handler(ctx, sig); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
