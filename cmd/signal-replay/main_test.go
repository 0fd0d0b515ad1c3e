package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

func TestReplay(t *testing.T) {
	input := `# demo signals
{"id":"s1","symbol":"BTCUSDT","direction":"long","confidence":0.8,"producer":"momentum-v3","timestamp":"2020-01-01T00:00:00Z"}

{"id":"s2","symbol":"ETHUSDT","direction":"close","confidence":0.6,"producer":"mean-rev-2","timestamp":"2020-01-01T00:00:00Z"}
`
	var got []types.Signal
	sent, err := replay(context.Background(), strings.NewReader(input), rate.NewLimiter(rate.Inf, 1), true,
		func(sig types.Signal) error {
			got = append(got, sig)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[1].ID)
	assert.WithinDuration(t, time.Now(), got[0].Timestamp, time.Minute)
}

func TestReplayBadLine(t *testing.T) {
	sent, err := replay(context.Background(), strings.NewReader("{\"id\":\"s1\"}\nnot json\n"), rate.NewLimiter(rate.Inf, 1), false,
		func(types.Signal) error { return nil })
	assert.Equal(t, 1, sent)
	assert.ErrorContains(t, err, "line 2")
}
