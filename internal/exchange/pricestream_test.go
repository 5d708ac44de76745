package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPriceStreamRestart(t *testing.T) {
	// Unroutable endpoint: the run loop just cycles through dial failures.
	s := NewPriceStream("ws://127.0.0.1:9/stream")

	s.Start()
	s.Stop()

	// A second start/stop round must not reuse the closed stop channel.
	s.Start()
	s.Stop()

	// Stopping an already-stopped stream is a no-op.
	s.Stop()
}

func TestPriceStreamCachesFreshTicks(t *testing.T) {
	s := NewPriceStream(DefaultStreamURL)

	s.handleMessage([]byte(`[{"s":"BTCUSDT","c":"27123.45"},{"s":"ETHUSDT","c":"1850.10"}]`))

	price, ok := s.Price("BTCUSDT")
	require.True(t, ok)
	require.True(t, price.Equal(decimal.RequireFromString("27123.45")))

	_, ok = s.Price("DOGEUSDT")
	require.False(t, ok)
}

func TestPriceStreamExpiresStaleTicks(t *testing.T) {
	s := NewPriceStream(DefaultStreamURL)

	s.mu.Lock()
	s.ticks["BTCUSDT"] = tick{price: decimal.NewFromInt(27000), at: time.Now().Add(-time.Minute)}
	s.mu.Unlock()

	_, ok := s.Price("BTCUSDT")
	require.False(t, ok)
}

func TestPriceStreamIgnoresMalformedFrames(t *testing.T) {
	s := NewPriceStream(DefaultStreamURL)

	s.handleMessage([]byte(`{"e":"error frame"}`))
	s.handleMessage([]byte(`[{"s":"BTCUSDT","c":"not a number"}]`))

	_, ok := s.Price("BTCUSDT")
	require.False(t, ok)
}
