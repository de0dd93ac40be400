package datasource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcalab/internal/market"
)

func TestToExchangeSymbol(t *testing.T) {
	assert.Equal(t, "ETHUSDT", toExchangeSymbol("eth/usdt"))
	assert.Equal(t, "BTCUSDT", toExchangeSymbol(" BTC/USDT:USDT "))
	assert.Equal(t, "SOLUSDT", toExchangeSymbol("SOLUSDT"))
	assert.Equal(t, "", toExchangeSymbol("  "))
}

func TestDropUnclosed(t *testing.T) {
	const step = int64(60 * 60 * 1000)
	now := time.Now().UnixMilli()
	aligned := now - now%step

	closed := market.Candle{OpenTime: aligned - step, CloseTime: aligned - 1}
	open := market.Candle{OpenTime: aligned, CloseTime: aligned + step - 1}

	got := dropUnclosed([]market.Candle{closed, open}, step)
	require.Len(t, got, 1)
	assert.Equal(t, closed.OpenTime, got[0].OpenTime)

	assert.Empty(t, dropUnclosed([]market.Candle{open}, step))
	assert.Empty(t, dropUnclosed(nil, step))
}

func TestNewBinanceSourceDefaults(t *testing.T) {
	s, err := NewBinanceSource(Config{})
	require.NoError(t, err)
	assert.Equal(t, "https://fapi.binance.com", s.cfg.RESTBaseURL)
	assert.Equal(t, 15*time.Second, s.cfg.HTTPTimeout)

	_, err = NewBinanceSource(Config{ProxyEnabled: true, ProxyURL: "://bad"})
	require.Error(t, err)
}
