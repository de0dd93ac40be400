package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcalab/internal/market"
)

const hourMs = int64(60 * 60 * 1000)

func testCandleStore(t *testing.T) *CandleStore {
	t.Helper()
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hourCandle(open int64, price float64) market.Candle {
	return market.Candle{
		OpenTime:  open,
		CloseTime: open + hourMs,
		Open:      price,
		High:      price + 1,
		Low:       price - 1,
		Close:     price,
		Volume:    10,
	}
}

func TestCandleStoreInsertAndRange(t *testing.T) {
	s := testCandleStore(t)
	ctx := context.Background()
	start := int64(1_700_000_000_000)
	start -= start % hourMs

	batch := []market.Candle{
		hourCandle(start, 100),
		hourCandle(start+hourMs, 101),
		hourCandle(start+2*hourMs, 102),
	}
	n, err := s.InsertCandles(ctx, "btc/usdt", "1H", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.RangeCandles(ctx, "BTC/USDT", "1h", start, start+2*hourMs)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, batch, got)

	// 闭区间边界
	got, err = s.RangeCandles(ctx, "BTC/USDT", "1h", start+hourMs, start+hourMs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 101.0, got[0].Open)
}

func TestCandleStoreUpsertOverwrites(t *testing.T) {
	s := testCandleStore(t)
	ctx := context.Background()
	start := int64(1_700_000_000_000)
	start -= start % hourMs

	_, err := s.InsertCandles(ctx, "BTC/USDT", "1h", []market.Candle{hourCandle(start, 100)})
	require.NoError(t, err)

	updated := hourCandle(start, 200)
	_, err = s.InsertCandles(ctx, "BTC/USDT", "1h", []market.Candle{updated})
	require.NoError(t, err)

	got, err := s.RangeCandles(ctx, "BTC/USDT", "1h", start, start+hourMs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 200.0, got[0].Close)
}

func TestCandleStoreManifest(t *testing.T) {
	s := testCandleStore(t)
	ctx := context.Background()
	start := int64(1_700_000_000_000)
	start -= start % hourMs

	_, err := s.InsertCandles(ctx, "eth/usdt", "1h", []market.Candle{
		hourCandle(start, 100),
		hourCandle(start+hourMs, 101),
	})
	require.NoError(t, err)

	m, err := s.Manifest(ctx, "ETH/USDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", m.Symbol)
	assert.Equal(t, "1h", m.Timeframe)
	assert.Equal(t, start, m.MinTime)
	assert.Equal(t, start+hourMs, m.MaxTime)
	assert.Equal(t, int64(2), m.Rows)
	assert.Positive(t, m.LastSyncAt)
	assert.Equal(t, "1h.db", filepath.Base(m.Path))
}

func TestCandleStoreMissingRanges(t *testing.T) {
	s := testCandleStore(t)
	ctx := context.Background()
	start := int64(1_700_000_000_000)
	start -= start % hourMs
	end := start + 5*hourMs

	// 空库：整段缺口
	gaps, err := s.MissingRanges(ctx, "BTC/USDT", "1h", start, end)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, [2]int64{start, end}, gaps[0])

	// 写入第 0、1、4 根，留下中间与末尾两个缺口
	_, err = s.InsertCandles(ctx, "BTC/USDT", "1h", []market.Candle{
		hourCandle(start, 100),
		hourCandle(start+hourMs, 101),
		hourCandle(start+4*hourMs, 104),
	})
	require.NoError(t, err)

	gaps, err = s.MissingRanges(ctx, "BTC/USDT", "1h", start, end)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, [2]int64{start + 2*hourMs, start + 3*hourMs}, gaps[0])
	assert.Equal(t, [2]int64{start + 5*hourMs, end}, gaps[1])

	// 全覆盖后无缺口
	_, err = s.InsertCandles(ctx, "BTC/USDT", "1h", []market.Candle{
		hourCandle(start+2*hourMs, 102),
		hourCandle(start+3*hourMs, 103),
		hourCandle(start+5*hourMs, 105),
	})
	require.NoError(t, err)
	gaps, err = s.MissingRanges(ctx, "BTC/USDT", "1h", start, end)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestCandleStoreRejectsBadArgs(t *testing.T) {
	_, err := NewCandleStore("")
	require.Error(t, err)

	s := testCandleStore(t)
	ctx := context.Background()

	_, err = s.RangeCandles(ctx, "", "1h", 1, 2)
	require.Error(t, err)
	_, err = s.RangeCandles(ctx, "BTC/USDT", "1h", 0, 2)
	require.Error(t, err)
	_, err = s.MissingRanges(ctx, "BTC/USDT", "3m", 1, 2)
	require.Error(t, err)
}
