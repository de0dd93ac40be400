package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteCandles(startTS int64, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			OpenTime: startTS + int64(i)*60_000,
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1,
		}
	}
	return out
}

func TestNewSeriesNormalizesCloseTime(t *testing.T) {
	candles := minuteCandles(0, 100, 101, 102)
	candles[1].CloseTime = 119_999 // 数据源常见的 -1ms 口径

	s, err := NewSeries("BTC/USDT", "1m", candles)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	for i := 0; i < s.Len(); i++ {
		c := s.At(i)
		assert.Equal(t, c.OpenTime+60_000, c.CloseTime)
	}
}

func TestNewSeriesRejectsBadInput(t *testing.T) {
	base := minuteCandles(0, 100, 101, 102)

	t.Run("空序列", func(t *testing.T) {
		_, err := NewSeries("BTC/USDT", "1m", nil)
		var de *DataError
		require.ErrorAs(t, err, &de)
	})

	t.Run("未知周期", func(t *testing.T) {
		_, err := NewSeries("BTC/USDT", "2m", base)
		require.Error(t, err)
	})

	t.Run("high 低于 low", func(t *testing.T) {
		bad := minuteCandles(0, 100, 101)
		bad[1].High = 90
		bad[1].Low = 110
		_, err := NewSeries("BTC/USDT", "1m", bad)
		var de *DataError
		require.ErrorAs(t, err, &de)
	})

	t.Run("时间乱序", func(t *testing.T) {
		bad := minuteCandles(0, 100, 101)
		bad[1].OpenTime = 0
		_, err := NewSeries("BTC/USDT", "1m", bad)
		require.Error(t, err)
	})

	t.Run("存在缺口", func(t *testing.T) {
		bad := minuteCandles(0, 100, 101)
		bad[1].OpenTime = 180_000
		_, err := NewSeries("BTC/USDT", "1m", bad)
		require.Error(t, err)
	})
}

func TestNewSeriesDoesNotAliasInput(t *testing.T) {
	candles := minuteCandles(0, 100, 101)
	s, err := NewSeries("BTC/USDT", "1m", candles)
	require.NoError(t, err)
	candles[0].Close = 999
	assert.Equal(t, 100.0, s.At(0).Close)
}

func TestSeriesCovers(t *testing.T) {
	fine, err := NewSeries("BTC/USDT", "1m", minuteCandles(0, make60(100)...))
	require.NoError(t, err)
	coarse, err := fine.Resample("1h")
	require.NoError(t, err)

	assert.True(t, fine.Covers(coarse))
	assert.True(t, coarse.Covers(fine))

	shifted, err := NewSeries("BTC/USDT", "1m", minuteCandles(60_000, make60(100)...))
	require.NoError(t, err)
	assert.False(t, shifted.Covers(coarse))
}

func TestResampleAggregatesOHLCV(t *testing.T) {
	closes := make60(100)
	candles := minuteCandles(0, closes...)
	candles[10].High = 130
	candles[20].Low = 70
	candles[59].Close = 111

	fine, err := NewSeries("ETH/USDT", "1m", candles)
	require.NoError(t, err)
	hourly, err := fine.Resample("1h")
	require.NoError(t, err)

	require.Equal(t, 1, hourly.Len())
	bar := hourly.At(0)
	assert.Equal(t, int64(0), bar.OpenTime)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 130.0, bar.High)
	assert.Equal(t, 70.0, bar.Low)
	assert.Equal(t, 111.0, bar.Close)
	assert.Equal(t, 60.0, bar.Volume)
}

func TestResampleRejectsFinerOrUnevenTarget(t *testing.T) {
	hourly, err := NewSeries("BTC/USDT", "1h", []Candle{
		{OpenTime: 0, Open: 1, High: 1, Low: 1, Close: 1},
		{OpenTime: 3_600_000, Open: 1, High: 1, Low: 1, Close: 1},
	})
	require.NoError(t, err)

	_, err = hourly.Resample("1m")
	require.Error(t, err)
}

func make60(v float64) []float64 {
	out := make([]float64, 60)
	for i := range out {
		out[i] = v
	}
	return out
}
