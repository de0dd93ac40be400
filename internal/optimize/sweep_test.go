package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
	"dcalab/internal/market"
)

func hourlySeries(t *testing.T, n int) *market.Series {
	t.Helper()
	const hourMs = int64(60 * 60 * 1000)
	start := int64(1_700_000_000_000)
	start -= start % hourMs
	candles := make([]market.Candle, n)
	for i := range candles {
		open := start + int64(i)*hourMs
		candles[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs,
			Open:      100,
			High:      100,
			Low:       100,
			Close:     100,
			Volume:    1,
		}
	}
	s, err := market.NewSeries("BTC/USDT", "1h", candles)
	require.NoError(t, err)
	return s
}

func sweepStrategy() *config.Strategy {
	s := &config.Strategy{
		Symbol:         "BTC/USDT",
		Timeframe:      "1h",
		InitialBalance: 10000,
		// 止盈远高于行情波动，保证没有完整成交样本
		TakeProfit: config.ExitLeg{Enabled: true, Percent: 50},
	}
	s.ApplyDefaults()
	return s
}

func TestRunSweepDeterministicBest(t *testing.T) {
	series := hourlySeries(t, 48)
	req := Request{
		Base: sweepStrategy(),
		Grid: Grid{
			{Path: "side", Values: []any{"long", "both"}},
			{Path: "take_profit.percent", Values: []any{50.0, 60.0}},
		},
		StratSeries: series,
		Workers:     4,
	}

	first, err := Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Trials, 4)

	// 前两组正常跑完但样本不足，后两组参数非法直接沉底
	assert.Equal(t, ScoreTooFewTrades, first.Trials[0].Score)
	assert.Equal(t, ScoreTooFewTrades, first.Trials[1].Score)
	assert.Equal(t, ScoreFailed, first.Trials[2].Score)
	assert.Equal(t, ScoreFailed, first.Trials[3].Score)
	assert.NotEmpty(t, first.Trials[2].Err)
	assert.NotNil(t, first.Trials[0].Result)
	assert.Nil(t, first.Trials[2].Result)

	// 并列最优取序号最小者
	require.NotNil(t, first.Best)
	assert.Equal(t, 0, first.Best.Index)

	second, err := Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, second.Trials, 4)
	assert.Equal(t, first.Best.Index, second.Best.Index)
	for i := range first.Trials {
		assert.Equal(t, first.Trials[i].Score, second.Trials[i].Score, "trial %d", i)
		assert.Equal(t, first.Trials[i].Params, second.Trials[i].Params, "trial %d", i)
	}
}

func TestRunSweepValidatesRequest(t *testing.T) {
	series := hourlySeries(t, 8)

	_, err := Run(context.Background(), Request{Grid: Grid{{Path: "leverage", Values: []any{1.0}}}, StratSeries: series})
	require.Error(t, err)
	assert.True(t, backtest.IsConfigError(err))

	_, err = Run(context.Background(), Request{Base: sweepStrategy(), StratSeries: series})
	require.Error(t, err)
	assert.True(t, backtest.IsConfigError(err))

	_, err = Run(context.Background(), Request{
		Base:        sweepStrategy(),
		Grid:        Grid{{Path: "leverage", Values: []any{1.0, 2.0, 3.0}}},
		StratSeries: series,
		MaxTrials:   2,
	})
	require.Error(t, err)
}
