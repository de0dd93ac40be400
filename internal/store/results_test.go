package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
)

func testResultStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult() *backtest.Result {
	return &backtest.Result{
		Symbol:         "BTC/USDT",
		Timeframe:      "1h",
		InitialBalance: 10000,
		FinalBalance:   10500,
		Trades: []backtest.Trade{
			{Side: "long", RealizedPnL: 500, ReturnPct: 10, Reason: backtest.ReasonTakeProfit},
		},
		Equity: []backtest.EquitySample{{Time: 1, Equity: 10000}, {Time: 2, Equity: 10500}},
		Stats: backtest.Stats{
			TotalTrades:  1,
			Wins:         1,
			WinRate:      100,
			NetProfit:    500,
			ReturnPct:    5,
			ProfitFactor: backtest.RatioCap,
			Sharpe:       0,
		},
	}
}

func TestResultStoreSaveGetDelete(t *testing.T) {
	s := testResultStore(t)
	ctx := context.Background()

	rec := &RunRecord{
		ID:        "run-1",
		Kind:      RunKindBacktest,
		Status:    RunStatusPending,
		Symbol:    "BTC/USDT",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, got.Status)

	// Save 整体覆盖
	got.Status = RunStatusDone
	got.FinalBalance = 10500
	require.NoError(t, s.SaveRun(ctx, got))
	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, again.Status)
	assert.Equal(t, 10500.0, again.FinalBalance)

	require.NoError(t, s.DeleteRun(ctx, "run-1"))
	_, err = s.GetRun(ctx, "run-1")
	require.Error(t, err)

	require.Error(t, s.SaveRun(ctx, &RunRecord{}), "缺少 ID 的记录不落库")
}

func TestResultStoreListFiltersByKind(t *testing.T) {
	s := testResultStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, kind := range []string{RunKindBacktest, RunKindSweep, RunKindBacktest} {
		rec := &RunRecord{
			ID:        []string{"a", "b", "c"}[i],
			Kind:      kind,
			Status:    RunStatusDone,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveRun(ctx, rec))
	}

	all, err := s.ListRuns(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// 创建时间倒序
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	sweeps, err := s.ListRuns(ctx, RunKindSweep, 0, 0)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "b", sweeps[0].ID)

	paged, err := s.ListRuns(ctx, RunKindBacktest, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "a", paged[0].ID)
}

func TestRunRecordFillFromResult(t *testing.T) {
	res := sampleResult()
	strat := &config.Strategy{Name: "demo", Symbol: "BTC/USDT", Timeframe: "1h", InitialBalance: 10000}
	strat.ApplyDefaults()

	rec := &RunRecord{ID: "run-2", Kind: RunKindBacktest}
	require.NoError(t, rec.FillFromResult(strat, res, false))

	assert.Equal(t, "BTC/USDT", rec.Symbol)
	assert.Equal(t, "demo", rec.StrategyName)
	assert.Equal(t, 10500.0, rec.FinalBalance)
	assert.Equal(t, 5.0, rec.ReturnPct)
	assert.Equal(t, 1, rec.TradeCount)
	assert.False(t, rec.Liquidated)
	assert.Empty(t, rec.Equity, "keepEquity=false 时不保存权益曲线")

	var trades []backtest.Trade
	require.NoError(t, json.Unmarshal(rec.Trades, &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, backtest.ReasonTakeProfit, trades[0].Reason)

	require.NoError(t, rec.FillFromResult(strat, res, true))
	var equity []backtest.EquitySample
	require.NoError(t, json.Unmarshal(rec.Equity, &equity))
	assert.Len(t, equity, 2)
}
