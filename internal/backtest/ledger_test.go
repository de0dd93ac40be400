package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcalab/internal/config"
	"dcalab/internal/market"
)

func ledgerStrategy() *config.Strategy {
	s := &config.Strategy{
		Symbol:         "BTC/USDT",
		Side:           config.SideLong,
		Timeframe:      "1h",
		InitialBalance: 10000,
		Leverage:       2,
		FeeRate:        0.001,
		FirstOrder:     config.FirstOrderConfig{AmountFixed: 1000},
		DCA: config.DCAConfig{
			Enabled:    true,
			MaxOrders:  3,
			Step:       config.StepConfig{Kind: config.StepFixedPercent, Percent: 2},
			Martingale: config.MartingaleConfig{Enabled: true, Multiplier: 2, Progression: config.ProgressionExponential},
		},
	}
	s.ApplyDefaults()
	return s
}

func TestLedgerOpenAndCloseReconciles(t *testing.T) {
	strat := ledgerStrategy()
	l := NewLedger(strat)

	require.True(t, l.OpenPosition(0, 100))
	p := l.Position()
	require.NotNil(t, p)
	assert.InDelta(t, 10.0, p.Quantity, 1e-9)         // 1000 名义 / 100
	assert.InDelta(t, 500.0, p.Margin, 1e-9)          // 杠杆 2
	assert.InDelta(t, 1.0, p.OpenFees, 1e-9)          // 1000 * 0.001
	assert.InDelta(t, 10000-501, l.Balance(), 1e-9)   // 保证金 + 开仓费

	trade := l.ClosePosition(60_000, 105, ReasonTakeProfit)
	assert.InDelta(t, 50.0, trade.GrossPnL, 1e-9)
	closeFee := 105.0 * 10 * 0.001
	assert.InDelta(t, 50-1-closeFee, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, trade.RealizedPnL/500*100, trade.ReturnPct, 1e-9)

	// 逐笔净盈亏之和等于余额变动
	assert.InDelta(t, 10000+trade.RealizedPnL, l.Balance(), 1e-9)
	assert.False(t, l.HasPosition())
}

func TestLedgerMartingaleSizing(t *testing.T) {
	strat := ledgerStrategy()
	l := NewLedger(strat)

	require.True(t, l.OpenPosition(0, 100))
	require.True(t, l.AddSafetyOrder(60_000, 98))
	require.True(t, l.AddSafetyOrder(120_000, 96))

	p := l.Position()
	require.Len(t, p.Fills, 3)
	assert.InDelta(t, 1000.0, p.Fills[0].Notional, 1e-9)
	assert.InDelta(t, 2000.0, p.Fills[1].Notional, 1e-9)
	assert.InDelta(t, 4000.0, p.Fills[2].Notional, 1e-9)
	assert.Equal(t, 2, p.DCACount)
	assert.Equal(t, 96.0, p.LastFillPrice)
	assert.InDelta(t, p.Notional/p.Quantity, p.AvgPrice, 1e-9)

	require.True(t, l.AddSafetyOrder(180_000, 94))
	assert.False(t, l.AddSafetyOrder(240_000, 92), "超出 max_orders 应被拒绝")
}

func TestLedgerRejectsUnderfundedFill(t *testing.T) {
	strat := ledgerStrategy()
	strat.InitialBalance = 400 // 首仓需要 501
	l := NewLedger(strat)
	assert.False(t, l.OpenPosition(0, 100))
	assert.False(t, l.HasPosition())
	assert.Equal(t, 400.0, l.Balance())
}

func TestLedgerLiquidationWipesMargin(t *testing.T) {
	strat := ledgerStrategy()
	strat.Leverage = 10
	strat.FeeRate = 0
	l := NewLedger(strat)

	require.True(t, l.OpenPosition(0, 100))
	p := l.Position()
	assert.InDelta(t, 90.0, p.liquidationPrice(), 1e-9) // 100 - (100/10)

	balBefore := l.Balance()
	trade := l.Liquidate(60_000)
	assert.Equal(t, ReasonLiquidation, trade.Reason)
	assert.InDelta(t, -p.Margin, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, balBefore, l.Balance(), 1e-9, "保证金不退回")
	assert.InDelta(t, strat.InitialBalance+trade.RealizedPnL, l.Balance(), 1e-9)
}

func TestLedgerDailyLossBlock(t *testing.T) {
	strat := ledgerStrategy()
	strat.FeeRate = 0
	strat.Risk.DailyLossLimit = 5 // 初始余额的 5% = 500

	l := NewLedger(strat)
	l.RollDay(0)

	require.True(t, l.OpenPosition(0, 100))
	l.ClosePosition(60_000, 40, ReasonStopLoss) // 亏 600 > 500
	assert.False(t, l.EntriesAllowed())

	// 跨 UTC 日后解除
	l.RollDay(market.DayMillis)
	assert.True(t, l.EntriesAllowed())
}

func TestLedgerEquityAt(t *testing.T) {
	strat := ledgerStrategy()
	strat.FeeRate = 0
	l := NewLedger(strat)

	assert.InDelta(t, 10000.0, l.EquityAt(123), 1e-9)
	require.True(t, l.OpenPosition(0, 100))
	// 权益 = 余额 + 保证金 + 浮盈
	assert.InDelta(t, 10000+10*2, l.EquityAt(102), 1e-9)
	assert.InDelta(t, 10000-10*5, l.EquityAt(95), 1e-9)
}
