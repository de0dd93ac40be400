package backtest

import (
	"strings"

	"dcalab/internal/config"
	"dcalab/internal/market"
)

// Simulate 在给定行情上完整运行一次策略模拟。
//
// 单周期模式（execution_timeframe 为空）只传 stratSeries；
// 双周期模式下 execSeries 是细粒度执行序列，时间跨度必须覆盖
// 策略序列。入参校验失败返回 *config.ConfigError 或 *market.DataError，
// 引擎内部不变量破坏返回 *SimulationFault。
func Simulate(strat *config.Strategy, stratSeries, execSeries *market.Series) (*Result, error) {
	if strat == nil {
		return nil, &config.ConfigError{Field: "strategy", Reason: "is required"}
	}
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	if stratSeries == nil || stratSeries.Len() == 0 {
		return nil, dataErrorf("策略序列为空")
	}
	if stratSeries.Timeframe().Key != strat.Timeframe {
		return nil, dataErrorf("策略序列周期 %s 与配置 %s 不符",
			stratSeries.Timeframe().Key, strat.Timeframe)
	}

	if strat.ExecutionTimeframe == "" {
		if execSeries != nil {
			return nil, dataErrorf("未配置 execution_timeframe 却提供了执行序列")
		}
		execSeries = stratSeries
	} else {
		if execSeries == nil || execSeries.Len() == 0 {
			return nil, dataErrorf("双周期模式缺少执行序列")
		}
		if execSeries.Timeframe().Key != strat.ExecutionTimeframe {
			return nil, dataErrorf("执行序列周期 %s 与配置 %s 不符",
				execSeries.Timeframe().Key, strat.ExecutionTimeframe)
		}
		if !strings.EqualFold(execSeries.Symbol(), stratSeries.Symbol()) {
			return nil, dataErrorf("执行序列 symbol %s 与策略序列 %s 不符",
				execSeries.Symbol(), stratSeries.Symbol())
		}
		if !execSeries.Covers(stratSeries) {
			return nil, dataErrorf("执行序列未覆盖策略序列的时间跨度")
		}
	}

	ind := BuildIndicators(stratSeries, strat)
	if stratSeries.Len() <= ind.Warmup() {
		return nil, dataErrorf("策略序列长度 %d 不足以完成 %d 根预热",
			stratSeries.Len(), ind.Warmup())
	}

	d := newDriver(strat, stratSeries, execSeries, ind)
	if err := d.run(); err != nil {
		return nil, err
	}

	res := &Result{
		Symbol:             stratSeries.Symbol(),
		Timeframe:          strat.Timeframe,
		ExecutionTimeframe: strat.ExecutionTimeframe,
		InitialBalance:     strat.InitialBalance,
		FinalBalance:       d.ledger.Balance(),
		Trades:             d.ledger.Trades(),
		Equity:             d.equity,
		Liquidation:        d.liq,
	}
	res.Stats = ComputeStats(res.InitialBalance, res.FinalBalance, res.Trades, res.Equity, d.liq != nil)
	return res, nil
}
