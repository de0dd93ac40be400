package backtest

import (
	"math"

	"dcalab/internal/config"
)

// 首仓默认使用余额的 10%（乘杠杆），与未配置任何 sizing 字段时的兜底一致。
const defaultBalancePercent = 10.0

// shouldEnter 判断第 i 根策略 bar 收盘后是否触发开仓信号。
// percent_move 模式做的是逆势接针：做多要求价格自窗口高点
// 回落足够幅度，做空要求价格自窗口低点拉升足够幅度。
func shouldEnter(strat *config.Strategy, ind *IndicatorSet, i int, close float64) bool {
	switch strat.Entry.Kind {
	case config.EntryImmediate:
		return true
	case config.EntryPercentMove:
		high, low, ok := ind.Window(i)
		if !ok || close <= 0 {
			return false
		}
		if strat.Side == config.SideShort {
			if low <= 0 {
				return false
			}
			move := (close - low) / low * 100
			return decimalGTE(move, strat.Entry.Percent)
		}
		if high <= 0 {
			return false
		}
		move := (high - close) / high * 100
		return decimalGTE(move, strat.Entry.Percent)
	default:
		return false
	}
}

// martingaleRatio 返回第 orderIndex 笔成交（0 为首仓）相对首仓的规模倍数。
//
//	exponential: 1, m, m², m³ ...
//	linear:      1, 1+m, 1+2m, 1+3m ...
//	fibonacci:   1, 1, 2, 3, 5 ...（忽略 multiplier）
func martingaleRatio(m config.MartingaleConfig, orderIndex int) float64 {
	if orderIndex <= 0 {
		return 1
	}
	if !m.Enabled {
		return 1
	}
	switch m.Progression {
	case config.ProgressionLinear:
		return 1 + m.Multiplier*float64(orderIndex)
	case config.ProgressionFibonacci:
		return fibTerm(orderIndex + 1)
	default: // exponential
		return math.Pow(m.Multiplier, float64(orderIndex))
	}
}

// fibTerm 返回斐波那契数列第 n 项（fib(1)=fib(2)=1）。
func fibTerm(n int) float64 {
	if n <= 2 {
		return 1
	}
	a, b := 1.0, 1.0
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// resolveStepPercent 返回下一笔加仓距上一成交价的触发距离（百分比）。
// dynamic_percent 随加仓次数几何放大，atr_based 依赖信号 bar 的 ATR。
func resolveStepPercent(strat *config.Strategy, ind *IndicatorSet, barIdx, dcaCount int, lastFill float64) (float64, bool) {
	step := strat.DCA.Step
	switch step.Kind {
	case config.StepFixedPercent:
		return step.Percent, step.Percent > 0
	case config.StepDynamicPercent:
		pct := step.Percent * math.Pow(step.DynamicMultiplier, float64(dcaCount))
		return pct, pct > 0
	case config.StepATRBased:
		atr, ok := ind.ATRAt(barIdx)
		if !ok || lastFill <= 0 {
			return 0, false
		}
		pct := atr * step.ATRMultiplier / lastFill * 100
		return pct, pct > 0
	default:
		return 0, false
	}
}

// dcaTriggerPrice 返回下一笔加仓的限价触发价，始终位于亏损方向。
func dcaTriggerPrice(side string, lastFill, stepPct float64) float64 {
	return adverseTarget(lastFill, stepPct/100, side)
}

// baseOrderNotional 按优先级 fixed > risk > percent 计算首仓名义价值，
// 全部未配置时退回余额 10%。based-on-risk 需要止损距离，止损未启用时
// 顺位降级到 percent 路径。
func baseOrderNotional(strat *config.Strategy, balance float64) float64 {
	fo := strat.FirstOrder
	if fo.AmountFixed > 0 {
		return fo.AmountFixed
	}
	if fo.RiskPercent > 0 && strat.StopLoss.Enabled && strat.StopLoss.Percent > 0 {
		riskAmount := balance * fo.RiskPercent / 100
		return riskAmount / (strat.StopLoss.Percent / 100)
	}
	if fo.AmountPercent > 0 {
		return balance * fo.AmountPercent / 100 * strat.Leverage
	}
	return balance * defaultBalancePercent / 100 * strat.Leverage
}
