package backtest

import "math"

// RatioCap 是比值型指标（盈亏比、夏普、卡玛）在分母为零时的封顶值，
// 避免 +Inf 污染序列化与排序。
const RatioCap = 1e9

// Stats 汇总一次模拟的绩效指标。数据末尾的强制平仓
// （reason=end_of_data）不计入任何交易统计，只体现在期末余额里。
type Stats struct {
	TotalTrades          int     `json:"total_trades"`
	Wins                 int     `json:"wins"`
	Losses               int     `json:"losses"`
	WinRate              float64 `json:"win_rate"` // 0~100
	NetProfit            float64 `json:"net_profit"`
	ReturnPct            float64 `json:"return_pct"`
	GrossProfit          float64 `json:"gross_profit"`
	GrossLoss            float64 `json:"gross_loss"` // 取正值
	ProfitFactor         float64 `json:"profit_factor"`
	Sharpe               float64 `json:"sharpe"`
	Calmar               float64 `json:"calmar"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`
	AvgTradePnL          float64 `json:"avg_trade_pnl"`
	AvgHoldingMinutes    float64 `json:"avg_holding_minutes"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	FeesPaid             float64 `json:"fees_paid"`
	MaxDCAFills          int     `json:"max_dca_fills"`
	Liquidated           bool    `json:"liquidated"`
}

// ComputeStats 从成交与权益序列计算绩效。
func ComputeStats(initial, final float64, trades []Trade, equity []EquitySample, liquidated bool) Stats {
	st := Stats{Liquidated: liquidated}
	st.NetProfit = final - initial
	if initial > 0 {
		st.ReturnPct = st.NetProfit / initial * 100
	}
	for _, s := range equity {
		if s.DrawdownPct > st.MaxDrawdownPct {
			st.MaxDrawdownPct = s.DrawdownPct
		}
	}

	var returns []float64
	var holdMinutes float64
	curWins, curLosses := 0, 0
	for _, t := range trades {
		st.FeesPaid += t.Fees
		if t.EndOfData() {
			continue
		}
		st.TotalTrades++
		returns = append(returns, t.ReturnPct)
		holdMinutes += float64(t.ExitTime-t.EntryTime) / 60000
		if t.DCAFills > st.MaxDCAFills {
			st.MaxDCAFills = t.DCAFills
		}
		if t.RealizedPnL > 0 {
			st.Wins++
			st.GrossProfit += t.RealizedPnL
			curWins++
			curLosses = 0
		} else {
			st.Losses++
			st.GrossLoss += -t.RealizedPnL
			curLosses++
			curWins = 0
		}
		if curWins > st.MaxConsecutiveWins {
			st.MaxConsecutiveWins = curWins
		}
		if curLosses > st.MaxConsecutiveLosses {
			st.MaxConsecutiveLosses = curLosses
		}
	}
	if st.TotalTrades == 0 {
		return st
	}
	st.WinRate = float64(st.Wins) / float64(st.TotalTrades) * 100
	st.AvgHoldingMinutes = holdMinutes / float64(st.TotalTrades)

	var sumNet float64
	for _, t := range trades {
		if !t.EndOfData() {
			sumNet += t.RealizedPnL
		}
	}
	st.AvgTradePnL = sumNet / float64(st.TotalTrades)

	st.ProfitFactor = cappedRatio(st.GrossProfit, st.GrossLoss)
	st.Sharpe = sharpeOf(returns)
	st.Calmar = cappedRatio(st.ReturnPct, st.MaxDrawdownPct)
	if st.ReturnPct < 0 && st.MaxDrawdownPct == 0 {
		st.Calmar = -RatioCap
	}
	return st
}

// cappedRatio 返回 num/den，den 为零时按 num 符号封顶。
func cappedRatio(num, den float64) float64 {
	if den > 0 {
		return num / den
	}
	switch {
	case num > 0:
		return RatioCap
	case num < 0:
		return -RatioCap
	default:
		return 0
	}
}

// sharpeOf 按逐笔收益率计算夏普（均值/标准差），样本不足返回 0。
func sharpeOf(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		switch {
		case mean > 0:
			return RatioCap
		case mean < 0:
			return -RatioCap
		default:
			return 0
		}
	}
	return mean / std * math.Sqrt(float64(n))
}
