package optimize

import "dcalab/internal/backtest"

// 打分哨兵值：不满足硬性门槛的组合直接沉底，且彼此可区分。
const (
	ScoreUnprofitable = -999999.0 // 不盈利（盈亏比<1 或收益<=0）或爆仓
	ScoreTooFewTrades = -888888.0 // 成交样本不足
	ScoreFailed       = -9999999.0
)

// 样本少于该笔数的组合不具备统计意义。
const minTradesForScore = 5

// 进入乘法打分前对比值指标封顶，防止 RatioCap 哨兵值支配排序。
const (
	scorePFCap     = 1000.0
	scoreSharpeCap = 10.0
)

// Score 把一次回测压缩为单个可比分数。
// 基础分 = 盈利笔数 × 胜率 × 盈亏比，夏普 >1 给予最多一倍加成，
// 回撤超过 20% 起按超出幅度衰减（最多减半）。
func Score(st backtest.Stats) float64 {
	if st.Liquidated {
		return ScoreUnprofitable
	}
	if st.TotalTrades < minTradesForScore {
		return ScoreTooFewTrades
	}
	if st.ProfitFactor < 1 || st.ReturnPct <= 0 {
		return ScoreUnprofitable
	}
	pf := st.ProfitFactor
	if pf > scorePFCap {
		pf = scorePFCap
	}
	score := float64(st.Wins) * (st.WinRate / 100) * pf
	if st.Sharpe > 1 {
		sharpe := st.Sharpe
		if sharpe > scoreSharpeCap {
			sharpe = scoreSharpeCap
		}
		score *= 1 + sharpe/scoreSharpeCap
	}
	if st.MaxDrawdownPct > 20 {
		penalty := (st.MaxDrawdownPct - 20) / 100
		if penalty > 0.5 {
			penalty = 0.5
		}
		score *= 1 - penalty
	}
	return score
}
