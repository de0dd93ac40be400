package backtest

import (
	"github.com/markcheno/go-talib"

	"dcalab/internal/config"
	"dcalab/internal/market"
)

// IndicatorSet 持有按策略周期预计算的指标序列。
// 预计算一次后整个回测（含寻优的同一数据多次复用）只读访问。
type IndicatorSet struct {
	atr       []float64
	atrPeriod int
	winHigh   []float64
	winLow    []float64
	lookback  int
}

// BuildIndicators 仅计算策略实际用到的指标。
func BuildIndicators(series *market.Series, strat *config.Strategy) *IndicatorSet {
	ind := &IndicatorSet{}
	if series == nil || strat == nil {
		return ind
	}
	n := series.Len()
	needATR := strat.DCA.Enabled && strat.DCA.Step.Kind == config.StepATRBased
	needWindow := strat.Entry.Kind == config.EntryPercentMove
	if !needATR && !needWindow {
		return ind
	}
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range series.Candles() {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	if needATR && n > strat.DCA.Step.ATRPeriod {
		ind.atrPeriod = strat.DCA.Step.ATRPeriod
		ind.atr = talib.Atr(highs, lows, closes, ind.atrPeriod)
	}
	if needWindow && n >= strat.Entry.Lookback {
		ind.lookback = strat.Entry.Lookback
		ind.winHigh = talib.Max(highs, ind.lookback)
		ind.winLow = talib.Min(lows, ind.lookback)
	}
	return ind
}

// ATRAt 返回第 i 根策略 bar 的 ATR，预热期内 ok=false。
func (s *IndicatorSet) ATRAt(i int) (float64, bool) {
	if s == nil || i < 0 || i >= len(s.atr) || i < s.atrPeriod {
		return 0, false
	}
	v := s.atr[i]
	if v <= 0 {
		return 0, false
	}
	return v, true
}

// Window 返回第 i 根策略 bar 所在回看窗口的最高/最低价（含当前 bar）。
func (s *IndicatorSet) Window(i int) (high, low float64, ok bool) {
	if s == nil || i < 0 || i >= len(s.winHigh) || i < s.lookback-1 {
		return 0, 0, false
	}
	return s.winHigh[i], s.winLow[i], true
}

// Warmup 返回指标生效前需要跳过的策略 bar 数。
func (s *IndicatorSet) Warmup() int {
	w := 0
	if s == nil {
		return w
	}
	if s.atrPeriod > 0 && s.atrPeriod > w {
		w = s.atrPeriod
	}
	if s.lookback > 0 && s.lookback-1 > w {
		w = s.lookback - 1
	}
	return w
}
