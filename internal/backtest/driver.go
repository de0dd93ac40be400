package backtest

import (
	"dcalab/internal/config"
	"dcalab/internal/market"
)

// calc_on_order_fills 同一根 bar 内最多允许的连锁成交轮数，
// 防止 开仓->止盈->再开仓 无限循环。
const maxFillPasses = 4

// driver 驱动执行周期 bar 逐根推进：信号取自已收盘的策略 bar，
// 成交发生在执行 bar 上，保证任何决策都不引用未来数据。
type driver struct {
	strat       *config.Strategy
	stratSeries *market.Series
	execSeries  *market.Series
	ind         *IndicatorSet
	ledger      *Ledger

	equity []EquitySample
	peak   float64
	liq    *Liquidation
}

func newDriver(strat *config.Strategy, stratSeries, execSeries *market.Series, ind *IndicatorSet) *driver {
	return &driver{
		strat:       strat,
		stratSeries: stratSeries,
		execSeries:  execSeries,
		ind:         ind,
		ledger:      NewLedger(strat),
		peak:        strat.InitialBalance,
	}
}

func (d *driver) run() error {
	warmup := d.ind.Warmup()
	parent, prevParent := -1, -1
	for e := 0; e < d.execSeries.Len(); e++ {
		bar := d.execSeries.At(e)
		for parent+1 < d.stratSeries.Len() && d.stratSeries.At(parent+1).CloseTime <= bar.OpenTime {
			parent++
		}
		if parent >= 0 && d.stratSeries.At(parent).CloseTime > bar.OpenTime {
			return simFaultf("parent bar close %d after exec bar open %d",
				d.stratSeries.At(parent).CloseTime, bar.OpenTime)
		}
		newParent := parent != prevParent
		prevParent = parent
		d.ledger.RollDay(bar.OpenTime)
		if parent >= warmup {
			d.processBar(bar, parent, newParent)
			if d.liq != nil {
				d.sampleEquity(bar)
				return nil
			}
		}
		d.sampleEquity(bar)
		d.checkMaxDrawdown(bar)
	}
	if d.ledger.HasPosition() {
		last := d.execSeries.Last()
		d.ledger.ClosePosition(last.CloseTime, last.Close, ReasonEndOfData)
		d.resample(last)
	}
	return nil
}

// processBar 在单根执行 bar 内按 平仓 -> 爆仓 -> 加仓 -> 开仓 的
// 优先级处理，calc_on_order_fills 开启时允许同 bar 连锁成交。
// ref 是 bar 内价格游标：首轮为开盘价，之后为上一笔成交价，
// 链式成交只能发生在已经走到的价格上。
// 空仓时开仓信号只在新父级 bar 收盘后的首根执行 bar 评估一次，
// 后续的再开仓只能走 calc_on_order_fills 的链式通道。
func (d *driver) processBar(bar market.Candle, parent int, newParent bool) {
	ref := bar.Open
	for pass := 0; pass < maxFillPasses; pass++ {
		var price float64
		var filled bool
		switch {
		case d.ledger.HasPosition():
			price, filled = d.processOpenPosition(bar, parent, ref)
		case newParent || pass > 0:
			price, filled = d.tryEnter(bar, parent, ref)
		default:
			return
		}
		if !filled || d.liq != nil || !d.strat.CalcOnOrderFills {
			return
		}
		ref = price
	}
}

func (d *driver) processOpenPosition(bar market.Candle, parent int, ref float64) (float64, bool) {
	p := d.ledger.Position()
	liqPrice := p.liquidationPrice()
	if price, reason, ok := d.exitCheck(p, bar, ref); ok {
		// 退出成交价越过爆仓价时保证金已先耗尽，按爆仓价结算
		if liqPrice > 0 && lossTargetHit(p.Side, price, liqPrice) {
			return d.liquidate(bar.OpenTime, liqPrice)
		}
		d.ledger.ClosePosition(bar.OpenTime, price, reason)
		return price, true
	}
	if liqPrice > 0 && lossTargetHit(p.Side, adverseExtreme(bar, p.Side), liqPrice) {
		return d.liquidate(bar.OpenTime, liqPrice)
	}
	return d.tryDCA(p, bar, parent, ref)
}

func (d *driver) liquidate(ts int64, liqPrice float64) (float64, bool) {
	d.ledger.Liquidate(ts)
	if d.ledger.Balance() <= 0 {
		d.liq = &Liquidation{Time: ts, Price: liqPrice}
	}
	return liqPrice, true
}

func (d *driver) tryEnter(bar market.Candle, parent int, ref float64) (float64, bool) {
	if !d.ledger.EntriesAllowed() {
		return 0, false
	}
	signalClose := d.stratSeries.At(parent).Close
	if !shouldEnter(d.strat, d.ind, parent, signalClose) {
		return 0, false
	}
	if !d.ledger.OpenPosition(bar.OpenTime, ref) {
		return 0, false
	}
	return ref, true
}

func (d *driver) tryDCA(p *Position, bar market.Candle, parent int, ref float64) (float64, bool) {
	if !d.strat.DCA.Enabled || p.DCACount >= d.strat.DCA.MaxOrders {
		return 0, false
	}
	stepPct, ok := resolveStepPercent(d.strat, d.ind, parent, p.DCACount, p.LastFillPrice)
	if !ok {
		return 0, false
	}
	trigger := dcaTriggerPrice(p.Side, p.LastFillPrice, stepPct)
	if trigger <= 0 || !lossTargetHit(p.Side, adverseExtreme(bar, p.Side), trigger) {
		return 0, false
	}
	price := fillAdverse(p.Side, ref, trigger)
	if !d.ledger.AddSafetyOrder(bar.OpenTime, price) {
		return 0, false
	}
	return price, true
}

// exitCheck 判断当前 bar 是否触发退出，同 bar 双向触达时取悲观
// 路径：先亏损方向（硬止损、跟踪止损），后盈利方向。
func (d *driver) exitCheck(p *Position, bar market.Candle, ref float64) (price float64, reason string, ok bool) {
	fav := favorableExtreme(bar, p.Side)
	adv := adverseExtreme(bar, p.Side)
	prevBest := p.best
	sl := d.strat.StopLoss
	tp := d.strat.TakeProfit

	// 硬止损
	if sl.Enabled && !sl.Trailing.Enabled {
		hard := adverseTarget(p.AvgPrice, sl.Percent/100, p.Side)
		if lossTargetHit(p.Side, adv, hard) {
			return fillAdverse(p.Side, ref, hard), ReasonStopLoss, true
		}
	}
	// 跟踪止损：激活前退化为硬止损
	if sl.Enabled && sl.Trailing.Enabled {
		if !p.slArmed {
			act := relativeTarget(p.AvgPrice, activationPct(sl)/100, p.Side)
			if profitTargetHit(p.Side, fav, act) {
				p.slArmed = true
			}
			hard := adverseTarget(p.AvgPrice, sl.Percent/100, p.Side)
			if lossTargetHit(p.Side, adv, hard) {
				return fillAdverse(p.Side, ref, hard), ReasonStopLoss, true
			}
		} else if prevBest > 0 {
			stop := trailingStopFor(p.Side, prevBest, sl.Trailing.TrailPercent/100)
			if lossTargetHit(p.Side, adv, stop) {
				d.updateWatermark(p, fav)
				return fillAdverse(p.Side, ref, stop), ReasonTrailingStopLoss, true
			}
		}
	}
	// 跟踪止盈：触达激活价后随极值回撤触发
	if tp.Enabled && tp.Trailing.Enabled {
		if !p.tpArmed {
			act := relativeTarget(p.AvgPrice, activationPct(tp)/100, p.Side)
			if profitTargetHit(p.Side, fav, act) {
				p.tpArmed = true
			}
		} else if prevBest > 0 {
			stop := trailingStopFor(p.Side, prevBest, tp.Trailing.TrailPercent/100)
			if lossTargetHit(p.Side, adv, stop) {
				d.updateWatermark(p, fav)
				return fillAdverse(p.Side, ref, stop), ReasonTrailingTakeProfit, true
			}
		}
	}
	// 硬止盈
	if tp.Enabled && !tp.Trailing.Enabled {
		target := relativeTarget(p.AvgPrice, tp.Percent/100, p.Side)
		if profitTargetHit(p.Side, fav, target) {
			return fillFavorable(p.Side, ref, target), ReasonTakeProfit, true
		}
	}
	d.updateWatermark(p, fav)
	return 0, "", false
}

func (d *driver) updateWatermark(p *Position, fav float64) {
	if !p.tpArmed && !p.slArmed {
		return
	}
	if p.best <= 0 || betterPrice(p.Side, fav, p.best) {
		p.best = fav
	}
}

// activationPct 返回跟踪退出的激活距离，未显式配置时沿用该侧的百分比。
func activationPct(leg config.ExitLeg) float64 {
	if leg.Trailing.ActivationPercent > 0 {
		return leg.Trailing.ActivationPercent
	}
	return leg.Percent
}

func (d *driver) sampleEquity(bar market.Candle) {
	eq := d.ledger.EquityAt(bar.Close)
	if eq > d.peak {
		d.peak = eq
	}
	dd := 0.0
	if d.peak > 0 {
		dd = (d.peak - eq) / d.peak * 100
	}
	d.equity = append(d.equity, EquitySample{
		Time:        bar.CloseTime,
		Equity:      eq,
		Balance:     d.ledger.Balance(),
		DrawdownPct: dd,
	})
}

// checkMaxDrawdown 持仓浮亏相对持仓成本越限时强平当前持仓，模拟继续运行。
func (d *driver) checkMaxDrawdown(bar market.Candle) {
	limit := d.strat.Risk.MaxDrawdownPercent
	if limit <= 0 || !d.ledger.HasPosition() {
		return
	}
	p := d.ledger.Position()
	loss := -p.unrealized(bar.Close)
	if loss <= 0 || p.Notional <= 0 {
		return
	}
	if loss/p.Notional*100 >= limit {
		d.ledger.ClosePosition(bar.CloseTime, bar.Close, ReasonMaxDrawdown)
		d.resample(bar)
	}
}

// resample 用平仓后的余额覆盖当前 bar 的权益采样。
func (d *driver) resample(bar market.Candle) {
	if len(d.equity) == 0 {
		d.sampleEquity(bar)
		return
	}
	last := &d.equity[len(d.equity)-1]
	eq := d.ledger.EquityAt(bar.Close)
	if eq > d.peak {
		d.peak = eq
	}
	last.Equity = eq
	last.Balance = d.ledger.Balance()
	if d.peak > 0 {
		last.DrawdownPct = (d.peak - eq) / d.peak * 100
	}
}

func favorableExtreme(bar market.Candle, side string) float64 {
	if side == config.SideShort {
		return bar.Low
	}
	return bar.High
}

func adverseExtreme(bar market.Candle, side string) float64 {
	if side == config.SideShort {
		return bar.High
	}
	return bar.Low
}

// fillAdverse 返回亏损方向穿越 target 时的成交价：开盘已越过则按开盘成交。
func fillAdverse(side string, open, target float64) float64 {
	if lossTargetHit(side, open, target) {
		return open
	}
	return target
}

// fillFavorable 返回盈利方向穿越 target 时的成交价。
func fillFavorable(side string, open, target float64) float64 {
	if profitTargetHit(side, open, target) {
		return open
	}
	return target
}
