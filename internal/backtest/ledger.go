package backtest

import (
	"dcalab/internal/config"
	"dcalab/internal/market"
)

// Position 是当前持仓的全部可变状态，包括跟踪退出的水位。
type Position struct {
	Side          string
	Quantity      float64
	AvgPrice      float64
	Notional      float64 // 成本口径：Σ price*qty
	Margin        float64 // 已占用保证金
	OpenFees      float64
	BaseNotional  float64 // 首仓名义价值，马丁倍数的基数
	DCACount      int
	LastFillPrice float64
	OpenedAt      int64
	Fills         []Fill

	// 跟踪退出状态：best 为开仓（或最近一次加仓）以来的顺方向极值。
	best    float64
	tpArmed bool
	slArmed bool
}

// unrealized 返回以 price 结算的浮动盈亏（毛值）。
func (p *Position) unrealized(price float64) float64 {
	if p.Side == config.SideShort {
		return (p.AvgPrice - price) * p.Quantity
	}
	return (price - p.AvgPrice) * p.Quantity
}

// liquidationPrice 返回保证金完全亏空的价格。
func (p *Position) liquidationPrice() float64 {
	if p.Quantity <= 0 {
		return 0
	}
	perUnit := p.Margin / p.Quantity
	if p.Side == config.SideShort {
		return p.AvgPrice + perUnit
	}
	return p.AvgPrice - perUnit
}

// Ledger 维护资金账户与单一持仓的状态机，所有资金变动都经由它。
type Ledger struct {
	strat    *config.Strategy
	balance  float64
	pos      *Position
	trades   []Trade
	dayIdx   int64 // UTC 日桶
	dayLoss  float64
	dayBlock bool
}

func NewLedger(strat *config.Strategy) *Ledger {
	return &Ledger{
		strat:   strat,
		balance: strat.InitialBalance,
		dayIdx:  -1,
	}
}

func (l *Ledger) Balance() float64    { return l.balance }
func (l *Ledger) HasPosition() bool   { return l.pos != nil }
func (l *Ledger) Position() *Position { return l.pos }
func (l *Ledger) Trades() []Trade     { return l.trades }

// EquityAt 返回以 price 结算的账户权益。
func (l *Ledger) EquityAt(price float64) float64 {
	eq := l.balance
	if l.pos != nil {
		eq += l.pos.Margin + l.pos.unrealized(price)
	}
	return eq
}

// RollDay 推进 UTC 日桶，跨日时重置当日亏损额度。
func (l *Ledger) RollDay(ts int64) {
	day := ts / market.DayMillis
	if day != l.dayIdx {
		l.dayIdx = day
		l.dayLoss = 0
		l.dayBlock = false
	}
}

// EntriesAllowed 判断当日是否还允许开新仓。
func (l *Ledger) EntriesAllowed() bool { return !l.dayBlock }

// OpenPosition 尝试开首仓，资金不足时静默放弃并返回 false。
func (l *Ledger) OpenPosition(ts int64, price float64) bool {
	if l.pos != nil || price <= 0 {
		return false
	}
	notional := baseOrderNotional(l.strat, l.balance)
	return l.fill(ts, price, notional, "base")
}

// AddSafetyOrder 尝试按当前马丁倍数加仓，资金不足时放弃。
func (l *Ledger) AddSafetyOrder(ts int64, price float64) bool {
	if l.pos == nil || price <= 0 {
		return false
	}
	if l.pos.DCACount >= l.strat.DCA.MaxOrders {
		return false
	}
	ratio := martingaleRatio(l.strat.DCA.Martingale, l.pos.DCACount+1)
	return l.fill(ts, price, l.pos.BaseNotional*ratio, "dca")
}

func (l *Ledger) fill(ts int64, price, notional float64, kind string) bool {
	if notional <= 0 {
		return false
	}
	fee := notional * l.strat.FeeRate
	margin := notional / l.strat.Leverage
	if margin+fee > l.balance {
		return false
	}
	qty := notional / price
	l.balance -= margin + fee
	f := Fill{Time: ts, Price: price, Quantity: qty, Notional: notional, Fee: fee, Kind: kind}
	if l.pos == nil {
		l.pos = &Position{
			Side:          l.strat.Side,
			Quantity:      qty,
			AvgPrice:      price,
			Notional:      notional,
			Margin:        margin,
			OpenFees:      fee,
			BaseNotional:  notional,
			DCACount:      0,
			LastFillPrice: price,
			OpenedAt:      ts,
			Fills:         []Fill{f},
		}
		return true
	}
	p := l.pos
	p.Quantity += qty
	p.Notional += notional
	p.AvgPrice = p.Notional / p.Quantity
	p.Margin += margin
	p.OpenFees += fee
	p.DCACount++
	p.LastFillPrice = price
	p.Fills = append(p.Fills, f)
	// 均价移动后跟踪水位作废，重新激活。
	p.best = 0
	p.tpArmed = false
	p.slArmed = false
	return true
}

// ClosePosition 以 price 全平持仓并结算到余额。
func (l *Ledger) ClosePosition(ts int64, price float64, reason string) Trade {
	p := l.pos
	gross := p.unrealized(price)
	closeFee := price * p.Quantity * l.strat.FeeRate
	l.balance += p.Margin + gross - closeFee
	t := l.settle(p, ts, price, gross, closeFee, reason)
	l.pos = nil
	return t
}

// Liquidate 在持仓保证金亏空时强制平仓：保证金归零、不退回。
func (l *Ledger) Liquidate(ts int64) Trade {
	p := l.pos
	price := p.liquidationPrice()
	t := l.settle(p, ts, price, -p.Margin, 0, ReasonLiquidation)
	l.pos = nil
	return t
}

func (l *Ledger) settle(p *Position, ts int64, price, gross, closeFee float64, reason string) Trade {
	fees := p.OpenFees + closeFee
	net := gross - fees
	t := Trade{
		Side:          p.Side,
		EntryTime:     p.OpenedAt,
		ExitTime:      ts,
		AvgEntryPrice: p.AvgPrice,
		ExitPrice:     price,
		Quantity:      p.Quantity,
		Notional:      p.Notional,
		Margin:        p.Margin,
		Fees:          fees,
		GrossPnL:      gross,
		RealizedPnL:   net,
		DCAFills:      p.DCACount,
		Reason:        reason,
		Fills:         p.Fills,
	}
	if p.Margin > 0 {
		t.ReturnPct = net / p.Margin * 100
	}
	l.trades = append(l.trades, t)
	l.recordDayLoss(net)
	return t
}

func (l *Ledger) recordDayLoss(net float64) {
	if net >= 0 {
		return
	}
	l.dayLoss += -net
	limit := l.strat.Risk.DailyLossLimit
	if limit > 0 && l.dayLoss >= l.strat.InitialBalance*limit/100 {
		l.dayBlock = true
	}
}
