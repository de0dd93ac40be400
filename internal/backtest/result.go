package backtest

// 平仓原因。
const (
	ReasonTakeProfit         = "take_profit"
	ReasonStopLoss           = "stop_loss"
	ReasonTrailingTakeProfit = "trailing_take_profit"
	ReasonTrailingStopLoss   = "trailing_stop_loss"
	ReasonLiquidation        = "liquidation"
	ReasonMaxDrawdown        = "max_drawdown"
	ReasonEndOfData          = "end_of_data"
)

// Fill 记录持仓内的一次成交。
type Fill struct {
	Time     int64   `json:"time"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Notional float64 `json:"notional"`
	Fee      float64 `json:"fee"`
	Kind     string  `json:"kind"` // base / dca
}

// Trade 是一次完整持仓（首仓 + 全部加仓 + 平仓）的结算记录。
// RealizedPnL 为净值：毛利减去开平两侧全部手续费，
// 因此 Σ RealizedPnL == 期末余额 - 期初余额 恒成立。
type Trade struct {
	Side          string  `json:"side"`
	EntryTime     int64   `json:"entry_time"`
	ExitTime      int64   `json:"exit_time"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	ExitPrice     float64 `json:"exit_price"`
	Quantity      float64 `json:"quantity"`
	Notional      float64 `json:"notional"`
	Margin        float64 `json:"margin"`
	Fees          float64 `json:"fees"`
	GrossPnL      float64 `json:"gross_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	ReturnPct     float64 `json:"return_pct"` // 相对占用保证金
	DCAFills      int     `json:"dca_fills"`
	Reason        string  `json:"reason"`
	Fills         []Fill  `json:"fills,omitempty"`
}

// EndOfData 表示该笔为数据末尾强制平仓，不计入统计。
func (t Trade) EndOfData() bool { return t.Reason == ReasonEndOfData }

// EquitySample 是每根执行 bar 收盘时的权益采样。
type EquitySample struct {
	Time        int64   `json:"time"`
	Equity      float64 `json:"equity"`
	Balance     float64 `json:"balance"`
	DrawdownPct float64 `json:"drawdown_pct"`
}

// Result 是一次模拟的完整产出。
type Result struct {
	Symbol             string         `json:"symbol"`
	Timeframe          string         `json:"timeframe"`
	ExecutionTimeframe string         `json:"execution_timeframe,omitempty"`
	InitialBalance     float64        `json:"initial_balance"`
	FinalBalance       float64        `json:"final_balance"`
	Trades             []Trade        `json:"trades"`
	Equity             []EquitySample `json:"equity,omitempty"`
	Stats              Stats          `json:"stats"`
	Liquidation        *Liquidation   `json:"liquidation,omitempty"`
}
