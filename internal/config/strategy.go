package config

import (
	"fmt"
	"strings"

	"dcalab/internal/market"
)

// ConfigError 表示策略配置不合法，携带具体字段路径。
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid strategy config: %s %s", e.Field, e.Reason)
}

func badField(field, format string, v ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, v...)}
}

// 方向与枚举常量。百分比字段一律以 0~100 的人类可读单位存储，
// 费率（fee_rate）例外，存储为单边成交比例（0.0005 = 0.05%）。
const (
	SideLong  = "long"
	SideShort = "short"

	EntryImmediate   = "immediate"
	EntryPercentMove = "percent_move"

	StepFixedPercent   = "fixed_percent"
	StepDynamicPercent = "dynamic_percent"
	StepATRBased       = "atr_based"

	ProgressionExponential = "exponential"
	ProgressionLinear      = "linear"
	ProgressionFibonacci   = "fibonacci"
)

// Strategy 是单资产 DCA 策略的完整参数集。
type Strategy struct {
	Name               string           `json:"name" yaml:"name"`
	Symbol             string           `json:"symbol" yaml:"symbol"`
	Side               string           `json:"side" yaml:"side"`
	Timeframe          string           `json:"timeframe" yaml:"timeframe"`
	ExecutionTimeframe string           `json:"execution_timeframe" yaml:"execution_timeframe"` // 空串表示单周期回测
	InitialBalance     float64          `json:"initial_balance" yaml:"initial_balance"`
	Leverage           float64          `json:"leverage" yaml:"leverage"`
	FeeRate            float64          `json:"fee_rate" yaml:"fee_rate"`
	Entry              EntryConfig      `json:"entry" yaml:"entry"`
	FirstOrder         FirstOrderConfig `json:"first_order" yaml:"first_order"`
	DCA                DCAConfig        `json:"dca" yaml:"dca"`
	TakeProfit         ExitLeg          `json:"take_profit" yaml:"take_profit"`
	StopLoss           ExitLeg          `json:"stop_loss" yaml:"stop_loss"`
	Risk               RiskConfig       `json:"risk" yaml:"risk"`
	CalcOnOrderFills   bool             `json:"calc_on_order_fills" yaml:"calc_on_order_fills"`
}

// EntryConfig 决定何时开首仓。
type EntryConfig struct {
	Kind     string  `json:"kind" yaml:"kind"`
	Percent  float64 `json:"percent" yaml:"percent"`   // percent_move 模式下回看窗口内的最小波动
	Lookback int     `json:"lookback" yaml:"lookback"` // percent_move 模式的回看根数
}

// FirstOrderConfig 决定首仓规模，优先级 fixed > risk > percent。
type FirstOrderConfig struct {
	AmountFixed   float64 `json:"amount_fixed" yaml:"amount_fixed"`     // 直接给定名义价值 (USD)
	RiskPercent   float64 `json:"risk_percent" yaml:"risk_percent"`     // 按止损距离反推仓位
	AmountPercent float64 `json:"amount_percent" yaml:"amount_percent"` // 余额百分比（乘杠杆）
}

type DCAConfig struct {
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	MaxOrders  int              `json:"max_orders" yaml:"max_orders"`
	Step       StepConfig       `json:"step" yaml:"step"`
	Martingale MartingaleConfig `json:"martingale" yaml:"martingale"`
}

// StepConfig 决定相邻加仓之间的价距。
type StepConfig struct {
	Kind              string  `json:"kind" yaml:"kind"`
	Percent           float64 `json:"percent" yaml:"percent"`
	DynamicMultiplier float64 `json:"dynamic_multiplier" yaml:"dynamic_multiplier"`
	ATRMultiplier     float64 `json:"atr_multiplier" yaml:"atr_multiplier"`
	ATRPeriod         int     `json:"atr_period" yaml:"atr_period"`
}

type MartingaleConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
	Progression string  `json:"progression" yaml:"progression"`
}

// ExitLeg 描述止盈或止损一侧的退出规则。
type ExitLeg struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Percent  float64        `json:"percent" yaml:"percent"` // 相对持仓均价的距离
	Trailing TrailingConfig `json:"trailing" yaml:"trailing"`
}

type TrailingConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	ActivationPercent float64 `json:"activation_percent" yaml:"activation_percent"`
	TrailPercent      float64 `json:"trail_percent" yaml:"trail_percent"`
}

type RiskConfig struct {
	MaxDrawdownPercent float64 `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
	DailyLossLimit     float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"` // 占初始余额百分比
	MaxOpenPositions   int     `json:"max_open_positions" yaml:"max_open_positions"`
}

// ApplyDefaults 填充未设置字段，之后仍需调用 Validate。
func (s *Strategy) ApplyDefaults() {
	if strings.TrimSpace(s.Side) == "" {
		s.Side = SideLong
	}
	if strings.TrimSpace(s.Entry.Kind) == "" {
		s.Entry.Kind = EntryImmediate
	}
	if s.Entry.Kind == EntryPercentMove && s.Entry.Lookback <= 0 {
		s.Entry.Lookback = 20
	}
	if s.Leverage <= 0 {
		s.Leverage = 1
	}
	if s.DCA.Enabled {
		if strings.TrimSpace(s.DCA.Step.Kind) == "" {
			s.DCA.Step.Kind = StepFixedPercent
		}
		if s.DCA.MaxOrders <= 0 {
			s.DCA.MaxOrders = 3
		}
		if s.DCA.Step.Kind == StepATRBased && s.DCA.Step.ATRPeriod <= 0 {
			s.DCA.Step.ATRPeriod = 14
		}
	}
	if s.DCA.Martingale.Enabled && strings.TrimSpace(s.DCA.Martingale.Progression) == "" {
		s.DCA.Martingale.Progression = ProgressionExponential
	}
	if s.MaxOpenPositions() <= 0 {
		s.Risk.MaxOpenPositions = 1
	}
}

// MaxOpenPositions 目前单资产引擎固定为 1，字段保留给多仓扩展。
func (s *Strategy) MaxOpenPositions() int {
	return s.Risk.MaxOpenPositions
}

// Validate 逐字段校验，首个问题即返回 *ConfigError。
func (s *Strategy) Validate() error {
	switch s.Side {
	case SideLong, SideShort:
	default:
		return badField("side", "must be long or short, got %q", s.Side)
	}
	if s.InitialBalance <= 0 {
		return badField("initial_balance", "must be > 0")
	}
	if s.Leverage < 1 {
		return badField("leverage", "must be >= 1")
	}
	if s.FeeRate < 0 || s.FeeRate >= 0.1 {
		return badField("fee_rate", "must be in [0, 0.1)")
	}
	tf, err := market.ParseTimeframe(s.Timeframe)
	if err != nil {
		return badField("timeframe", "%v", err)
	}
	if s.ExecutionTimeframe != "" {
		exec, err := market.ParseTimeframe(s.ExecutionTimeframe)
		if err != nil {
			return badField("execution_timeframe", "%v", err)
		}
		if exec.Duration >= tf.Duration {
			return badField("execution_timeframe", "%s must be finer than timeframe %s", exec.Key, tf.Key)
		}
		if tf.Duration%exec.Duration != 0 {
			return badField("execution_timeframe", "%s does not evenly divide %s", exec.Key, tf.Key)
		}
	}
	if err := s.Entry.validate(); err != nil {
		return err
	}
	if err := s.FirstOrder.validate(); err != nil {
		return err
	}
	if err := s.DCA.validate(); err != nil {
		return err
	}
	if err := s.TakeProfit.validate("take_profit"); err != nil {
		return err
	}
	if err := s.StopLoss.validate("stop_loss"); err != nil {
		return err
	}
	if err := s.Risk.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EntryConfig) validate() error {
	switch e.Kind {
	case EntryImmediate:
	case EntryPercentMove:
		if e.Percent <= 0 {
			return badField("entry.percent", "must be > 0 for percent_move")
		}
		if e.Lookback < 2 {
			return badField("entry.lookback", "must be >= 2")
		}
	default:
		return badField("entry.kind", "must be immediate or percent_move, got %q", e.Kind)
	}
	return nil
}

func (f *FirstOrderConfig) validate() error {
	if f.AmountFixed < 0 {
		return badField("first_order.amount_fixed", "must be >= 0")
	}
	if f.RiskPercent < 0 || f.RiskPercent > 100 {
		return badField("first_order.risk_percent", "must be in [0, 100]")
	}
	if f.AmountPercent < 0 || f.AmountPercent > 100 {
		return badField("first_order.amount_percent", "must be in [0, 100]")
	}
	return nil
}

func (d *DCAConfig) validate() error {
	if !d.Enabled {
		return nil
	}
	if d.MaxOrders < 1 {
		return badField("dca.max_orders", "must be >= 1")
	}
	switch d.Step.Kind {
	case StepFixedPercent:
		if d.Step.Percent <= 0 {
			return badField("dca.step.percent", "must be > 0")
		}
	case StepDynamicPercent:
		if d.Step.Percent <= 0 {
			return badField("dca.step.percent", "must be > 0")
		}
		if d.Step.DynamicMultiplier <= 0 {
			return badField("dca.step.dynamic_multiplier", "must be > 0")
		}
	case StepATRBased:
		if d.Step.ATRMultiplier <= 0 {
			return badField("dca.step.atr_multiplier", "must be > 0")
		}
		if d.Step.ATRPeriod < 2 {
			return badField("dca.step.atr_period", "must be >= 2")
		}
	default:
		return badField("dca.step.kind", "must be fixed_percent, dynamic_percent or atr_based, got %q", d.Step.Kind)
	}
	if d.Martingale.Enabled {
		if d.Martingale.Multiplier <= 0 {
			return badField("dca.martingale.multiplier", "must be > 0")
		}
		switch d.Martingale.Progression {
		case ProgressionExponential, ProgressionLinear, ProgressionFibonacci:
		default:
			return badField("dca.martingale.progression",
				"must be exponential, linear or fibonacci, got %q", d.Martingale.Progression)
		}
	}
	return nil
}

func (l *ExitLeg) validate(field string) error {
	if !l.Enabled {
		return nil
	}
	if l.Percent <= 0 || l.Percent >= 100 {
		return badField(field+".percent", "must be in (0, 100)")
	}
	if l.Trailing.Enabled {
		if l.Trailing.ActivationPercent < 0 {
			return badField(field+".trailing.activation_percent", "must be >= 0")
		}
		if l.Trailing.TrailPercent <= 0 || l.Trailing.TrailPercent >= 100 {
			return badField(field+".trailing.trail_percent", "must be in (0, 100)")
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxDrawdownPercent < 0 || r.MaxDrawdownPercent >= 100 {
		return badField("risk.max_drawdown_percent", "must be in [0, 100)")
	}
	if r.DailyLossLimit < 0 || r.DailyLossLimit >= 100 {
		return badField("risk.daily_loss_limit", "must be in [0, 100)")
	}
	if r.MaxOpenPositions < 0 {
		return badField("risk.max_open_positions", "must be >= 0")
	}
	return nil
}
