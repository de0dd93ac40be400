package backtest

import (
	"errors"
	"fmt"

	"dcalab/internal/config"
	"dcalab/internal/market"
)

// SimulationFault 表示引擎内部不变量被破坏（如执行时刻早于信号 bar 收盘），
// 属于程序缺陷而非输入问题。
type SimulationFault struct {
	Reason string
}

func (e *SimulationFault) Error() string {
	return "simulation fault: " + e.Reason
}

func simFaultf(format string, v ...any) error {
	return &SimulationFault{Reason: fmt.Sprintf(format, v...)}
}

// Liquidation 表示回测过程中账户保证金被完全耗尽，模拟提前终止。
type Liquidation struct {
	Time  int64
	Price float64
}

func (e *Liquidation) Error() string {
	return fmt.Sprintf("account liquidated at price %.8f", e.Price)
}

// IsConfigError 判断错误是否由策略参数不合法引起。
func IsConfigError(err error) bool {
	var ce *config.ConfigError
	return errors.As(err, &ce)
}

// IsDataError 判断错误是否由输入行情数据引起。
func IsDataError(err error) bool {
	var de *market.DataError
	return errors.As(err, &de)
}

// IsSimulationFault 判断错误是否为引擎内部故障。
func IsSimulationFault(err error) bool {
	var sf *SimulationFault
	return errors.As(err, &sf)
}

// IsLiquidation 判断错误是否为爆仓终止。
func IsLiquidation(err error) bool {
	var lq *Liquidation
	return errors.As(err, &lq)
}

func dataErrorf(format string, v ...any) error {
	return &market.DataError{Reason: fmt.Sprintf(format, v...)}
}
