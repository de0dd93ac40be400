package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"dcalab/internal/config"
)

// 价格阈值比较统一走 decimal，避免 float 累积误差把
// "恰好触达" 判成未触达。

var (
	decOne      = decimal.NewFromInt(1)
	decimalZero = decimal.Zero
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// relativeTarget 返回 entry 沿盈利方向偏移 pct（小数）的价格。
func relativeTarget(entry, pct float64, side string) float64 {
	if entry <= 0 || side == "" {
		return 0
	}
	base := decFromFloat(entry)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	switch side {
	case config.SideShort:
		factor = decOne.Sub(pctDec)
	default:
		factor = decOne.Add(pctDec)
	}
	return decToFloat(base.Mul(factor))
}

// adverseTarget 返回 entry 沿亏损方向偏移 pct（小数）的价格。
func adverseTarget(entry, pct float64, side string) float64 {
	if entry <= 0 || side == "" {
		return 0
	}
	base := decFromFloat(entry)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	switch side {
	case config.SideShort:
		factor = decOne.Add(pctDec)
	default:
		factor = decOne.Sub(pctDec)
	}
	return decToFloat(base.Mul(factor))
}

// profitTargetHit 判断价格是否触达盈利方向目标。
func profitTargetHit(side string, price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	switch side {
	case config.SideShort:
		return decimalLTE(price, target)
	default:
		return decimalGTE(price, target)
	}
}

// lossTargetHit 判断价格是否触达亏损方向目标。
func lossTargetHit(side string, price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	switch side {
	case config.SideShort:
		return decimalGTE(price, target)
	default:
		return decimalLTE(price, target)
	}
}

// betterPrice 判断 price 是否优于 anchor（顺持仓方向）。
func betterPrice(side string, price, anchor float64) bool {
	if price <= 0 || anchor <= 0 {
		return false
	}
	switch side {
	case config.SideShort:
		return decimalCompare(price, anchor) < 0
	default:
		return decimalCompare(price, anchor) > 0
	}
}

// trailingStopFor 返回锚点价回撤 pct（小数）后的跟踪触发价。
func trailingStopFor(side string, anchor, pct float64) float64 {
	if anchor <= 0 || pct <= 0 {
		return 0
	}
	base := decFromFloat(anchor)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	switch side {
	case config.SideShort:
		factor = decOne.Add(pctDec)
	default:
		factor = decOne.Sub(pctDec)
	}
	return decToFloat(base.Mul(factor))
}
