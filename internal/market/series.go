package market

import "fmt"

// DataError 表示输入行情数据不满足回测前置条件（为空、乱序、缺口等）。
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return "data error: " + e.Reason
}

func dataErrorf(format string, v ...any) error {
	return &DataError{Reason: fmt.Sprintf(format, v...)}
}

// Series 是单一 symbol + 周期的只读 K 线序列。
// 构造时校验时间严格递增且无缺口，之后不再修改；
// CloseTime 统一归一化为 OpenTime + 周期长度，消除数据源毫秒偏差。
type Series struct {
	symbol  string
	tf      Timeframe
	candles []Candle
}

// NewSeries 校验并构造序列，校验失败返回 *DataError。
func NewSeries(symbol, timeframe string, candles []Candle) (*Series, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, dataErrorf("周期无效: %v", err)
	}
	if len(candles) == 0 {
		return nil, dataErrorf("%s %s 序列为空", symbol, tf.Key)
	}
	step := tf.DurationMillis()
	owned := make([]Candle, len(candles))
	copy(owned, candles)
	for i := range owned {
		c := &owned[i]
		if c.High < c.Low {
			return nil, dataErrorf("%s %s 第 %d 根 K 线 high<low", symbol, tf.Key, i)
		}
		if i > 0 {
			prev := owned[i-1].OpenTime
			switch d := c.OpenTime - prev; {
			case d <= 0:
				return nil, dataErrorf("%s %s 时间未严格递增: idx=%d", symbol, tf.Key, i)
			case d != step:
				return nil, dataErrorf("%s %s 存在缺口: idx=%d 间隔=%dms 期望=%dms", symbol, tf.Key, i, d, step)
			}
		}
		c.CloseTime = c.OpenTime + step
	}
	return &Series{symbol: symbol, tf: tf, candles: owned}, nil
}

func (s *Series) Symbol() string       { return s.symbol }
func (s *Series) Timeframe() Timeframe { return s.tf }
func (s *Series) Len() int             { return len(s.candles) }

// At 返回第 i 根 K 线，越界属于调用方程序错误。
func (s *Series) At(i int) Candle { return s.candles[i] }

// Candles 返回底层切片，调用方不得修改。
func (s *Series) Candles() []Candle { return s.candles }

func (s *Series) First() Candle { return s.candles[0] }
func (s *Series) Last() Candle  { return s.candles[len(s.candles)-1] }

// Covers 判断 s 的时间跨度是否覆盖 other（相同或超集）。
func (s *Series) Covers(other *Series) bool {
	if other == nil || other.Len() == 0 || s.Len() == 0 {
		return false
	}
	return s.First().OpenTime <= other.First().OpenTime &&
		s.Last().CloseTime >= other.Last().CloseTime
}

// Resample 将细粒度序列聚合为粗粒度序列（OHLC 取首/极值/尾，volume 求和）。
// 目标周期必须是当前周期的整数倍。
func (s *Series) Resample(timeframe string) (*Series, error) {
	target, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, dataErrorf("目标周期无效: %v", err)
	}
	srcStep := s.tf.DurationMillis()
	dstStep := target.DurationMillis()
	if dstStep < srcStep || dstStep%srcStep != 0 {
		return nil, dataErrorf("无法将 %s 聚合为 %s", s.tf.Key, target.Key)
	}
	if dstStep == srcStep {
		return NewSeries(s.symbol, target.Key, s.candles)
	}
	var out []Candle
	for _, c := range s.candles {
		bucket := alignDown(c.OpenTime, dstStep)
		if len(out) == 0 || out[len(out)-1].OpenTime != bucket {
			out = append(out, Candle{
				OpenTime: bucket,
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			})
			continue
		}
		last := &out[len(out)-1]
		if c.High > last.High {
			last.High = c.High
		}
		if c.Low < last.Low {
			last.Low = c.Low
		}
		last.Close = c.Close
		last.Volume += c.Volume
	}
	return NewSeries(s.symbol, target.Key, out)
}
