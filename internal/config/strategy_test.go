package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStrategy() Strategy {
	s := Strategy{
		Symbol:         "BTC/USDT",
		Timeframe:      "1h",
		InitialBalance: 10000,
	}
	s.ApplyDefaults()
	return s
}

func TestApplyDefaults(t *testing.T) {
	s := Strategy{
		Symbol:         "BTC/USDT",
		Timeframe:      "1h",
		InitialBalance: 10000,
		Entry:          EntryConfig{Kind: EntryPercentMove, Percent: 2},
		DCA: DCAConfig{
			Enabled:    true,
			Step:       StepConfig{Kind: StepATRBased, ATRMultiplier: 1.5},
			Martingale: MartingaleConfig{Enabled: true, Multiplier: 2},
		},
	}
	s.ApplyDefaults()

	assert.Equal(t, SideLong, s.Side)
	assert.Equal(t, 1.0, s.Leverage)
	assert.Equal(t, 20, s.Entry.Lookback)
	assert.Equal(t, 3, s.DCA.MaxOrders)
	assert.Equal(t, 14, s.DCA.Step.ATRPeriod)
	assert.Equal(t, ProgressionExponential, s.DCA.Martingale.Progression)
	assert.Equal(t, 1, s.MaxOpenPositions())
	require.NoError(t, s.Validate())
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Strategy)
		field  string
	}{
		{"非法方向", func(s *Strategy) { s.Side = "sideways" }, "side"},
		{"初始余额为零", func(s *Strategy) { s.InitialBalance = 0 }, "initial_balance"},
		{"杠杆小于一", func(s *Strategy) { s.Leverage = 0.5 }, "leverage"},
		{"费率越界", func(s *Strategy) { s.FeeRate = 0.2 }, "fee_rate"},
		{"周期未知", func(s *Strategy) { s.Timeframe = "2h" }, "timeframe"},
		{"执行周期粗于策略周期", func(s *Strategy) { s.ExecutionTimeframe = "4h" }, "execution_timeframe"},
		{"执行周期等于策略周期", func(s *Strategy) { s.ExecutionTimeframe = "1h" }, "execution_timeframe"},
		{"percent_move 缺少幅度", func(s *Strategy) { s.Entry = EntryConfig{Kind: EntryPercentMove, Lookback: 20} }, "entry.percent"},
		{"加仓步长为零", func(s *Strategy) { s.DCA = DCAConfig{Enabled: true, MaxOrders: 3, Step: StepConfig{Kind: StepFixedPercent}} }, "dca.step.percent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validStrategy()
			tc.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			if tc.field != "" {
				assert.Equal(t, tc.field, ce.Field)
			}
		})
	}
}

func TestValidateAcceptsDualTimeframe(t *testing.T) {
	s := validStrategy()
	s.ExecutionTimeframe = "1m"
	require.NoError(t, s.Validate())

	// 30m 整除 1h，合法
	s.ExecutionTimeframe = "30m"
	require.NoError(t, s.Validate())
}
