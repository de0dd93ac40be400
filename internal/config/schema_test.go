package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategyJSONTopLevel(t *testing.T) {
	doc := []byte(`{
		"symbol": "BTC/USDT",
		"timeframe": "1h",
		"execution_timeframe": "1m",
		"initial_balance": 10000,
		"leverage": 3,
		"dca": {
			"enabled": true,
			"step": {"kind": "fixed_percent", "percent": 2},
			"martingale": {"enabled": true, "multiplier": 2}
		}
	}`)
	strat, err := ParseStrategyJSON(doc)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", strat.Symbol)
	assert.Equal(t, SideLong, strat.Side)
	assert.Equal(t, 3, strat.DCA.MaxOrders)
	assert.Equal(t, ProgressionExponential, strat.DCA.Martingale.Progression)
}

func TestParseStrategyJSONNested(t *testing.T) {
	doc := []byte(`{"version": 1, "strategy": {"symbol": "ETH/USDT", "timeframe": "15m", "initial_balance": 500}}`)
	strat, err := ParseStrategyJSON(doc)
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", strat.Symbol)
	assert.Equal(t, "15m", strat.Timeframe)
}

func TestParseStrategyJSONRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"非法 JSON", `{"timeframe": `},
		{"非对象", `[1, 2, 3]`},
		{"缺少必填字段", `{"symbol": "BTC/USDT"}`},
		{"枚举越界", `{"timeframe": "1h", "initial_balance": 100, "side": "both"}`},
		{"类型错误", `{"timeframe": "1h", "initial_balance": "a lot"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStrategyJSON([]byte(tc.doc))
			require.Error(t, err)
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestParseStrategyJSONRunsSemanticValidation(t *testing.T) {
	// schema 只管结构，负余额要由 Validate 拦下
	doc := []byte(`{"timeframe": "1h", "initial_balance": -5}`)
	_, err := ParseStrategyJSON(doc)
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "initial_balance", ce.Field)
}
