package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
)

func TestRunCompletedMessage(t *testing.T) {
	strat := &config.Strategy{Name: "demo", Side: "long", Leverage: 3}
	res := &backtest.Result{
		Symbol:    "btc/usdt",
		Timeframe: "1h",
		Stats:     backtest.Stats{ReturnPct: 5.5, NetProfit: 550, TotalTrades: 12, WinRate: 66.7, ProfitFactor: 2.1, MaxDrawdownPct: 8.3},
	}

	msg := RunCompleted(strat, res)
	assert.Equal(t, "📊", msg.Icon)
	assert.Equal(t, "回测完成 BTC/USDT 1h", msg.Title)
	require.Len(t, msg.Sections, 2)

	body := msg.RenderMarkdown()
	assert.Contains(t, body, "名称: demo")
	assert.Contains(t, body, "收益: 5.50% (550.00)")
	assert.Contains(t, body, "交易: 12 笔, 胜率 66.7%")
	assert.NotContains(t, body, "爆仓")
}

func TestRunCompletedMessageWithLiquidation(t *testing.T) {
	strat := &config.Strategy{Name: "demo", Side: "long", Leverage: 10}
	res := &backtest.Result{
		Symbol:      "BTC/USDT",
		Timeframe:   "1h",
		Liquidation: &backtest.Liquidation{Time: 1700000000000, Price: 31234.5},
	}

	msg := RunCompleted(strat, res)
	require.Len(t, msg.Sections, 3)
	assert.Contains(t, msg.RenderMarkdown(), "爆仓")
}

func TestRenderMarkdownSanitizesAndTruncates(t *testing.T) {
	msg := Message{
		Title: "测试",
		Sections: []MessageSection{{
			Title: "内容",
			Lines: []string{"含 ``` 代码围栏", "  ", strings.Repeat("长", 4000)},
		}},
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	body := msg.RenderMarkdown()
	assert.NotContains(t, body, "含 ``` 代码围栏")
	assert.Contains(t, body, "含 ''' 代码围栏")
	assert.LessOrEqual(t, len(body), maxMessageLen+3)
	assert.True(t, strings.HasSuffix(body, "..."))
}

func TestRenderMarkdownSkipsEmptySections(t *testing.T) {
	msg := Message{Title: "空消息", Sections: []MessageSection{{Title: "无内容", Lines: []string{"   "}}}}
	body := msg.RenderMarkdown()
	assert.NotContains(t, body, "```")
	assert.Contains(t, body, "空消息")
}

func TestTelegramEnabled(t *testing.T) {
	var nilClient *Telegram
	assert.False(t, nilClient.Enabled())
	assert.False(t, NewTelegram("", "123").Enabled())
	assert.False(t, NewTelegram("token", "").Enabled())
	assert.True(t, NewTelegram("token", "123").Enabled())
}
