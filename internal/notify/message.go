package notify

import (
	"fmt"
	"strings"
	"time"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
)

const maxMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// Message 描述统一格式的 Telegram 推送。
type Message struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RunCompleted 构造回测完成摘要。
func RunCompleted(strat *config.Strategy, res *backtest.Result) Message {
	msg := Message{
		Icon:      "📊",
		Title:     fmt.Sprintf("回测完成 %s %s", strings.ToUpper(res.Symbol), res.Timeframe),
		Timestamp: time.Now(),
	}
	msg.Sections = append(msg.Sections, MessageSection{
		Title: "策略",
		Lines: []string{
			fmt.Sprintf("名称: %s", strat.Name),
			fmt.Sprintf("方向: %s", strat.Side),
			fmt.Sprintf("杠杆: %.0fx", strat.Leverage),
		},
	})
	msg.Sections = append(msg.Sections, MessageSection{
		Title: "结果",
		Lines: []string{
			fmt.Sprintf("收益: %.2f%% (%.2f)", res.Stats.ReturnPct, res.Stats.NetProfit),
			fmt.Sprintf("交易: %d 笔, 胜率 %.1f%%", res.Stats.TotalTrades, res.Stats.WinRate),
			fmt.Sprintf("盈亏比: %.2f, 最大回撤 %.2f%%", res.Stats.ProfitFactor, res.Stats.MaxDrawdownPct),
		},
	})
	if res.Liquidation != nil {
		msg.Sections = append(msg.Sections, MessageSection{
			Title: "⚠️ 爆仓",
			Lines: []string{fmt.Sprintf("价格 %.4f @ %s", res.Liquidation.Price, time.UnixMilli(res.Liquidation.Time).UTC().Format("2006-01-02 15:04"))},
		})
	}
	return msg
}

// SweepCompleted 构造参数优化完成摘要。
func SweepCompleted(label string, trials int, bestScore float64, elapsed time.Duration) Message {
	return Message{
		Icon:      "🔍",
		Title:     fmt.Sprintf("参数优化完成 %s", label),
		Timestamp: time.Now(),
		Sections: []MessageSection{{
			Title: "结果",
			Lines: []string{
				fmt.Sprintf("试验: %d 组", trials),
				fmt.Sprintf("最佳评分: %.2f", bestScore),
				fmt.Sprintf("耗时: %s", elapsed.Round(time.Second)),
			},
		}},
	}
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m Message) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}
