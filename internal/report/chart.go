package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"dcalab/internal/backtest"
	"dcalab/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#fb7185"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 320
)

// WriteHTML 为一次回测生成 HTML 报告（K 线 + 进出场标记 + 权益/回撤曲线），
// 返回落盘路径。
func WriteHTML(dir, runID string, series *market.Series, res *backtest.Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("report requires a result")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s backtest", strings.ToUpper(res.Symbol), res.Timeframe)

	if series != nil && series.Len() > 0 {
		page.AddCharts(buildKlineChart(series, res))
	}
	if len(res.Equity) > 0 {
		page.AddCharts(buildEquityChart(res))
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.html", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

func buildKlineChart(series *market.Series, res *backtest.Result) *charts.Kline {
	candles := series.Candles()
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s %s", strings.ToUpper(res.Symbol), res.Timeframe),
			Subtitle:   fmt.Sprintf("return %.2f%% | win rate %.1f%% | max DD %.2f%%", res.Stats.ReturnPct, res.Stats.WinRate, res.Stats.MaxDrawdownPct),
			Left:       "left",
			Top:        "10",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{
				Color: colorTextSecondary,
			},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	xAxis := buildXAxis(candles)
	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	entries, exits := buildTradeMarkers(candles, res.Trades)
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	scatter.AddSeries("Entry", entries,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	scatter.AddSeries("Exit", exits,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	kline.Overlap(scatter)
	return kline
}

// buildTradeMarkers 把进出场时间映射到所在 K 线的下标上。
func buildTradeMarkers(candles []market.Candle, trades []backtest.Trade) (entries, exits []opts.ScatterData) {
	entries = make([]opts.ScatterData, len(candles))
	exits = make([]opts.ScatterData, len(candles))
	locate := func(ts int64) int {
		for i, c := range candles {
			if ts >= c.OpenTime && ts < c.CloseTime {
				return i
			}
		}
		return -1
	}
	for _, t := range trades {
		if i := locate(t.EntryTime); i >= 0 {
			entries[i] = opts.ScatterData{Value: round(t.AvgEntryPrice, 6), Symbol: "triangle", SymbolSize: 12}
		}
		if i := locate(t.ExitTime); i >= 0 {
			exits[i] = opts.ScatterData{Value: round(t.ExitPrice, 6), Symbol: "diamond", SymbolSize: 12}
		}
	}
	return entries, exits
}

func buildEquityChart(res *backtest.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	x := make([]string, len(res.Equity))
	equity := make([]opts.LineData, len(res.Equity))
	drawdown := make([]opts.LineData, len(res.Equity))
	for i, s := range res.Equity {
		x[i] = time.UnixMilli(s.Time).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: round(s.Equity, 2)}
		drawdown[i] = opts.LineData{Value: round(-s.DrawdownPct, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("Drawdown %", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.OpenTime).UTC().Format("01-02 15:04")
	}
	return x
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
