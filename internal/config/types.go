package config

import "strings"

// Config 是 dcalab 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Market   MarketConfig   `toml:"market"`
	Backtest BacktestConfig `toml:"backtest"`
	Optimize OptimizeConfig `toml:"optimize"`
	Report   ReportConfig   `toml:"report"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 描述本地 K 线缓存与回测结果库的位置。
type DataConfig struct {
	CandleDir  string `toml:"candle_dir"`  // 每个 symbol@timeframe 一个 sqlite 文件
	ResultPath string `toml:"result_path"` // 回测/寻优结果库
	PresetPath string `toml:"preset_path"` // 策略预设 yaml
}

type BacktestConfig struct {
	Workers        int  `toml:"workers"`         // 并发回测上限
	KeepEquity     bool `toml:"keep_equity"`     // 是否在结果库保留逐 bar 权益
	MaxRangeMonths int  `toml:"max_range_months"`
}

type OptimizeConfig struct {
	Workers   int `toml:"workers"`    // 单次寻优内的并发试验数
	MaxTrials int `toml:"max_trials"` // 参数组合上限
}

type ReportConfig struct {
	Dir string `toml:"dir"` // HTML 报告输出目录
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
