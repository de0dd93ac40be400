package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultAppLogPath        = "/data/logs/dcalab.log"
	defaultCandleDir         = "/data/candles"
	defaultResultPath        = "/data/db/runs.db"
	defaultPresetPath        = "configs/presets.yaml"
	defaultMarketName        = "binance"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultBacktestWorkers   = 4
	defaultBacktestMaxMonths = 24
	defaultOptimizeWorkers   = 4
	defaultOptimizeMaxTrials = 2000
	defaultReportDir         = "/data/reports"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Optimize.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.candle_dir", &d.CandleDir, defaultCandleDir),
		stringFieldDefault("data.result_path", &d.ResultPath, defaultResultPath),
		stringFieldDefault("data.preset_path", &d.PresetPath, defaultPresetPath),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.workers",
			need:  func() bool { return b.Workers <= 0 },
			apply: func() { b.Workers = defaultBacktestWorkers },
		},
		fieldDefault{
			key:   "backtest.max_range_months",
			need:  func() bool { return b.MaxRangeMonths <= 0 },
			apply: func() { b.MaxRangeMonths = defaultBacktestMaxMonths },
		},
		boolFieldDefault("backtest.keep_equity", &b.KeepEquity, true),
	)
}

func (o *OptimizeConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "optimize.workers",
			need:  func() bool { return o.Workers <= 0 },
			apply: func() { o.Workers = defaultOptimizeWorkers },
		},
		fieldDefault{
			key:   "optimize.max_trials",
			need:  func() bool { return o.MaxTrials <= 0 },
			apply: func() { o.MaxTrials = defaultOptimizeMaxTrials },
		},
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
