package config

import (
	"fmt"
	"strings"
)

// validate 对应用配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Optimize.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.Workers < 1 || b.Workers > 64 {
		return fmt.Errorf("backtest.workers must be in [1,64]")
	}
	if b.MaxRangeMonths < 1 {
		return fmt.Errorf("backtest.max_range_months must be >= 1")
	}
	return nil
}

func (o *OptimizeConfig) validate() error {
	if o.Workers < 1 || o.Workers > 64 {
		return fmt.Errorf("optimize.workers must be in [1,64]")
	}
	if o.MaxTrials < 1 {
		return fmt.Errorf("optimize.max_trials must be >= 1")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
