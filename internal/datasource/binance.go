package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"dcalab/internal/logger"
	"dcalab/internal/market"
)

// 单次 klines 请求的上限（交易所限制）。
const maxKlinesLimit = 1500

// Config 描述 Binance 合约行情源的访问方式。
type Config struct {
	RESTBaseURL  string
	ProxyEnabled bool
	ProxyURL     string
	HTTPTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

// BinanceSource 基于 go-binance SDK 拉取合约历史 K 线。
type BinanceSource struct {
	cfg    Config
	client *futures.Client
}

func NewBinanceSource(cfg Config) (*BinanceSource, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &BinanceSource{cfg: final, client: client}, nil
}

// FetchRange 分页拉取 [start, end]（开盘时间毫秒，闭区间）的历史 K 线，
// 并剔除末尾未收盘的那根。
func (s *BinanceSource) FetchRange(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	cleanSymbol := toExchangeSymbol(symbol)
	if cleanSymbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	start, end = tf.AlignRange(start, end)
	step := tf.DurationMillis()

	var out []market.Candle
	cursor := start
	for cursor <= end {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		kls, err := s.client.NewKlinesService().
			Symbol(cleanSymbol).
			Interval(tf.SourceInterval).
			StartTime(cursor).
			EndTime(end + step - 1).
			Limit(maxKlinesLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s failed: %w", cleanSymbol, tf.Key, err)
		}
		if len(kls) == 0 {
			break
		}
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
			})
		}
		next := kls[len(kls)-1].OpenTime + step
		if next <= cursor {
			break
		}
		cursor = next
		if len(kls) < maxKlinesLimit {
			break
		}
	}
	out = dropUnclosed(out, step)
	logger.Debugf("binance 拉取 %s %s: %d 根 (%d ~ %d)", cleanSymbol, tf.Key, len(out), start, end)
	return out, nil
}

// dropUnclosed 剔除收盘时间尚未到达的末尾 K 线。
// Binance 的 close_time 为 open+dur-1ms，与本地网格比较时取 open+dur。
func dropUnclosed(candles []market.Candle, step int64) []market.Candle {
	now := time.Now().UnixMilli()
	for len(candles) > 0 {
		last := candles[len(candles)-1]
		if last.OpenTime+step <= now {
			break
		}
		candles = candles[:len(candles)-1]
	}
	return candles
}

// toExchangeSymbol 将 "ETH/USDT" 一类写法规整为交易所格式 "ETHUSDT"。
func toExchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "/", "")
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
