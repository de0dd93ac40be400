package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
	"dcalab/internal/datasource"
	"dcalab/internal/logger"
	"dcalab/internal/market"
	"dcalab/internal/notify"
	"dcalab/internal/optimize"
	"dcalab/internal/profile"
	"dcalab/internal/report"
	"dcalab/internal/store"
)

// 数据源限速：Binance 合约公共接口给单 IP 留了充足配额，
// 这里按保守值节流，避免批量补数时触发 418/429。
const fetchRatePerSec = 8

// Service 负责回测域的编排：补齐 K 线→模拟→落库→出报告→通知。
type Service struct {
	cfg      *config.Config
	candles  *store.CandleStore
	results  *store.ResultStore
	source   *datasource.BinanceSource
	presets  *profile.Registry
	queue    *optimize.Queue
	notifier *notify.Telegram

	limiter *rate.Limiter
	sem     chan struct{}

	baseCtx context.Context
}

// NewService 按配置构建服务（不启动 HTTP）。
func NewService(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	candles, err := store.NewCandleStore(cfg.Data.CandleDir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	results, err := store.NewResultStore(cfg.Data.ResultPath)
	if err != nil {
		candles.Close()
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}
	src := cfg.Market.ResolveActiveSource()
	source, err := datasource.NewBinanceSource(datasource.Config{
		RESTBaseURL:  src.RESTBaseURL,
		ProxyEnabled: src.Proxy.Enabled,
		ProxyURL:     src.Proxy.RESTURL,
	})
	if err != nil {
		candles.Close()
		results.Close()
		return nil, fmt.Errorf("初始化数据源失败: %w", err)
	}
	presets, err := profile.NewRegistry(cfg.Data.PresetPath)
	if err != nil {
		logger.Warnf("预设文件不可用（%v），继续以空预设启动", err)
		presets = nil
	}
	workers := cfg.Backtest.Workers
	if workers <= 0 {
		workers = 1
	}
	svc := &Service{
		cfg:     cfg,
		candles: candles,
		results: results,
		source:  source,
		presets: presets,
		queue:   optimize.NewQueue(),
		limiter: rate.NewLimiter(rate.Limit(fetchRatePerSec), fetchRatePerSec),
		sem:     make(chan struct{}, workers),
		baseCtx: context.Background(),
	}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		svc.notifier = notify.NewTelegram(tg.BotToken, tg.ChatID)
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Close 释放队列与存储资源。
func (s *Service) Close() {
	s.queue.Close()
	_ = s.candles.Close()
	_ = s.results.Close()
}

// RunParams 描述一次回测请求。Preset 与 Strategy 二选一，
// Strategy 为内联 JSON 策略（顶层或嵌在 strategy 字段下均可）。
type RunParams struct {
	Preset   string          `json:"preset"`
	Strategy json.RawMessage `json:"strategy"`
	StartTS  int64           `json:"start_ts"`
	EndTS    int64           `json:"end_ts"`
	Sync     bool            `json:"sync"`   // 是否先补齐缺失 K 线
	Report   bool            `json:"report"` // 是否生成 HTML 报告
}

// StartRun 校验请求并异步执行回测，立即返回 pending 记录。
func (s *Service) StartRun(params RunParams) (*store.RunRecord, error) {
	strat, err := s.resolveStrategy(params.Preset, params.Strategy)
	if err != nil {
		return nil, err
	}
	start, end, err := s.normalizeRange(strat, params.StartTS, params.EndTS)
	if err != nil {
		return nil, err
	}
	rec := &store.RunRecord{
		ID:                 uuid.NewString(),
		Kind:               store.RunKindBacktest,
		Status:             store.RunStatusPending,
		Symbol:             strat.Symbol,
		Timeframe:          strat.Timeframe,
		ExecutionTimeframe: strat.ExecutionTimeframe,
		StrategyName:       strat.Name,
		StartTS:            start,
		EndTS:              end,
		InitialBalance:     strat.InitialBalance,
		CreatedAt:          time.Now(),
	}
	if raw, err := json.Marshal(strat); err == nil {
		rec.Strategy = raw
	}
	if err := s.results.SaveRun(s.ctx(), rec); err != nil {
		return nil, err
	}
	go s.executeRun(rec.ID, strat, start, end, params.Sync, params.Report)
	out := *rec
	return &out, nil
}

func (s *Service) executeRun(id string, strat *config.Strategy, start, end int64, sync, withReport bool) {
	ctx := s.ctx()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finishRun(id, store.RunStatusFailed, "服务已关闭", nil, nil)
		return
	}
	defer func() { <-s.sem }()

	s.markRunning(id)
	stratSeries, execSeries, err := s.loadSeries(ctx, strat, start, end, sync)
	if err != nil {
		s.finishRun(id, store.RunStatusFailed, err.Error(), nil, nil)
		return
	}
	res, err := backtest.Simulate(strat, stratSeries, execSeries)
	if err != nil {
		s.finishRun(id, store.RunStatusFailed, err.Error(), nil, nil)
		return
	}
	s.finishRun(id, store.RunStatusDone, "", strat, res)
	logger.Infof("[run %s] 回测完成: %s %s 收益 %.2f%%, %d 笔交易",
		id, res.Symbol, res.Timeframe, res.Stats.ReturnPct, res.Stats.TotalTrades)

	if withReport {
		if path, err := report.WriteHTML(s.cfg.Report.Dir, id, stratSeries, res); err != nil {
			logger.Warnf("[run %s] 报告生成失败: %v", id, err)
		} else {
			logger.Infof("[run %s] 报告已写入 %s", id, path)
		}
	}
	if s.notifier.Enabled() {
		if err := s.notifier.SendText(ctx, notify.RunCompleted(strat, res).RenderMarkdown()); err != nil {
			logger.Warnf("[run %s] Telegram 通知失败: %v", id, err)
		}
	}
}

func (s *Service) markRunning(id string) {
	rec, err := s.results.GetRun(s.ctx(), id)
	if err != nil {
		return
	}
	rec.Status = store.RunStatusRunning
	_ = s.results.SaveRun(s.ctx(), rec)
}

func (s *Service) finishRun(id, status, message string, strat *config.Strategy, res *backtest.Result) {
	rec, err := s.results.GetRun(s.ctx(), id)
	if err != nil {
		logger.Errorf("[run %s] 读取记录失败: %v", id, err)
		return
	}
	rec.Status = status
	rec.Message = message
	rec.CompletedAt = time.Now()
	if res != nil {
		if err := rec.FillFromResult(strat, res, s.cfg.Backtest.KeepEquity); err != nil {
			rec.Status = store.RunStatusFailed
			rec.Message = err.Error()
		} else {
			rec.Score = optimize.Score(res.Stats)
		}
	}
	if err := s.results.SaveRun(s.ctx(), rec); err != nil {
		logger.Errorf("[run %s] 写回记录失败: %v", id, err)
	}
}

// SweepParams 描述一次参数寻优请求。
type SweepParams struct {
	Preset   string          `json:"preset"`
	Strategy json.RawMessage `json:"strategy"`
	Grid     optimize.Grid   `json:"grid"`
	StartTS  int64           `json:"start_ts"`
	EndTS    int64           `json:"end_ts"`
	Sync     bool            `json:"sync"`
}

// SubmitSweep 把寻优任务排入串行队列，返回任务快照。
func (s *Service) SubmitSweep(params SweepParams) (*optimize.Job, error) {
	base, err := s.resolveStrategy(params.Preset, params.Strategy)
	if err != nil {
		return nil, err
	}
	if len(params.Grid) == 0 {
		return nil, &config.ConfigError{Field: "grid", Reason: "is required"}
	}
	start, end, err := s.normalizeRange(base, params.StartTS, params.EndTS)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("%s %s", base.Symbol, base.Timeframe)
	return s.queue.Submit(label, func(ctx context.Context) (*optimize.SweepResult, error) {
		stratSeries, execSeries, err := s.loadSeries(ctx, base, start, end, params.Sync)
		if err != nil {
			return nil, err
		}
		out, err := optimize.Run(ctx, optimize.Request{
			Base:        base,
			Grid:        params.Grid,
			StratSeries: stratSeries,
			ExecSeries:  execSeries,
			Workers:     s.cfg.Optimize.Workers,
			MaxTrials:   s.cfg.Optimize.MaxTrials,
		})
		if err != nil {
			return nil, err
		}
		s.persistBestTrial(base, out, start, end)
		if s.notifier.Enabled() && out.Best != nil {
			msg := notify.SweepCompleted(label, len(out.Trials), out.Best.Score, out.Elapsed)
			if err := s.notifier.SendText(ctx, msg.RenderMarkdown()); err != nil {
				logger.Warnf("Telegram 通知失败: %v", err)
			}
		}
		return out, nil
	})
}

// persistBestTrial 把寻优最佳组合落作一条 sweep 记录，便于和单次回测横向比较。
func (s *Service) persistBestTrial(base *config.Strategy, out *optimize.SweepResult, start, end int64) {
	if out == nil || out.Best == nil || out.Best.Result == nil {
		return
	}
	best := out.Best
	strat, err := optimize.Apply(base, best.Params)
	if err != nil {
		strat = base
	}
	rec := &store.RunRecord{
		ID:        uuid.NewString(),
		Kind:      store.RunKindSweep,
		Status:    store.RunStatusDone,
		StartTS:   start,
		EndTS:     end,
		Score:     best.Score,
		CreatedAt: time.Now(),
	}
	rec.CompletedAt = rec.CreatedAt
	if err := rec.FillFromResult(strat, best.Result, false); err != nil {
		logger.Warnf("寻优结果落库失败: %v", err)
		return
	}
	if err := s.results.SaveRun(s.ctx(), rec); err != nil {
		logger.Warnf("寻优结果落库失败: %v", err)
	}
}

// resolveStrategy 解析预设名或内联 JSON 策略。
func (s *Service) resolveStrategy(preset string, raw json.RawMessage) (*config.Strategy, error) {
	preset = strings.TrimSpace(preset)
	if preset != "" {
		if s.presets == nil {
			return nil, &config.ConfigError{Field: "preset", Reason: "registry unavailable"}
		}
		strat, ok := s.presets.Preset(preset)
		if !ok {
			return nil, &config.ConfigError{Field: "preset", Reason: fmt.Sprintf("%q not found", preset)}
		}
		return &strat, nil
	}
	if len(raw) == 0 {
		return nil, &config.ConfigError{Field: "strategy", Reason: "is required"}
	}
	return config.ParseStrategyJSON(raw)
}

// normalizeRange 对齐区间边界并套用最大跨度限制。
func (s *Service) normalizeRange(strat *config.Strategy, start, end int64) (int64, int64, error) {
	tf, err := market.ParseTimeframe(execTimeframe(strat))
	if err != nil {
		return 0, 0, err
	}
	if end <= 0 {
		end = time.Now().UnixMilli()
	}
	if start <= 0 || start >= end {
		return 0, 0, &config.ConfigError{Field: "start_ts", Reason: "must form a range with end_ts"}
	}
	if months := s.cfg.Backtest.MaxRangeMonths; months > 0 {
		limit := time.UnixMilli(start).AddDate(0, months, 0).UnixMilli()
		if end > limit {
			return 0, 0, &config.ConfigError{Field: "end_ts", Reason: fmt.Sprintf("range exceeds %d months", months)}
		}
	}
	alignedStart, alignedEnd := tf.AlignRange(start, end)
	if alignedStart >= alignedEnd {
		return 0, 0, &config.ConfigError{Field: "start_ts", Reason: "range shorter than one bar"}
	}
	return alignedStart, alignedEnd, nil
}

func execTimeframe(strat *config.Strategy) string {
	if strings.TrimSpace(strat.ExecutionTimeframe) != "" {
		return strat.ExecutionTimeframe
	}
	return strat.Timeframe
}

// loadSeries 加载执行周期数据并在需要时重采样出策略周期序列。
// 返回 (策略序列, 执行序列)；单周期模式下执行序列为 nil。
func (s *Service) loadSeries(ctx context.Context, strat *config.Strategy, start, end int64, sync bool) (*market.Series, *market.Series, error) {
	execTF := execTimeframe(strat)
	if sync {
		if err := s.ensureData(ctx, strat.Symbol, execTF, start, end); err != nil {
			return nil, nil, err
		}
	}
	candles, err := s.candles.RangeCandles(ctx, strat.Symbol, execTF, start, end)
	if err != nil {
		return nil, nil, err
	}
	execSeries, err := market.NewSeries(strat.Symbol, execTF, candles)
	if err != nil {
		return nil, nil, err
	}
	if execTF == strat.Timeframe {
		return execSeries, nil, nil
	}
	stratSeries, err := execSeries.Resample(strat.Timeframe)
	if err != nil {
		return nil, nil, err
	}
	return stratSeries, execSeries, nil
}

// ensureData 扫描本地缺口并限速补拉。
func (s *Service) ensureData(ctx context.Context, symbol, timeframe string, start, end int64) error {
	gaps, err := s.candles.MissingRanges(ctx, symbol, timeframe, start, end)
	if err != nil {
		return err
	}
	for _, gap := range gaps {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		data, err := s.source.FetchRange(ctx, symbol, timeframe, gap[0], gap[1])
		if err != nil {
			return fmt.Errorf("拉取 %s %s [%d,%d] 失败: %w", symbol, timeframe, gap[0], gap[1], err)
		}
		if len(data) == 0 {
			logger.Warnf("区间 [%d,%d] 拉取为空: %s %s", gap[0], gap[1], symbol, timeframe)
			continue
		}
		inserted, err := s.candles.InsertCandles(ctx, symbol, timeframe, data)
		if err != nil {
			return err
		}
		logger.Debugf("补齐 %s %s: 区间 [%d,%d] 写入 %d 根", symbol, timeframe, gap[0], gap[1], inserted)
	}
	return nil
}

// Run / 查询类透传。

func (s *Service) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	return s.results.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, kind string, limit, offset int) ([]store.RunRecord, error) {
	return s.results.ListRuns(ctx, kind, limit, offset)
}

func (s *Service) DeleteRun(ctx context.Context, id string) error {
	return s.results.DeleteRun(ctx, id)
}

func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (store.Manifest, error) {
	return s.candles.Manifest(ctx, symbol, timeframe)
}

func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	return s.candles.RangeCandles(ctx, symbol, timeframe, start, end)
}

// PresetNames 返回当前预设快照中的名字列表。
func (s *Service) PresetNames() []string {
	if s.presets == nil {
		return nil
	}
	return s.presets.Names()
}

// PresetSnapshot 返回带版本号的预设快照。
func (s *Service) PresetSnapshot() (profile.Snapshot, bool) {
	if s.presets == nil {
		return profile.Snapshot{}, false
	}
	return s.presets.Snapshot(), true
}

// 队列透传。

func (s *Service) SweepJob(id string) (*optimize.Job, bool) { return s.queue.Get(id) }
func (s *Service) SweepJobs() []*optimize.Job               { return s.queue.List() }
func (s *Service) CancelSweep(id string) error              { return s.queue.Cancel(id) }
