package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
)

// 回测任务状态。
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// 记录类型：单次回测或寻优产出的最佳组合。
const (
	RunKindBacktest = "backtest"
	RunKindSweep    = "sweep"
)

// RunRecord 是一次回测（或寻优中一个组合）的持久化形态。
type RunRecord struct {
	ID                 string         `gorm:"column:id;primaryKey" json:"id"`
	Kind               string         `gorm:"column:kind;index" json:"kind"` // backtest / sweep
	Status             string         `gorm:"column:status;index" json:"status"`
	Symbol             string         `gorm:"column:symbol;index" json:"symbol"`
	Timeframe          string         `gorm:"column:timeframe" json:"timeframe"`
	ExecutionTimeframe string         `gorm:"column:execution_timeframe" json:"execution_timeframe"`
	StrategyName       string         `gorm:"column:strategy_name" json:"strategy_name"`
	StartTS            int64          `gorm:"column:start_ts" json:"start_ts"`
	EndTS              int64          `gorm:"column:end_ts" json:"end_ts"`
	InitialBalance     float64        `gorm:"column:initial_balance" json:"initial_balance"`
	FinalBalance       float64        `gorm:"column:final_balance" json:"final_balance"`
	ReturnPct          float64        `gorm:"column:return_pct" json:"return_pct"`
	WinRate            float64        `gorm:"column:win_rate" json:"win_rate"`
	MaxDrawdownPct     float64        `gorm:"column:max_drawdown_pct" json:"max_drawdown_pct"`
	ProfitFactor       float64        `gorm:"column:profit_factor" json:"profit_factor"`
	Sharpe             float64        `gorm:"column:sharpe" json:"sharpe"`
	Score              float64        `gorm:"column:score" json:"score"`
	TradeCount         int            `gorm:"column:trade_count" json:"trade_count"`
	Liquidated         bool           `gorm:"column:liquidated" json:"liquidated"`
	Message            string         `gorm:"column:message" json:"message,omitempty"`
	Strategy           datatypes.JSON `gorm:"column:strategy" json:"strategy,omitempty"`
	Stats              datatypes.JSON `gorm:"column:stats" json:"stats,omitempty"`
	Trades             datatypes.JSON `gorm:"column:trades" json:"trades,omitempty"`
	Equity             datatypes.JSON `gorm:"column:equity" json:"equity,omitempty"`
	CreatedAt          time.Time      `gorm:"column:created_at" json:"created_at"`
	CompletedAt        time.Time      `gorm:"column:completed_at" json:"completed_at"`
}

func (RunRecord) TableName() string { return "runs" }

// ResultStore 持久化回测与寻优结果。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store: 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 插入或整体覆盖一条记录。
func (s *ResultStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("run record requires id")
	}
	return s.db.WithContext(ctx).Save(rec).Error
}

// GetRun 返回单条记录。
func (s *ResultStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s 不存在", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns 按创建时间倒序分页。kind 为空时返回全部类型。
func (s *ResultStore) ListRuns(ctx context.Context, kind string, limit, offset int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if strings.TrimSpace(kind) != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []RunRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRun 删除记录。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&RunRecord{}, "id = ?", id).Error
}

// FillFromResult 把模拟产出摊平进记录，并序列化明细字段。
func (rec *RunRecord) FillFromResult(strat *config.Strategy, res *backtest.Result, keepEquity bool) error {
	rec.Symbol = res.Symbol
	rec.Timeframe = res.Timeframe
	rec.ExecutionTimeframe = res.ExecutionTimeframe
	rec.InitialBalance = res.InitialBalance
	rec.FinalBalance = res.FinalBalance
	rec.ReturnPct = res.Stats.ReturnPct
	rec.WinRate = res.Stats.WinRate
	rec.MaxDrawdownPct = res.Stats.MaxDrawdownPct
	rec.ProfitFactor = res.Stats.ProfitFactor
	rec.Sharpe = res.Stats.Sharpe
	rec.TradeCount = res.Stats.TotalTrades
	rec.Liquidated = res.Stats.Liquidated
	if strat != nil {
		rec.StrategyName = strat.Name
		raw, err := json.Marshal(strat)
		if err != nil {
			return err
		}
		rec.Strategy = raw
	}
	stats, err := json.Marshal(res.Stats)
	if err != nil {
		return err
	}
	rec.Stats = stats
	trades, err := json.Marshal(res.Trades)
	if err != nil {
		return err
	}
	rec.Trades = trades
	if keepEquity {
		eq, err := json.Marshal(res.Equity)
		if err != nil {
			return err
		}
		rec.Equity = eq
	}
	return nil
}
