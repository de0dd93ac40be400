package optimize

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"dcalab/internal/backtest"
	"dcalab/internal/config"
	"dcalab/internal/logger"
	"dcalab/internal/market"
)

// Trial 是一次参数组合的回测产出。失败组合保留错误信息并以
// ScoreFailed 沉底，不会中断整个扫描。
type Trial struct {
	Index  int              `json:"index"`
	Params map[string]any   `json:"params"`
	Score  float64          `json:"score"`
	Stats  backtest.Stats   `json:"stats"`
	Result *backtest.Result `json:"-"`
	Err    string           `json:"error,omitempty"`
}

// SweepResult 汇总一次参数扫描。
type SweepResult struct {
	Trials  []Trial       `json:"trials"`
	Best    *Trial        `json:"best,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Request 描述一次扫描任务。
type Request struct {
	Base        *config.Strategy
	Grid        Grid
	StratSeries *market.Series
	ExecSeries  *market.Series
	Workers     int
	MaxTrials   int
}

// Run 并发执行参数扫描。相同数据与网格下结果完全确定：
// 组合展开顺序固定，并列最优取序号最小者。
func Run(ctx context.Context, req Request) (*SweepResult, error) {
	if req.Base == nil {
		return nil, &config.ConfigError{Field: "strategy", Reason: "is required"}
	}
	trials, err := req.Grid.Trials(req.MaxTrials)
	if err != nil {
		return nil, &config.ConfigError{Field: "grid", Reason: err.Error()}
	}
	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}
	start := time.Now()
	results := make([]Trial, len(trials))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, params := range trials {
		if err := ctx.Err(); err != nil {
			break
		}
		i, params := i, params
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = runTrial(req, i, params)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &SweepResult{Trials: results, Elapsed: time.Since(start)}
	for i := range results {
		if out.Best == nil || results[i].Score > out.Best.Score {
			out.Best = &results[i]
		}
	}
	logger.Infof("参数扫描完成: %d 组合, 耗时 %s", len(results), out.Elapsed.Round(time.Millisecond))
	return out, nil
}

func runTrial(req Request, idx int, params map[string]any) Trial {
	t := Trial{Index: idx, Params: params, Score: ScoreFailed}
	strat, err := Apply(req.Base, params)
	if err != nil {
		t.Err = err.Error()
		return t
	}
	res, err := backtest.Simulate(strat, req.StratSeries, req.ExecSeries)
	if err != nil {
		t.Err = err.Error()
		return t
	}
	t.Result = res
	t.Stats = res.Stats
	t.Score = Score(res.Stats)
	return t
}
