package optimize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dcalab/internal/config"
)

// Axis 是参数网格的一个维度：策略 JSON 里的点路径 + 候选值。
type Axis struct {
	Path   string `json:"path" yaml:"path"`
	Values []any  `json:"values" yaml:"values"`
}

// Grid 是若干维度的笛卡尔积。
type Grid []Axis

// Size 返回组合总数。
func (g Grid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, a := range g {
		n *= len(a.Values)
	}
	return n
}

// Trials 按确定性顺序展开全部组合（末尾维度变化最快），
// 超出 maxTrials 直接报错而不是悄悄截断。
func (g Grid) Trials(maxTrials int) ([]map[string]any, error) {
	if len(g) == 0 {
		return nil, fmt.Errorf("parameter grid is empty")
	}
	for _, a := range g {
		if strings.TrimSpace(a.Path) == "" {
			return nil, fmt.Errorf("grid axis missing path")
		}
		if len(a.Values) == 0 {
			return nil, fmt.Errorf("grid axis %s has no values", a.Path)
		}
	}
	total := g.Size()
	if maxTrials > 0 && total > maxTrials {
		return nil, fmt.Errorf("grid expands to %d trials, limit is %d", total, maxTrials)
	}
	out := make([]map[string]any, 0, total)
	idx := make([]int, len(g))
	for {
		params := make(map[string]any, len(g))
		for i, a := range g {
			params[a.Path] = a.Values[idx[i]]
		}
		out = append(out, params)
		pos := len(g) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(g[pos].Values) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out, nil
		}
	}
}

// Apply 把一组点路径参数覆盖到基础策略上，返回校验过的新策略。
// 基础策略本身不被修改。
func Apply(base *config.Strategy, params map[string]any) (*config.Strategy, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal base strategy failed: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal base strategy failed: %w", err)
	}
	paths := make([]string, 0, len(params))
	for p := range params {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := setNested(doc, strings.Split(p, "."), params[p]); err != nil {
			return nil, fmt.Errorf("apply %s failed: %w", p, err)
		}
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var strat config.Strategy
	if err := json.Unmarshal(merged, &strat); err != nil {
		return nil, fmt.Errorf("decode merged strategy failed: %w", err)
	}
	strat.ApplyDefaults()
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	return &strat, nil
}

func setNested(doc map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}
	key := path[0]
	if key == "" {
		return fmt.Errorf("empty path segment")
	}
	if len(path) == 1 {
		doc[key] = value
		return nil
	}
	child, ok := doc[key]
	if !ok || child == nil {
		next := make(map[string]any)
		doc[key] = next
		return setNested(next, path[1:], value)
	}
	next, ok := child.(map[string]any)
	if !ok {
		return fmt.Errorf("segment %s is not an object", key)
	}
	return setNested(next, path[1:], value)
}
