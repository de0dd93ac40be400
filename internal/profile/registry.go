package profile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dcalab/internal/config"
	"dcalab/internal/logger"
)

// FileConfig 映射预设文件的顶层结构。
type FileConfig struct {
	Presets map[string]config.Strategy `yaml:"presets"`
}

// Snapshot 是某一时刻的预设集合，内容不可变。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]config.Strategy
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理策略预设：启动加载 + 文件变更热重载。
// 每个预设在加载时即通过完整校验，坏条目会让整次重载失败，
// 保留上一份可用快照。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取预设文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preset registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("preset reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前预设集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Preset 返回指定名称的预设副本。
func (r *Registry) Preset(name string) (config.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	strat, ok := r.snapshot.Presets[strings.TrimSpace(name)]
	return strat, ok
}

// Names 返回全部预设名（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshot.Presets))
	for name := range r.snapshot.Presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) reload() error {
	cfg, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	presets := make(map[string]config.Strategy, len(cfg.Presets))
	for name, strat := range cfg.Presets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.TrimSpace(strat.Name) == "" {
			strat.Name = name
		}
		strat.ApplyDefaults()
		if err := strat.Validate(); err != nil {
			return fmt.Errorf("preset %s invalid: %w", name, err)
		}
		presets[name] = strat
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	logger.Infof("预设加载完成: %d 条 (%s)", len(presets), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("preset listener")
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]config.Strategy, len(src.Presets)),
	}
	for name, strat := range src.Presets {
		dst.Presets[name] = strat
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func readPresetFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read preset config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse preset config failed: %w", err)
	}
	return cfg, nil
}
