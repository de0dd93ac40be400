package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"dcalab/internal/app"
	"dcalab/internal/config"
	"dcalab/internal/logger"
	httpapi "dcalab/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := os.Getenv("DCALAB_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，presets=%s）", cfg.App.Env, cfg.Data.PresetPath)

	svc, err := app.NewService(cfg)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	defer svc.Close()

	server, err := httpapi.NewServer(cfg.App.HTTPAddr, svc)
	if err != nil {
		log.Fatalf("初始化 HTTP 服务失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("HTTP 服务监听 %s", cfg.App.HTTPAddr)
		return server.Start(ctx)
	})
	if err := group.Wait(); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
