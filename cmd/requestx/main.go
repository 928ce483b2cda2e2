package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"requestx/internal/config"
	"requestx/internal/logger"
	"requestx/internal/metrics"
	"requestx/pkg/api"
	"requestx/pkg/model"
)

// main 守护进程入口：加载配置、连接浏览器并持续拦截
func main() {
	cfgPath := flag.String("config", "", "path to YAML config file")
	devtools := flag.String("devtools", "", "DevTools HTTP endpoint, overrides config")
	resetRules := flag.Bool("reset-rules", false, "clear the installed rule table and reinstall all enabled rules")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *devtools != "" {
		cfg.DevTools.URL = *devtools
	}

	l := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writer:     cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err := run(cfg, l, *resetRules); err != nil {
		l.Err(err, "启动失败")
		os.Exit(1)
	}
}

func run(cfg *config.Config, l logger.Logger, resetRules bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := api.NewService(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			l.Err(err, "关闭服务失败")
		}
	}()
	if resetRules {
		if err := svc.ResetRules(ctx); err != nil {
			return err
		}
	}
	svc.Start(ctx)

	if cfg.Metrics.Addr != "" {
		ms := metrics.NewServer(cfg.Metrics.Addr)
		go func() {
			if err := ms.Start(); err != nil {
				l.Err(err, "指标服务异常退出", "addr", cfg.Metrics.Addr)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
		l.Info("指标服务已启动", "addr", cfg.Metrics.Addr)
	}

	id, err := svc.StartSession(model.SessionConfig{DevToolsURL: cfg.DevTools.URL})
	if err != nil {
		return err
	}
	targets, err := svc.ListTargets(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if _, err := svc.AttachTarget(ctx, id, t.ID); err != nil {
			l.Err(err, "附加目标失败", "target", string(t.ID))
		}
	}
	if err := svc.EnableInterception(id); err != nil {
		return err
	}
	l.Info("拦截已启用", "session", string(id), "targets", len(targets))

	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			l.Info("收到退出信号")
			return nil
		case evt := <-events:
			if evt.Type == model.EventPassed {
				continue
			}
			l.Info("拦截事件", "type", evt.Type, "phase", evt.Phase, "url", evt.URL, "list", evt.ListID, "rule", evt.RuleIndex)
		}
	}
}
