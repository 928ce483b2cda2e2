package subscribe

import (
	"context"
	"time"

	"requestx/internal/logger"
)

// Fetcher 批量拉取订阅，返回以列表ID为键的错误
type Fetcher interface {
	FetchAll(ctx context.Context) map[int]error
}

// Refresher 定时刷新全部订阅列表
type Refresher struct {
	fetcher  Fetcher
	delay    time.Duration
	interval time.Duration
	log      logger.Logger
}

// NewRefresher 创建定时刷新器，首次在 delay 后执行，之后每隔 interval 执行
func NewRefresher(f Fetcher, delay, interval time.Duration, l logger.Logger) *Refresher {
	if l == nil {
		l = logger.NewNop()
	}
	return &Refresher{fetcher: f, delay: delay, interval: interval, log: l}
}

// Run 阻塞运行直到 ctx 取消
func (r *Refresher) Run(ctx context.Context) {
	r.log.Info("启动订阅刷新", "delay", r.delay, "interval", r.interval)
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	r.refresh(ctx)
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	errs := r.fetcher.FetchAll(ctx)
	if len(errs) > 0 {
		r.log.Warn("部分订阅刷新失败", "failed", len(errs))
		return
	}
	r.log.Debug("订阅刷新完成")
}
