// Package cookie 合并 Cookie 属性回写
package cookie

import (
	"context"
	"sync"
	"time"

	"requestx/internal/logger"
	"requestx/internal/metrics"
	"requestx/internal/rules"
	"requestx/pkg/traffic"
)

// DefaultFlushDelay 回写的防抖延迟
const DefaultFlushDelay = 100 * time.Millisecond

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Clock 调度抽象，测试中可替换为手动时钟
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock 基于 time.AfterFunc 的时钟
func RealClock() Clock { return realClock{} }

// Writer Cookie 回写
type Writer interface {
	SetCookie(ctx context.Context, w traffic.CookieWrite) error
}

// WriterFunc 函数形式的 Writer
type WriterFunc func(ctx context.Context, w traffic.CookieWrite) error

func (f WriterFunc) SetCookie(ctx context.Context, w traffic.CookieWrite) error { return f(ctx, w) }

// MatchFunc 对 Cookie 变更求值，无匹配返回 nil
type MatchFunc func(ev *traffic.CookieChange) *rules.CookieMatch

// State 合并器状态
type State int

const (
	StateIdle State = iota
	StatePendingFlush
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StatePendingFlush:
		return "pending"
	case StateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Options 合并器配置
type Options struct {
	Match  MatchFunc
	Writer Writer
	Clock  Clock
	Delay  time.Duration
	Logger logger.Logger
}

// Coalescer 按 storeId/url/name 合并待写入项，防抖后顺序写入，后写覆盖先写
type Coalescer struct {
	mu      sync.Mutex
	state   State
	pending map[string]traffic.CookieWrite
	order   []string
	timer   Timer

	match  MatchFunc
	writer Writer
	clock  Clock
	delay  time.Duration
	log    logger.Logger
}

// New 创建合并器
func New(opts Options) *Coalescer {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultFlushDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Coalescer{
		pending: make(map[string]traffic.CookieWrite),
		match:   opts.Match,
		writer:  opts.Writer,
		clock:   opts.Clock,
		delay:   opts.Delay,
		log:     opts.Logger,
	}
}

// State 返回当前状态
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending 返回待写入项数量
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleChange 处理 Cookie 变更；写入进行中到达的事件被忽略，避免响应自身的写入
func (c *Coalescer) HandleChange(ev *traffic.CookieChange) *rules.CookieMatch {
	if ev.Cause != traffic.CauseExplicit {
		return nil
	}
	c.mu.Lock()
	flushing := c.state == StateFlushing
	c.mu.Unlock()
	if flushing || c.match == nil {
		return nil
	}

	m := c.match(ev)
	if m == nil {
		return nil
	}
	w, changed := BuildWrite(ev, m.Result)
	if !changed {
		c.log.Debug("Cookie 属性无需更新", "name", w.Name, "url", w.URL)
		return m
	}
	c.log.Info("Cookie 命中规则", "name", w.Name, "url", w.URL, "list", m.ListID, "rule", m.RuleIndex)
	c.Enqueue(w)
	return m
}

// Enqueue 加入待写入项并重置防抖定时器
func (c *Coalescer) Enqueue(w traffic.CookieWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := w.Key()
	if _, ok := c.pending[key]; !ok {
		c.order = append(c.order, key)
	}
	c.pending[key] = w
	if c.state != StateFlushing {
		c.scheduleLocked()
	}
}

func (c *Coalescer) scheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.delay, func() { c.Flush(context.Background()) })
	c.state = StatePendingFlush
}

// Flush 取出全部待写入项并逐个写入；单项失败只记录日志
// 已在写入中时直接返回
func (c *Coalescer) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateFlushing {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := make([]traffic.CookieWrite, 0, len(c.order))
	for _, key := range c.order {
		batch = append(batch, c.pending[key])
	}
	c.pending = make(map[string]traffic.CookieWrite)
	c.order = nil
	c.state = StateFlushing
	c.mu.Unlock()

	for _, w := range batch {
		if err := c.writer.SetCookie(ctx, w); err != nil {
			metrics.CookieWritesTotal.WithLabelValues(metrics.ResultError).Inc()
			c.log.Err(err, "Cookie 回写失败", "name", w.Name, "url", w.URL)
			continue
		}
		metrics.CookieWritesTotal.WithLabelValues(metrics.ResultOK).Inc()
		c.log.Debug("Cookie 已回写", "name", w.Name, "url", w.URL)
	}

	c.mu.Lock()
	c.state = StateIdle
	if len(c.pending) > 0 {
		c.scheduleLocked()
	}
	c.mu.Unlock()
}

// Stop 取消尚未触发的定时器
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
