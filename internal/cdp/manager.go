package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	adapter "requestx/internal/adapter/cdp"
	"requestx/internal/handler"
	"requestx/internal/logger"
	"requestx/pkg/model"
	"requestx/pkg/traffic"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNoTarget    = errors.New("no target")
	ErrNotAttached = errors.New("target not attached")
)

// DefaultConcurrency 同时处理的拦截事件上限
const DefaultConcurrency = 64

// targetSession 单个已附加目标的连接
type targetSession struct {
	id     model.TargetID
	tabID  int
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager 管理已附加的浏览器目标并消费其拦截事件
type Manager struct {
	devtoolsURL    string
	handler        *handler.Handler
	processTimeout time.Duration
	sem            *semaphore.Weighted
	log            logger.Logger

	targetsMu sync.Mutex
	targets   map[model.TargetID]*targetSession
	nextTab   int
	enabled   atomic.Bool
}

// Options 管理器配置
type Options struct {
	DevToolsURL    string
	Handler        *handler.Handler
	ProcessTimeout time.Duration
	Concurrency    int
	Logger         logger.Logger
}

// New 创建管理器
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 3 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Manager{
		devtoolsURL:    opts.DevToolsURL,
		handler:        opts.Handler,
		processTimeout: opts.ProcessTimeout,
		sem:            semaphore.NewWeighted(int64(opts.Concurrency)),
		log:            opts.Logger,
		targets:        make(map[model.TargetID]*targetSession),
	}
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		id := model.TargetID(t.ID)
		_, attached := m.targets[id]
		out = append(out, model.TargetInfo{ID: id, Type: string(t.Type), URL: t.URL, Title: t.Title, Attached: attached})
	}
	return out, nil
}

// AttachTarget 附加目标，id 为空时选择第一个页面；拦截已启用时立即开始拦截
func (m *Manager) AttachTarget(ctx context.Context, id model.TargetID) (model.TargetID, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if id == "" || model.TargetID(t.ID) == id {
			sel = t
			break
		}
	}
	if sel == nil {
		return "", fmt.Errorf("%w: %q", ErrNoTarget, id)
	}
	id = model.TargetID(sel.ID)

	m.targetsMu.Lock()
	if _, ok := m.targets[id]; ok {
		m.targetsMu.Unlock()
		return id, nil
	}
	m.targetsMu.Unlock()

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", id, err)
	}
	tctx, cancel := context.WithCancel(context.Background())

	m.targetsMu.Lock()
	m.nextTab++
	ts := &targetSession{id: id, tabID: m.nextTab, conn: conn, client: cdp.NewClient(conn), ctx: tctx, cancel: cancel}
	m.targets[id] = ts
	m.targetsMu.Unlock()
	m.log.Info("已附加目标", "target", string(id), "tab", ts.tabID, "url", sel.URL)

	if m.enabled.Load() {
		if err := m.enableTarget(ts); err != nil {
			_ = m.DetachTarget(id)
			return "", err
		}
	}
	return id, nil
}

// DetachTarget 分离目标
func (m *Manager) DetachTarget(id model.TargetID) error {
	m.targetsMu.Lock()
	ts, ok := m.targets[id]
	delete(m.targets, id)
	m.targetsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, id)
	}
	m.closeTargetSession(ts)
	m.log.Info("已分离目标", "target", string(id))
	return nil
}

// Enable 对全部已附加目标启用拦截
func (m *Manager) Enable() error {
	m.enabled.Store(true)
	var errs []error
	for _, ts := range m.snapshot() {
		if err := m.enableTarget(ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Disable 停止拦截，目标保持附加
func (m *Manager) Disable(ctx context.Context) error {
	m.enabled.Store(false)
	var errs []error
	for _, ts := range m.snapshot() {
		if err := ts.client.Fetch.Disable(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disable %s: %w", ts.id, err))
		}
	}
	return errors.Join(errs...)
}

// Close 分离全部目标
func (m *Manager) Close() {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	targets := m.targets
	m.targets = make(map[model.TargetID]*targetSession)
	m.targetsMu.Unlock()
	for _, ts := range targets {
		m.closeTargetSession(ts)
	}
}

// SetCookie 通过任一已附加目标写入 Cookie
func (m *Manager) SetCookie(ctx context.Context, w traffic.CookieWrite) error {
	targets := m.snapshot()
	if len(targets) == 0 {
		return ErrNoTarget
	}
	if _, err := targets[0].client.Network.SetCookie(ctx, adapter.ToSetCookieArgs(w)); err != nil {
		return fmt.Errorf("set cookie %s: %w", w.Name, err)
	}
	return nil
}

func (m *Manager) snapshot() []*targetSession {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]*targetSession, 0, len(m.targets))
	for _, ts := range m.targets {
		out = append(out, ts)
	}
	return out
}

func (m *Manager) enableTarget(ts *targetSession) error {
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := ts.client.Fetch.Enable(ts.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("enable fetch on %s: %w", ts.id, err)
	}
	go m.consume(ts)
	return nil
}

func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if err := ts.conn.Close(); err != nil {
		m.log.Err(err, "关闭目标连接失败", "target", string(ts.id))
	}
}
