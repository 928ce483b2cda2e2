package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"requestx/internal/cdp"
	"requestx/internal/config"
	"requestx/internal/cookie"
	"requestx/internal/ctxkeys"
	"requestx/internal/dnr"
	"requestx/internal/handler"
	"requestx/internal/list"
	"requestx/internal/logger"
	"requestx/internal/rules"
	"requestx/internal/session"
	"requestx/internal/storage"
	"requestx/internal/subscribe"
	"requestx/pkg/model"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"

	"github.com/bep/debounce"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// Service 连接列表存储、规则引擎、规则表同步与浏览器会话
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	db       *gorm.DB
	group    *list.Group
	engine   *rules.Engine
	table    *storage.RuleTable
	sync     *dnr.Synchronizer
	sessions *session.Manager
	reload   func(f func())

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 打开存储、加载列表并完成首次规则同步
func New(cfg *config.Config, l logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l.With("module", "storage"))
	if err != nil {
		return nil, err
	}
	s, err := newService(cfg, db, subscribe.NewClient(cfg.SubscriptionTimeout(), l.With("module", "subscribe")), l)
	if err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	return s, nil
}

func newService(cfg *config.Config, db *gorm.DB, fetcher list.Fetcher, l logger.Logger) (*Service, error) {
	ctx := ctxkeys.WithTraceID(context.Background())
	group := list.NewGroup(storage.NewKV(db), fetcher, l.With("module", "list"))
	if err := group.Load(ctx); err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}
	table := storage.NewRuleTable(db, l.With("module", "rules"))
	s := &Service{
		cfg:      cfg,
		log:      l,
		db:       db,
		group:    group,
		engine:   rules.New(),
		table:    table,
		sync:     dnr.NewSynchronizer(table, group, l.With("module", "dnr")),
		sessions: session.NewManager(l.With("module", "session")),
		reload:   debounce.New(cfg.ReloadDelay()),
	}
	s.engine.SetReplaceFilter(s.sync.ReplaceExcluded)
	group.OnChange(func(c list.Change) {
		if c.Type == rulespec.ListTypeRequest {
			s.reload(s.reloadRules)
		}
	})
	if err := s.sync.Reload(ctx); err != nil {
		s.log.Err(err, "首次规则同步失败")
	}
	return s, nil
}

func (s *Service) reloadRules() {
	ctx := ctxkeys.WithTraceID(context.Background())
	if err := s.sync.Reload(ctx); err != nil {
		s.log.Err(err, "规则同步失败", "traceId", ctxkeys.TraceID(ctx))
	}
}

// Start 启动后台任务：订阅定时刷新
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	r := subscribe.NewRefresher(s.group, s.cfg.SubscriptionDelay(), s.cfg.SubscriptionInterval(), s.log.With("module", "refresher"))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.Run(ctx)
	}()
}

// Close 停止后台任务、关闭全部会话与存储
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	for _, sess := range s.sessions.List() {
		s.sessions.Delete(sess.ID)
		sess.Close()
	}
	return storage.Close(s.db)
}

// StartSession 创建连接浏览器的会话
func (s *Service) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = s.cfg.DevTools.URL
	}
	if cfg.ProcessTimeoutMS <= 0 {
		cfg.ProcessTimeoutMS = s.cfg.DevTools.ProcessTimeoutMS
	}
	sess := session.New(cfg)
	l := s.log.With("session", string(sess.ID))

	sess.Cookies = cookie.New(cookie.Options{
		Match: s.matchCookie,
		Writer: cookie.WriterFunc(func(ctx context.Context, w traffic.CookieWrite) error {
			return sess.CDP.SetCookie(ctx, w)
		}),
		Delay:  s.cfg.FlushDelay(),
		Logger: l.With("module", "cookie"),
	})
	h := handler.New(handler.Config{
		Engine:  s.engine,
		Source:  s.group,
		Cookies: sess.Cookies,
		Events:  sess.Events,
		Session: sess.ID,
		Logger:  l.With("module", "handler"),
	})
	sess.CDP = cdp.New(cdp.Options{
		DevToolsURL:    cfg.DevToolsURL,
		Handler:        h,
		ProcessTimeout: time.Duration(cfg.ProcessTimeoutMS) * time.Millisecond,
		Logger:         l.With("module", "cdp"),
	})
	s.sessions.Add(sess)
	return sess.ID, nil
}

func (s *Service) matchCookie(ev *traffic.CookieChange) *rules.CookieMatch {
	return s.engine.MatchCookie(s.group.RuleSets(rulespec.ListTypeCookie), ev)
}

// StopSession 关闭会话
func (s *Service) StopSession(id model.SessionID) error {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Close()
	return nil
}

func (s *Service) session(id model.SessionID) (*session.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// ListTargets 列出会话可附加的页面
func (s *Service) ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.CDP.ListTargets(ctx)
}

// AttachTarget 附加页面，target 为空时选择第一个页面
func (s *Service) AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) (model.TargetID, error) {
	sess, err := s.session(id)
	if err != nil {
		return "", err
	}
	return sess.CDP.AttachTarget(ctx, target)
}

// DetachTarget 分离页面
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	return sess.CDP.DetachTarget(target)
}

// EnableInterception 启用拦截
func (s *Service) EnableInterception(id model.SessionID) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	return sess.CDP.Enable()
}

// DisableInterception 停止拦截
func (s *Service) DisableInterception(ctx context.Context, id model.SessionID) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	return sess.CDP.Disable(ctx)
}

// SubscribeEvents 返回会话的事件通道
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.InterceptEvent, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.Events, nil
}

// Stats 返回引擎统计
func (s *Service) Stats() model.EngineStats { return s.engine.Stats() }
