package handler

import (
	"time"

	"requestx/internal/logger"
	"requestx/internal/rules"
	"requestx/pkg/model"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

// RuleSource 提供参与匹配的列表快照
type RuleSource interface {
	RuleSets(t rulespec.ListType) []rules.RuleSet
}

// CookieSink 接收 Cookie 变更
type CookieSink interface {
	HandleChange(ev *traffic.CookieChange) *rules.CookieMatch
}

// Handler 事件处理器，负责协调规则匹配、Cookie 变更与事件发送
type Handler struct {
	engine  *rules.Engine
	source  RuleSource
	cookies CookieSink
	events  chan model.InterceptEvent
	session model.SessionID
	now     func() time.Time
	log     logger.Logger
}

// Config 配置选项
type Config struct {
	Engine  *rules.Engine
	Source  RuleSource
	Cookies CookieSink
	Events  chan model.InterceptEvent
	Session model.SessionID
	Logger  logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Handler{
		engine:  cfg.Engine,
		source:  cfg.Source,
		cookies: cfg.Cookies,
		events:  cfg.Events,
		session: cfg.Session,
		now:     time.Now,
		log:     cfg.Logger,
	}
}

// RequestDecision 请求阶段的处理结果
type RequestDecision struct {
	Cancel      bool
	RedirectURL string
	// Headers 非 nil 时替换请求头
	Headers traffic.Headers
}

// ResponseDecision 响应阶段的处理结果
type ResponseDecision struct {
	// Headers 非 nil 时替换响应头
	Headers traffic.Headers
}

// HandleRequest 依次执行 onBeforeRequest 与 onBeforeSendHeaders
// 取消或重定向时不再进入发送头部阶段
func (h *Handler) HandleRequest(target model.TargetID, d *traffic.RequestDetails) RequestDecision {
	start := time.Now()
	var out RequestDecision
	if h.engine == nil || h.source == nil {
		h.sendEvent(target, model.EventPassed, rules.PhaseBeforeRequest, d, nil, nil)
		return out
	}
	sets := h.source.RuleSets(rulespec.ListTypeRequest)

	if m := h.engine.MatchRequest(sets, d, rules.PhaseBeforeRequest); m != nil {
		switch {
		case m.Result.Cancel:
			out.Cancel = true
			h.sendEvent(target, model.EventBlocked, rules.PhaseBeforeRequest, d, m, nil)
			h.log.Info("请求被阻止", "url", d.URL, "list", m.ListID, "rule", m.RuleIndex)
			return out
		case m.Result.RedirectURL != "":
			out.RedirectURL = m.Result.RedirectURL
			h.sendEvent(target, model.EventRedirected, rules.PhaseBeforeRequest, d, m, out.RedirectURL)
			h.log.Info("请求被重定向", "url", d.URL, "to", out.RedirectURL, "list", m.ListID, "rule", m.RuleIndex)
			return out
		}
	}

	if m := h.engine.MatchRequest(sets, d, rules.PhaseBeforeSendHeaders); m != nil && m.Result.RequestHeaders != nil {
		out.Headers = m.Result.RequestHeaders
		h.sendEvent(target, model.EventModified, rules.PhaseBeforeSendHeaders, d, m, m.Result.Payload)
		h.log.Debug("请求头已修改", "url", d.URL, "duration", time.Since(start))
		return out
	}

	h.sendEvent(target, model.EventPassed, rules.PhaseBeforeRequest, d, nil, nil)
	return out
}

// HandleResponse 执行 onHeadersReceived，并把最终响应头中的 Set-Cookie 作为 Cookie 变更处理
func (h *Handler) HandleResponse(target model.TargetID, d *traffic.RequestDetails) ResponseDecision {
	var out ResponseDecision
	final := d.ResponseHeaders
	if h.engine != nil && h.source != nil {
		sets := h.source.RuleSets(rulespec.ListTypeRequest)
		if m := h.engine.MatchRequest(sets, d, rules.PhaseHeadersReceived); m != nil && m.Result.ResponseHeaders != nil {
			out.Headers = m.Result.ResponseHeaders
			final = out.Headers
			h.sendEvent(target, model.EventModified, rules.PhaseHeadersReceived, d, m, m.Result.Payload)
		}
	}
	h.handleSetCookies(target, d, final)
	return out
}

// handleSetCookies 将 Set-Cookie 转换为 Cookie 变更
func (h *Handler) handleSetCookies(target model.TargetID, d *traffic.RequestDetails, headers traffic.Headers) {
	if h.cookies == nil {
		return
	}
	for _, ev := range CookieChanges(d.URL, headers, h.now()) {
		m := h.cookies.HandleChange(&ev)
		if m == nil {
			continue
		}
		h.sendEvent(target, model.EventCookie, rules.PhaseCookieChange, d, &rules.RequestMatch{ListID: m.ListID, RuleIndex: m.RuleIndex}, ev.Cookie.Name)
	}
}

// Degrade 记录被降级放行的请求
func (h *Handler) Degrade(target model.TargetID, d *traffic.RequestDetails, reason string) {
	h.sendEvent(target, model.EventDegraded, rules.PhaseBeforeRequest, d, nil, reason)
}

// sendEvent 安全发送事件到通道，通道已满时丢弃
func (h *Handler) sendEvent(target model.TargetID, typ string, phase rules.Phase, d *traffic.RequestDetails, m *rules.RequestMatch, payload any) {
	if h.events == nil {
		return
	}
	evt := model.InterceptEvent{
		Type:      typ,
		Session:   h.session,
		Target:    target,
		Phase:     string(phase),
		URL:       d.URL,
		Method:    d.Method,
		Payload:   payload,
		Timestamp: h.now().UnixMilli(),
	}
	if m != nil {
		evt.ListID = m.ListID
		evt.RuleIndex = m.RuleIndex
	}
	select {
	case h.events <- evt:
	default:
	}
}
