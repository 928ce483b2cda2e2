package rules

import (
	"requestx/pkg/pattern"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

// Phase 拦截阶段
type Phase string

const (
	PhaseBeforeRequest     Phase = "onBeforeRequest"
	PhaseBeforeSendHeaders Phase = "onBeforeSendHeaders"
	PhaseHeadersReceived   Phase = "onHeadersReceived"
	PhaseCookieChange      Phase = "onCookieChange"
)

// Rule 编译后的规则，具体为 *RequestRule 或 *CookieRule
type Rule interface {
	Kind() rulespec.ListType
	Enabled() bool
	// Dump 返回规则的序列化形式，不包含读取时补齐的默认值
	Dump() rulespec.RuleData
}

// RuleSet 可参与匹配的有序规则集合
type RuleSet interface {
	ID() int
	Enabled() bool
	Rules() []Rule
}

// CreateRule 按列表类型编译一条规则
func CreateRule(kind rulespec.ListType, data rulespec.RuleData) Rule {
	if kind == rulespec.ListTypeCookie {
		return NewCookieRule(data)
	}
	return NewRequestRule(data)
}

// HeaderPayload 记录头部编辑的诊断信息
type HeaderPayload struct {
	Added   traffic.Headers `json:"added,omitempty"`
	Removed []string        `json:"removed,omitempty"`
}

// RequestResult 请求阶段的指令；全部为空表示匹配但不做处理
type RequestResult struct {
	Cancel          bool            `json:"cancel,omitempty"`
	RedirectURL     string          `json:"redirectUrl,omitempty"`
	RequestHeaders  traffic.Headers `json:"requestHeaders,omitempty"`
	ResponseHeaders traffic.Headers `json:"responseHeaders,omitempty"`
	Payload         *HeaderPayload  `json:"-"`
}

// NoOp 是否为空指令
func (r *RequestResult) NoOp() bool {
	return !r.Cancel && r.RedirectURL == "" && r.RequestHeaders == nil && r.ResponseHeaders == nil
}

// CookieResult Cookie 属性覆盖
type CookieResult struct {
	SameSite *rulespec.SameSite
	HTTPOnly *bool
	Secure   *bool
	// SetExpiration 为 true 时 ExpirationDate 覆盖原值，nil 表示会话 Cookie
	SetExpiration  bool
	ExpirationDate *float64
}

func compileURL(src string) *pattern.Matcher {
	if src == "" {
		src = rulespec.DefaultURL
	}
	return pattern.Compile(src)
}
