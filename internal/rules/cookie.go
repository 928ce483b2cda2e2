package rules

import (
	"math"
	"time"

	"requestx/pkg/pattern"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

// CookieRule Cookie 拦截规则
type CookieRule struct {
	data rulespec.RuleData
	url  *pattern.Matcher
	name *pattern.Matcher
}

// NewCookieRule 编译 Cookie 规则
func NewCookieRule(data rulespec.RuleData) *CookieRule {
	return &CookieRule{
		data: data,
		url:  compileURL(data.URL),
		name: pattern.CompileText(data.Name),
	}
}

func (r *CookieRule) Kind() rulespec.ListType { return rulespec.ListTypeCookie }
func (r *CookieRule) Enabled() bool           { return r.data.Enabled }
func (r *CookieRule) Dump() rulespec.RuleData { return r.data }

// OnCookieChange 计算需要覆盖的 Cookie 属性，未匹配返回 nil
func (r *CookieRule) OnCookieChange(ev *traffic.CookieChange, now time.Time) *CookieResult {
	if ev.Cause != traffic.CauseExplicit {
		return nil
	}
	if !r.url.Test(ev.Cookie.URL()) {
		return nil
	}
	if !r.name.Test(ev.Cookie.Name) {
		return nil
	}
	ttl := r.data.TTL
	// 已删除的 Cookie 只有正 TTL 才能写回
	if ev.Removed && (ttl == nil || *ttl <= 0) {
		return nil
	}
	res := &CookieResult{
		SameSite: r.data.SameSite,
		HTTPOnly: r.data.HTTPOnly,
		Secure:   r.data.Secure,
	}
	if ttl != nil {
		res.SetExpiration = true
		if *ttl != 0 {
			exp := math.Floor(float64(now.Unix()) + float64(*ttl))
			res.ExpirationDate = &exp
		}
	}
	if res.SameSite != nil && *res.SameSite == rulespec.SameSiteNoRestriction {
		res.Secure = rulespec.Ptr(true)
	}
	return res
}
