package rules

import (
	"sync"
	"time"

	"requestx/internal/metrics"
	"requestx/pkg/model"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

// Engine 按列表顺序、规则顺序求值，首个命中的规则生效
type Engine struct {
	mu    sync.Mutex
	stats model.EngineStats
	now   func() time.Time
	// replaceExcluded 返回 true 的标签页跳过 replace 规则
	replaceExcluded func(tabID int) bool
}

// New 创建规则引擎
func New() *Engine {
	return &Engine{
		stats: model.EngineStats{ByList: make(map[int]int64)},
		now:   time.Now,
	}
}

// SetClock 替换时间源
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetReplaceFilter 设置内容替换的标签页排除判断，须在匹配开始前调用
func (e *Engine) SetReplaceFilter(excluded func(tabID int) bool) { e.replaceExcluded = excluded }

func (e *Engine) skipRule(r *RequestRule, d *traffic.RequestDetails) bool {
	return r.Type() == rulespec.RequestReplace && e.replaceExcluded != nil && e.replaceExcluded(d.TabID)
}

// RequestMatch 请求阶段的匹配结果
type RequestMatch struct {
	ListID    int
	RuleIndex int
	Result    *RequestResult
}

// CookieMatch Cookie 变更的匹配结果
type CookieMatch struct {
	ListID    int
	RuleIndex int
	Result    *CookieResult
}

// MatchRequest 在指定阶段匹配请求，无匹配返回 nil
func (e *Engine) MatchRequest(sets []RuleSet, d *traffic.RequestDetails, phase Phase) *RequestMatch {
	var found *RequestMatch
	eachRule(sets, func(set RuleSet, i int, rule Rule) bool {
		rr, ok := rule.(*RequestRule)
		if !ok || e.skipRule(rr, d) {
			return false
		}
		if res := rr.Match(phase, d); res != nil {
			found = &RequestMatch{ListID: set.ID(), RuleIndex: i, Result: res}
			return true
		}
		return false
	})
	if found != nil {
		e.record(phase, found.ListID)
	} else {
		e.record(phase, 0)
	}
	return found
}

// MatchCookie 匹配 Cookie 变更，无匹配返回 nil
func (e *Engine) MatchCookie(sets []RuleSet, ev *traffic.CookieChange) *CookieMatch {
	now := e.now()
	var found *CookieMatch
	eachRule(sets, func(set RuleSet, i int, rule Rule) bool {
		cr, ok := rule.(*CookieRule)
		if !ok {
			return false
		}
		if res := cr.OnCookieChange(ev, now); res != nil {
			found = &CookieMatch{ListID: set.ID(), RuleIndex: i, Result: res}
			return true
		}
		return false
	})
	if found != nil {
		e.record(PhaseCookieChange, found.ListID)
	} else {
		e.record(PhaseCookieChange, 0)
	}
	return found
}

// Stats 返回统计快照
func (e *Engine) Stats() model.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := model.EngineStats{
		Total:   e.stats.Total,
		Matched: e.stats.Matched,
		ByList:  make(map[int]int64, len(e.stats.ByList)),
	}
	for k, v := range e.stats.ByList {
		out.ByList[k] = v
	}
	return out
}

func (e *Engine) record(phase Phase, listID int) {
	metrics.EventsTotal.WithLabelValues(string(phase)).Inc()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	if listID == 0 {
		return
	}
	metrics.MatchesTotal.WithLabelValues(string(phase)).Inc()
	e.stats.Matched++
	e.stats.ByList[listID]++
}

// eachRule 依次遍历启用列表中的启用规则，回调返回 true 时停止
func eachRule(sets []RuleSet, fn func(set RuleSet, i int, rule Rule) bool) {
	for _, set := range sets {
		if !set.Enabled() {
			continue
		}
		for i, rule := range set.Rules() {
			if !rule.Enabled() {
				continue
			}
			if fn(set, i, rule) {
				return
			}
		}
	}
}
