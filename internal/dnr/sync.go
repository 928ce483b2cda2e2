package dnr

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"requestx/internal/logger"
	"requestx/internal/metrics"
	"requestx/internal/rules"
	"requestx/pkg/rulespec"

	"github.com/samber/lo"
)

// Table 外部声明式规则表；每次 Update 对其涉及的ID是原子的
type Table interface {
	GetAll(ctx context.Context) ([]Rule, error)
	Update(ctx context.Context, opts UpdateOptions) error
}

// UpdateOptions 一次规则表更新
type UpdateOptions struct {
	AddRules      []Rule
	RemoveRuleIDs []int
}

// ListSource 提供当前请求列表
type ListSource interface {
	Lists(t rulespec.ListType) []rulespec.ListData
}

// ReplaceResponse 内容替换规则的响应内容
type ReplaceResponse struct {
	ContentType string `json:"contentType"`
	Target      string `json:"target"`
}

// Synchronizer 将启用的请求列表同步到外部规则表
type Synchronizer struct {
	run sync.Mutex // 串行化同步过程

	mu       sync.RWMutex
	errors   map[int]map[int]string
	excluded []int
	replace  []*rules.RequestRule

	table  Table
	source ListSource
	log    logger.Logger
}

// NewSynchronizer 创建同步器
func NewSynchronizer(table Table, source ListSource, l logger.Logger) *Synchronizer {
	if l == nil {
		l = logger.NewNop()
	}
	return &Synchronizer{
		errors: make(map[int]map[int]string),
		table:  table,
		source: source,
		log:    l,
	}
}

// Reload 执行一次完整同步：先清除失效列表的规则，再逐个列表比对更新
func (s *Synchronizer) Reload(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()
	start := time.Now()
	defer func() { metrics.SyncDuration.Observe(time.Since(start).Seconds()) }()

	lists := lo.Filter(s.source.Lists(rulespec.ListTypeRequest), func(l rulespec.ListData, _ int) bool { return l.Enabled })
	listIDs := make(map[int]bool, len(lists))
	for _, l := range lists {
		listIDs[l.ID] = true
	}

	s.mu.Lock()
	for id := range s.errors {
		if !listIDs[id] {
			delete(s.errors, id)
		}
	}
	excluded := slices.Clone(s.excluded)
	s.mu.Unlock()

	current, err := s.table.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("get installed rules: %w", err)
	}

	stale := lo.FilterMap(current, func(r Rule, _ int) (int, bool) { return r.ID, !listIDs[r.ListID()] })
	if len(stale) > 0 {
		s.log.Debug("清除失效列表的规则", "ids", stale)
		if err := s.table.Update(ctx, UpdateOptions{RemoveRuleIDs: stale}); err != nil {
			metrics.SyncErrorsTotal.Inc()
			return fmt.Errorf("purge stale rules: %w", err)
		}
		metrics.SyncOperationsTotal.WithLabelValues(metrics.OpPurge).Inc()
	}

	byList := lo.GroupBy(current, func(r Rule) int { return r.ListID() })
	var failed []string
	for _, l := range lists {
		if err := s.reloadList(ctx, l, byList[l.ID], excluded); err != nil {
			s.log.Err(err, "列表规则同步失败", "list", l.ID)
			failed = append(failed, fmt.Sprintf("list %d: %v", l.ID, err))
		}
	}

	replace := make([]*rules.RequestRule, 0)
	for _, l := range lists {
		for _, item := range l.Rules {
			if item.Enabled && item.Type == rulespec.RequestReplace {
				replace = append(replace, rules.NewRequestRule(item))
			}
		}
	}
	s.mu.Lock()
	s.replace = replace
	s.mu.Unlock()

	s.log.Debug("规则同步完成", "lists", len(lists), "duration", time.Since(start))
	if len(failed) > 0 {
		return fmt.Errorf("reload rules: %s", strings.Join(failed, "; "))
	}
	return nil
}

type ruleUpdate struct {
	old *Rule
	new *Rule
}

// reloadList 比对单个列表的新旧规则，相同的跳过，不同的在一次更新中替换
func (s *Synchronizer) reloadList(ctx context.Context, list rulespec.ListData, current []Rule, excluded []int) error {
	desired, buildErrs := BuildListRules(list, excluded)

	updates := make(map[int]*ruleUpdate, len(current)+len(desired))
	for i := range current {
		updates[current[i].ID] = &ruleUpdate{old: &current[i]}
	}
	for i := range desired {
		r := &desired[i]
		u, ok := updates[r.ID]
		if ok && Equal(*u.old, *r) {
			delete(updates, r.ID)
			continue
		}
		if !ok {
			u = &ruleUpdate{}
			updates[r.ID] = u
		}
		u.new = r
	}

	var toRemove []int
	for id, u := range updates {
		if u.new == nil {
			toRemove = append(toRemove, id)
		}
	}
	if len(toRemove) > 0 {
		sort.Ints(toRemove)
		if err := s.table.Update(ctx, UpdateOptions{RemoveRuleIDs: toRemove}); err != nil {
			metrics.SyncErrorsTotal.Inc()
			return fmt.Errorf("remove rules %v: %w", toRemove, err)
		}
		metrics.SyncOperationsTotal.WithLabelValues(metrics.OpRemove).Inc()
	}

	errs := make(map[int]string, len(buildErrs))
	for i, err := range buildErrs {
		errs[i] = err.Error()
	}
	ids := lo.Keys(updates)
	sort.Ints(ids)
	for _, id := range ids {
		u := updates[id]
		if u.new == nil {
			continue
		}
		opts := UpdateOptions{AddRules: []Rule{*u.new}}
		op := metrics.OpInstall
		if u.old != nil {
			opts.RemoveRuleIDs = []int{u.old.ID}
			op = metrics.OpReplace
		}
		if err := s.table.Update(ctx, opts); err != nil {
			metrics.SyncErrorsTotal.Inc()
			s.log.Err(err, "规则安装失败", "list", list.ID, "rule", u.new.RuleIndex())
			errs[u.new.RuleIndex()] = err.Error()
			continue
		}
		metrics.SyncOperationsTotal.WithLabelValues(op).Inc()
	}

	s.mu.Lock()
	delete(s.errors, list.ID)
	if len(errs) > 0 {
		s.errors[list.ID] = errs
	}
	s.mu.Unlock()
	return nil
}

// RuleErrors 返回各列表的规则安装错误，键为列表ID与规则下标
func (s *Synchronizer) RuleErrors() map[int]map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]map[int]string, len(s.errors))
	for id, errs := range s.errors {
		out[id] = make(map[int]string, len(errs))
		for i, msg := range errs {
			out[id][i] = msg
		}
	}
	return out
}

// SetReplaceResponse 设置标签页是否应用内容替换规则，状态变化时重新同步
func (s *Synchronizer) SetReplaceResponse(ctx context.Context, tabID int, enabled bool) error {
	s.mu.Lock()
	i := slices.Index(s.excluded, tabID)
	switch {
	case !enabled && i < 0:
		s.excluded = append(s.excluded, tabID)
	case enabled && i >= 0:
		s.excluded = slices.Delete(s.excluded, i, i+1)
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Reload(ctx)
}

// ReplaceExcluded 标签页是否被排除在内容替换之外
func (s *Synchronizer) ReplaceExcluded(tabID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.excluded, tabID)
}

// QueryReplaceResponse 查找首个匹配的内容替换规则
func (s *Synchronizer) QueryReplaceResponse(method, url string) (*ReplaceResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.replace {
		if !r.TestMethod(method) || !r.URLPattern().Test(url) {
			continue
		}
		data := r.Dump()
		return &ReplaceResponse{ContentType: data.ContentType, Target: data.Target}, true
	}
	return nil, false
}
