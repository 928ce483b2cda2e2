package list

import (
	"requestx/internal/rules"
	"requestx/pkg/rulespec"
)

// List 已编译的列表；更新时整体替换，读取方持有的快照不会被修改
type List struct {
	data  rulespec.ListData
	rules []rules.Rule
}

// New 编译列表数据
func New(data rulespec.ListData) *List {
	l := &List{data: data, rules: make([]rules.Rule, 0, len(data.Rules))}
	for _, r := range data.Rules {
		l.rules = append(l.rules, rules.CreateRule(data.Type, r))
	}
	l.data.Rules = nil
	return l
}

func (l *List) ID() int                 { return l.data.ID }
func (l *List) Enabled() bool           { return l.data.Enabled }
func (l *List) Rules() []rules.Rule     { return l.rules }
func (l *List) Type() rulespec.ListType { return l.data.Type }

// Data 返回列表的序列化形式
func (l *List) Data() rulespec.ListData {
	out := l.data
	out.Rules = make([]rulespec.RuleData, 0, len(l.rules))
	for _, r := range l.rules {
		out.Rules = append(out.Rules, r.Dump())
	}
	return out
}

// apply 合并部分更新，返回新的列表数据
func (l *List) apply(p rulespec.ListPatch) rulespec.ListData {
	data := l.Data()
	if p.Name != nil {
		data.Name = *p.Name
	}
	if data.Name == "" {
		data.Name = rulespec.DefaultName
	}
	if p.Enabled != nil {
		data.Enabled = *p.Enabled
	}
	if p.SubscribeURL != nil {
		data.SubscribeURL = *p.SubscribeURL
	}
	if p.LastUpdated != nil {
		data.LastUpdated = *p.LastUpdated
	}
	if p.Rules != nil {
		data.Rules = *p.Rules
	}
	return data
}
