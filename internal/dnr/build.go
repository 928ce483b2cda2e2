package dnr

import (
	"fmt"
	"slices"
	"strings"

	"requestx/internal/rules"
	"requestx/pkg/pattern"
	"requestx/pkg/rulespec"

	"github.com/samber/lo"
)

var actionTypes = map[rulespec.RequestType]ActionType{
	rulespec.RequestBlock:     ActionBlock,
	rulespec.RequestRedirect:  ActionRedirect,
	rulespec.RequestTransform: ActionRedirect,
	rulespec.RequestReplace:   ActionRedirect,
	rulespec.RequestHeaders:   ActionModifyHeaders,
}

// BuildListRules 将列表中启用且产生动作的规则转换为声明式规则
// 超出容量的规则不会被转换，其错误按规则下标返回
func BuildListRules(list rulespec.ListData, excludedTabIDs []int) ([]Rule, map[int]error) {
	var out []Rule
	var errs map[int]error
	for i, item := range list.Rules {
		if !item.Enabled {
			continue
		}
		id := RuleID(list.ID, i)
		// ID 必须落在列表自己的命名空间内，不允许回绕到下一个列表
		if id/MaxRulesPerList != list.ID {
			if errs == nil {
				errs = make(map[int]error)
			}
			errs[i] = fmt.Errorf("%w: index %d, max %d", ErrRuleCapacity, i, MaxRuleIndex)
			continue
		}
		if r, ok := BuildRule(id, item, excludedTabIDs); ok {
			out = append(out, r)
		}
	}
	return out, errs
}

// BuildRule 转换单条请求规则，规则不产生任何动作时返回 false
func BuildRule(id int, item rulespec.RuleData, excludedTabIDs []int) (Rule, bool) {
	typ := item.Type
	if typ == "" {
		typ = rulespec.RequestBlock
	}
	actionType, ok := actionTypes[typ]
	if !ok {
		return Rule{}, false
	}
	r := Rule{
		ID:        id,
		Action:    Action{Type: actionType},
		Condition: Condition{ResourceTypes: slices.Clone(ResourceTypes)},
	}

	url := item.URL
	if url == "" {
		url = rulespec.DefaultURL
	}
	isRegexp := pattern.IsRegexpLiteral(url)
	if isRegexp {
		// 非法正则也原样下发，由规则表拒绝并记录错误
		r.Condition.RegexFilter = url[1 : len(url)-1]
	} else {
		// 匹配模式转为正则后可能超出长度限制，这里直接使用 urlFilter
		r.Condition.URLFilter = url
	}
	if methods := requestMethods(item.Methods); len(methods) > 0 {
		r.Condition.RequestMethods = methods
	}

	switch typ {
	case rulespec.RequestRedirect:
		switch item.Target {
		case "=":
			return Rule{}, false
		case "", "-":
			r.Action = Action{Type: ActionBlock}
			return r, true
		}
		if isRegexp {
			r.Action.Redirect = &Redirect{RegexSubstitution: item.Target}
		} else {
			r.Action.Redirect = &Redirect{URL: item.Target}
		}
	case rulespec.RequestTransform:
		r.Action.Redirect = &Redirect{Transform: buildURLTransform(item.Transform)}
	case rulespec.RequestReplace:
		r.Action.Redirect = &Redirect{URL: rules.DataURL(item.ContentType, item.Target)}
		r.Condition.ExcludedTabIDs = slices.Clone(excludedTabIDs)
	case rulespec.RequestHeaders:
		r.Action.RequestHeaders = headerOperations(item.RequestHeaders)
		r.Action.ResponseHeaders = headerOperations(item.ResponseHeaders)
		if r.Action.RequestHeaders == nil && r.Action.ResponseHeaders == nil {
			return Rule{}, false
		}
	}
	return r, true
}

func requestMethods(methods []string) []string {
	if slices.Contains(methods, rulespec.DefaultMethod) {
		return nil
	}
	return lo.Uniq(lo.Map(methods, func(m string, _ int) string { return strings.ToLower(m) }))
}

func headerOperations(items []rulespec.KeyValue) []HeaderOperation {
	var ops []HeaderOperation
	for _, op := range rulespec.HeaderOps(items) {
		if op.Remove {
			ops = append(ops, HeaderOperation{Header: op.Name, Operation: HeaderRemove})
		} else {
			ops = append(ops, HeaderOperation{Header: op.Name, Operation: HeaderSet, Value: op.Value})
		}
	}
	return ops
}

func buildURLTransform(t *rulespec.Transform) *URLTransform {
	out := &URLTransform{}
	if t == nil {
		return out
	}
	out.Host = t.Host
	out.Port = t.Port
	out.Username = t.Username
	out.Password = t.Password
	out.Path = t.Path

	q := rulespec.ParseQueryEdit(t.Query)
	switch {
	case q.Raw != nil:
		raw := *q.Raw
		out.Query = &raw
	case !q.Empty():
		qt := &QueryTransform{RemoveParams: q.Remove}
		for _, kv := range q.Set {
			qt.AddOrReplaceParams = append(qt.AddOrReplaceParams, QueryParam{Key: kv.Name, Value: kv.Value})
		}
		out.QueryTransform = qt
	}
	return out
}
