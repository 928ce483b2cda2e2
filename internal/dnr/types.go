// Package dnr 声明式规则表的数据结构、校验与同步
package dnr

import (
	"errors"
	"fmt"
	"regexp"

	json "github.com/goccy/go-json"
)

// MaxRulesPerList 每个列表的规则ID空间，规则ID = 列表ID*MaxRulesPerList + 下标 + 1
const MaxRulesPerList = 100

// MaxRuleIndex 可安装的最大规则下标，保证 ID/MaxRulesPerList 恒等于列表ID
const MaxRuleIndex = MaxRulesPerList - 2

// MaxRegexBytes 正则过滤器的长度上限
const MaxRegexBytes = 2 << 10

var (
	ErrInvalidRule  = errors.New("invalid rule")
	ErrDuplicateID  = errors.New("duplicate rule id")
	ErrRuleCapacity = errors.New("rule index exceeds list capacity")
)

// ActionType 动作类型
type ActionType string

const (
	ActionBlock         ActionType = "block"
	ActionRedirect      ActionType = "redirect"
	ActionModifyHeaders ActionType = "modifyHeaders"
)

// HeaderOperationType 头部操作类型
type HeaderOperationType string

const (
	HeaderSet    HeaderOperationType = "set"
	HeaderRemove HeaderOperationType = "remove"
)

// ResourceTypes 规则默认作用的资源类型
var ResourceTypes = []string{
	"csp_report", "font", "image", "main_frame", "media", "object", "other",
	"ping", "script", "stylesheet", "sub_frame", "websocket", "xmlhttprequest",
}

// Rule 声明式规则
type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority,omitempty"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

// Action 规则动作
type Action struct {
	Type            ActionType        `json:"type"`
	Redirect        *Redirect         `json:"redirect,omitempty"`
	RequestHeaders  []HeaderOperation `json:"requestHeaders,omitempty"`
	ResponseHeaders []HeaderOperation `json:"responseHeaders,omitempty"`
}

// Redirect 重定向目标，三种形式只能出现一种
type Redirect struct {
	URL               string        `json:"url,omitempty"`
	RegexSubstitution string        `json:"regexSubstitution,omitempty"`
	Transform         *URLTransform `json:"transform,omitempty"`
}

// URLTransform URL 组件改写；Query 非 nil 时整体替换查询串
type URLTransform struct {
	Host           string          `json:"host,omitempty"`
	Port           string          `json:"port,omitempty"`
	Username       string          `json:"username,omitempty"`
	Password       string          `json:"password,omitempty"`
	Path           string          `json:"path,omitempty"`
	Query          *string         `json:"query,omitempty"`
	QueryTransform *QueryTransform `json:"queryTransform,omitempty"`
}

// QueryTransform 查询参数增删
type QueryTransform struct {
	AddOrReplaceParams []QueryParam `json:"addOrReplaceParams,omitempty"`
	RemoveParams       []string     `json:"removeParams,omitempty"`
}

// QueryParam 查询参数
type QueryParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HeaderOperation 头部操作
type HeaderOperation struct {
	Header    string              `json:"header"`
	Operation HeaderOperationType `json:"operation"`
	Value     string              `json:"value,omitempty"`
}

// Condition 匹配条件
type Condition struct {
	URLFilter      string   `json:"urlFilter,omitempty"`
	RegexFilter    string   `json:"regexFilter,omitempty"`
	RequestMethods []string `json:"requestMethods,omitempty"`
	ResourceTypes  []string `json:"resourceTypes,omitempty"`
	ExcludedTabIDs []int    `json:"excludedTabIds,omitempty"`
}

// ListID 规则所属的列表ID
func (r *Rule) ListID() int { return r.ID / MaxRulesPerList }

// RuleIndex 规则在列表中的下标
func (r *Rule) RuleIndex() int { return r.ID - r.ListID()*MaxRulesPerList - 1 }

// RuleID 计算列表中第 index 条规则的ID
func RuleID(listID, index int) int { return listID*MaxRulesPerList + index + 1 }

// Encode 规则的规范编码，字段顺序固定，用于比较与持久化
func Encode(r Rule) ([]byte, error) { return json.Marshal(r) }

// Decode 解析规则编码
func Decode(raw []byte) (Rule, error) {
	var r Rule
	err := json.Unmarshal(raw, &r)
	return r, err
}

// Equal 按规范编码比较两条规则
func Equal(a, b Rule) bool {
	ea, err := Encode(a)
	if err != nil {
		return false
	}
	eb, err := Encode(b)
	if err != nil {
		return false
	}
	return string(ea) == string(eb)
}

// Validate 校验规则是否可被规则表接受
func (r *Rule) Validate() error {
	if r.ID < 1 {
		return fmt.Errorf("%w: id %d must be positive", ErrInvalidRule, r.ID)
	}
	c := r.Condition
	if c.URLFilter != "" && c.RegexFilter != "" {
		return fmt.Errorf("%w: rule %d has both urlFilter and regexFilter", ErrInvalidRule, r.ID)
	}
	if c.RegexFilter != "" {
		if len(c.RegexFilter) > MaxRegexBytes {
			return fmt.Errorf("%w: rule %d regexFilter exceeds %d bytes", ErrInvalidRule, r.ID, MaxRegexBytes)
		}
		if _, err := regexp.Compile(c.RegexFilter); err != nil {
			return fmt.Errorf("%w: rule %d regexFilter: %v", ErrInvalidRule, r.ID, err)
		}
	}

	a := r.Action
	switch a.Type {
	case ActionBlock:
	case ActionRedirect:
		if a.Redirect == nil {
			return fmt.Errorf("%w: rule %d redirect target missing", ErrInvalidRule, r.ID)
		}
		forms := 0
		for _, set := range []bool{a.Redirect.URL != "", a.Redirect.RegexSubstitution != "", a.Redirect.Transform != nil} {
			if set {
				forms++
			}
		}
		if forms != 1 {
			return fmt.Errorf("%w: rule %d redirect must have exactly one target form", ErrInvalidRule, r.ID)
		}
		if a.Redirect.RegexSubstitution != "" && c.RegexFilter == "" {
			return fmt.Errorf("%w: rule %d regexSubstitution requires regexFilter", ErrInvalidRule, r.ID)
		}
	case ActionModifyHeaders:
		if len(a.RequestHeaders) == 0 && len(a.ResponseHeaders) == 0 {
			return fmt.Errorf("%w: rule %d has no header operations", ErrInvalidRule, r.ID)
		}
		for _, ops := range [][]HeaderOperation{a.RequestHeaders, a.ResponseHeaders} {
			for _, op := range ops {
				if op.Header == "" {
					return fmt.Errorf("%w: rule %d header name is empty", ErrInvalidRule, r.ID)
				}
				if op.Operation == HeaderSet && op.Value == "" {
					return fmt.Errorf("%w: rule %d header %q requires a value", ErrInvalidRule, r.ID, op.Header)
				}
			}
		}
	default:
		return fmt.Errorf("%w: rule %d action %q", ErrInvalidRule, r.ID, a.Type)
	}
	return nil
}
