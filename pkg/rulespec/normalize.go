package rulespec

import (
	"errors"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

var legacyBackref = regexp.MustCompile(`\$(\d)`)

// ErrInvalidList 原始列表不是对象或缺少 rules 数组
var ErrInvalidList = errors.New("invalid list data")

// DecodeList 解析原始列表对象并规范化其中的规则
// type 缺省为 request，enabled 缺省为 true，name 为空时取默认名称
func DecodeList(raw []byte) (ListData, error) {
	r := gjson.ParseBytes(raw)
	if !r.IsObject() || !r.Get("rules").IsArray() {
		return ListData{}, ErrInvalidList
	}
	data := ListData{
		ID:           int(r.Get("id").Int()),
		Name:         r.Get("name").String(),
		Type:         ListType(r.Get("type").String()),
		Enabled:      !r.Get("enabled").Exists() || r.Get("enabled").Bool(),
		SubscribeURL: r.Get("subscribeUrl").String(),
		LastUpdated:  r.Get("lastUpdated").Int(),
	}
	if data.Type == "" {
		data.Type = ListTypeRequest
	}
	if data.Name == "" {
		data.Name = DefaultName
	}
	var raws []json.RawMessage
	for _, item := range r.Get("rules").Array() {
		raws = append(raws, json.RawMessage(item.Raw))
	}
	data.Rules = NormalizeRules(data.Type, raws)
	return data, nil
}

// NormalizeRequestRule 将一条原始请求规则转换为当前格式
// 旧格式（无 type 字段）可能展开为两条规则：动作规则与头部规则
func NormalizeRequestRule(raw json.RawMessage) []RuleData {
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil
	}
	if !r.Get("type").Exists() {
		return normalizeLegacyRequestRule(r)
	}
	rule := RuleData{
		Enabled:     !r.Get("enabled").Exists() || r.Get("enabled").Bool(),
		Comment:     r.Get("comment").String(),
		Type:        RequestType(r.Get("type").String()),
		URL:         r.Get("url").String(),
		Target:      r.Get("target").String(),
		ContentType: r.Get("contentType").String(),
	}
	if rule.Type == "" {
		rule.Type = RequestBlock
	}
	for _, m := range r.Get("methods").Array() {
		if s := m.String(); s != "" {
			rule.Methods = append(rule.Methods, strings.ToLower(s))
		}
	}
	rule.RequestHeaders = keyValues(r.Get("requestHeaders"))
	rule.ResponseHeaders = keyValues(r.Get("responseHeaders"))
	if t := r.Get("transform"); t.IsObject() {
		rule.Transform = &Transform{
			Host:     t.Get("host").String(),
			Port:     t.Get("port").String(),
			Username: t.Get("username").String(),
			Password: t.Get("password").String(),
			Path:     t.Get("path").String(),
			Query:    keyValues(t.Get("query")),
		}
	}
	return []RuleData{rule}
}

func normalizeLegacyRequestRule(r gjson.Result) []RuleData {
	var out []RuleData
	common := RuleData{
		Enabled: true,
		Type:    RequestBlock,
		URL:     r.Get("url").String(),
	}
	if m := r.Get("method").String(); m != "" && m != "*" {
		common.Methods = []string{strings.ToLower(m)}
	}
	target := r.Get("target").String()
	if target != "=" {
		rule := common
		switch {
		case target == "" || target == "-":
		case target[0] == '<':
			rule.Type = RequestReplace
			if i := strings.IndexByte(target, '\n'); i >= 0 {
				rule.ContentType = target[1:i]
				rule.Target = target[i+1:]
			} else {
				rule.ContentType = target[1:]
			}
		default:
			rule.Type = RequestRedirect
			rule.Target = legacyBackref.ReplaceAllString(target, `\$$1`)
		}
		out = append(out, rule)
	}
	reqHeaders := keyValues(r.Get("requestHeaders"))
	// 更早的格式：headers 为 [name, value] 二元组，"-" 前缀表示删除
	for _, pair := range r.Get("headers").Array() {
		kv := pair.Array()
		if len(kv) == 0 {
			continue
		}
		name := kv[0].String()
		if strings.HasPrefix(name, "-") {
			name = "!" + name[1:]
		}
		item := KeyValue{Name: name}
		if len(kv) > 1 {
			item.Value = kv[1].String()
		}
		reqHeaders = append(reqHeaders, item)
	}
	resHeaders := keyValues(r.Get("responseHeaders"))
	if len(reqHeaders) > 0 || len(resHeaders) > 0 {
		rule := common
		rule.Type = RequestHeaders
		rule.RequestHeaders = reqHeaders
		rule.ResponseHeaders = resHeaders
		out = append(out, rule)
	}
	return out
}

// NormalizeCookieRule 将一条原始 Cookie 规则转换为当前格式
func NormalizeCookieRule(raw json.RawMessage) RuleData {
	r := gjson.ParseBytes(raw)
	rule := RuleData{
		Enabled: !r.Get("enabled").Exists() || r.Get("enabled").Bool(),
		Comment: r.Get("comment").String(),
		URL:     r.Get("url").String(),
		Name:    r.Get("name").String(),
	}
	if v := r.Get("sameSite"); v.Exists() && v.String() != "" {
		rule.SameSite = Ptr(SameSite(v.String()))
	}
	if v := r.Get("httpOnly"); v.IsBool() {
		rule.HTTPOnly = Ptr(v.Bool())
	}
	if v := r.Get("secure"); v.IsBool() {
		rule.Secure = Ptr(v.Bool())
	}
	if v := r.Get("ttl"); v.Type == gjson.Number {
		rule.TTL = Ptr(v.Int())
	}
	return rule
}

// NormalizeRules 按列表类型规范化一组原始规则
func NormalizeRules(t ListType, raws []json.RawMessage) []RuleData {
	out := make([]RuleData, 0, len(raws))
	for _, raw := range raws {
		if t == ListTypeCookie {
			out = append(out, NormalizeCookieRule(raw))
		} else {
			out = append(out, NormalizeRequestRule(raw)...)
		}
	}
	return out
}

// keyValues 同时接受 [{name, value}] 数组与 {name: value} 对象
func keyValues(r gjson.Result) []KeyValue {
	var out []KeyValue
	switch {
	case r.IsArray():
		for _, item := range r.Array() {
			if !item.IsObject() {
				continue
			}
			out = append(out, KeyValue{Name: item.Get("name").String(), Value: item.Get("value").String()})
		}
	case r.IsObject():
		r.ForEach(func(k, v gjson.Result) bool {
			out = append(out, KeyValue{Name: k.String(), Value: v.String()})
			return true
		})
	}
	return out
}
