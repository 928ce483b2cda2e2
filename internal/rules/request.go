package rules

import (
	"encoding/base64"
	"net"
	"net/url"
	"strings"

	"requestx/pkg/pattern"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

type requestAction func(r *RequestRule, d *traffic.RequestDetails, c *pattern.Captures) *RequestResult

// 每个阶段按动作类型分发；表中缺失的类型在该阶段不产生匹配
var requestPhases = map[Phase]map[rulespec.RequestType]requestAction{
	PhaseBeforeRequest: {
		rulespec.RequestBlock:     blockRequest,
		rulespec.RequestRedirect:  redirectRequest,
		rulespec.RequestReplace:   replaceRequest,
		rulespec.RequestTransform: transformRequest,
	},
	PhaseBeforeSendHeaders: {
		rulespec.RequestHeaders: func(r *RequestRule, d *traffic.RequestDetails, c *pattern.Captures) *RequestResult {
			headers, payload := editHeaders(r.data.RequestHeaders, d.RequestHeaders, c)
			if payload == nil {
				return nil
			}
			return &RequestResult{RequestHeaders: headers, Payload: payload}
		},
	},
	PhaseHeadersReceived: {
		rulespec.RequestHeaders: func(r *RequestRule, d *traffic.RequestDetails, c *pattern.Captures) *RequestResult {
			headers, payload := editHeaders(r.data.ResponseHeaders, d.ResponseHeaders, c)
			if payload == nil {
				return nil
			}
			return &RequestResult{ResponseHeaders: headers, Payload: payload}
		},
	},
}

// RequestRule 请求拦截规则
type RequestRule struct {
	data    rulespec.RuleData
	typ     rulespec.RequestType
	url     *pattern.Matcher
	methods map[string]bool
}

// NewRequestRule 编译请求规则，非法模式退化为永不匹配
func NewRequestRule(data rulespec.RuleData) *RequestRule {
	r := &RequestRule{data: data, typ: data.Type, url: compileURL(data.URL)}
	if r.typ == "" {
		r.typ = rulespec.RequestBlock
	}
	for _, m := range data.Methods {
		if m == rulespec.DefaultMethod {
			r.methods = nil
			break
		}
		if r.methods == nil {
			r.methods = make(map[string]bool, len(data.Methods))
		}
		r.methods[strings.ToLower(m)] = true
	}
	return r
}

func (r *RequestRule) Kind() rulespec.ListType { return rulespec.ListTypeRequest }
func (r *RequestRule) Enabled() bool           { return r.data.Enabled }
func (r *RequestRule) Dump() rulespec.RuleData { return r.data }

// Type 返回动作类型，未设置时为 block
func (r *RequestRule) Type() rulespec.RequestType { return r.typ }

// URLPattern 返回编译后的 URL 匹配器
func (r *RequestRule) URLPattern() *pattern.Matcher { return r.url }

// TestMethod 方法集合为空时匹配任意方法
func (r *RequestRule) TestMethod(method string) bool {
	return r.methods == nil || r.methods[strings.ToLower(method)]
}

// Match 在指定阶段匹配请求，未匹配返回 nil
func (r *RequestRule) Match(phase Phase, d *traffic.RequestDetails) *RequestResult {
	action, ok := requestPhases[phase][r.typ]
	if !ok || !r.TestMethod(d.Method) {
		return nil
	}
	c := r.url.Match(d.URL)
	if c == nil {
		return nil
	}
	return action(r, d, c)
}

// OnBeforeRequest 请求发出前阶段
func (r *RequestRule) OnBeforeRequest(d *traffic.RequestDetails) *RequestResult {
	return r.Match(PhaseBeforeRequest, d)
}

// OnBeforeSendHeaders 请求头发送前阶段
func (r *RequestRule) OnBeforeSendHeaders(d *traffic.RequestDetails) *RequestResult {
	return r.Match(PhaseBeforeSendHeaders, d)
}

// OnHeadersReceived 响应头到达阶段
func (r *RequestRule) OnHeadersReceived(d *traffic.RequestDetails) *RequestResult {
	return r.Match(PhaseHeadersReceived, d)
}

func blockRequest(*RequestRule, *traffic.RequestDetails, *pattern.Captures) *RequestResult {
	return &RequestResult{Cancel: true}
}

func redirectRequest(r *RequestRule, _ *traffic.RequestDetails, c *pattern.Captures) *RequestResult {
	switch target := r.data.Target; target {
	case "=":
		return &RequestResult{}
	case "", "-":
		return &RequestResult{Cancel: true}
	default:
		return &RequestResult{RedirectURL: pattern.Fill(target, c)}
	}
}

func replaceRequest(r *RequestRule, _ *traffic.RequestDetails, _ *pattern.Captures) *RequestResult {
	return &RequestResult{RedirectURL: DataURL(r.data.ContentType, r.data.Target)}
}

func transformRequest(r *RequestRule, d *traffic.RequestDetails, _ *pattern.Captures) *RequestResult {
	if r.data.Transform == nil {
		return &RequestResult{}
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return &RequestResult{}
	}
	ApplyTransform(u, r.data.Transform)
	if next := u.String(); next != d.URL {
		return &RequestResult{RedirectURL: next}
	}
	return &RequestResult{}
}

// DataURL 构造 base64 编码的 data URI
func DataURL(contentType, body string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString([]byte(body))
}

// ApplyTransform 按组件改写 URL
func ApplyTransform(u *url.URL, t *rulespec.Transform) {
	if t.Host != "" || t.Port != "" {
		host, port := u.Hostname(), u.Port()
		if t.Host != "" {
			host = t.Host
		}
		if t.Port != "" {
			port = t.Port
		}
		if port != "" {
			u.Host = net.JoinHostPort(host, port)
		} else {
			u.Host = host
		}
	}
	if t.Username != "" || t.Password != "" {
		user, pass := "", ""
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}
		if t.Username != "" {
			user = t.Username
		}
		if t.Password != "" {
			pass = t.Password
		}
		u.User = url.UserPassword(user, pass)
	}
	if t.Path != "" {
		u.Path = t.Path
		u.RawPath = ""
	}
	q := rulespec.ParseQueryEdit(t.Query)
	switch {
	case q.Raw != nil:
		u.RawQuery = strings.TrimPrefix(*q.Raw, "?")
	case !q.Empty():
		values := u.Query()
		for _, name := range q.Remove {
			values.Del(name)
		}
		for _, kv := range q.Set {
			values.Set(kv.Name, kv.Value)
		}
		u.RawQuery = values.Encode()
	}
}

// editHeaders 在当前头部上应用编辑：先排除命中的名称，再追加新值
// 编辑为空时返回 nil payload
func editHeaders(items []rulespec.KeyValue, current traffic.Headers, c *pattern.Captures) (traffic.Headers, *HeaderPayload) {
	var added traffic.Headers
	exclude := make(map[string]bool)
	removing := make(map[string]bool)
	for _, item := range items {
		if item.Name == "" || item.Name[0] == rulespec.PrefixComment {
			continue
		}
		name := strings.ToLower(pattern.Fill(item.Name, c))
		if name != "" && name[0] == rulespec.PrefixRemove {
			name = name[1:]
			removing[name] = true
		} else {
			added = append(added, traffic.Header{Name: name, Value: pattern.Fill(item.Value, c)})
		}
		exclude[name] = true
	}
	if len(exclude) == 0 {
		return nil, nil
	}
	payload := &HeaderPayload{Added: added}
	out := make(traffic.Headers, 0, len(current)+len(added))
	for _, h := range current {
		lower := strings.ToLower(h.Name)
		if exclude[lower] {
			if removing[lower] {
				payload.Removed = append(payload.Removed, h.Name)
			}
			continue
		}
		out = append(out, h)
	}
	out = append(out, added...)
	return out, payload
}
