package cdp

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"requestx/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"
)

// ErrNotDataURL 不是 data: URL
var ErrNotDataURL = errors.New("not a data url")

var resourceTypes = map[network.ResourceType]string{
	"Document":           "main_frame",
	"Stylesheet":         "stylesheet",
	"Image":              "image",
	"Media":              "media",
	"Font":               "font",
	"Script":             "script",
	"XHR":                "xmlhttprequest",
	"Fetch":              "xmlhttprequest",
	"WebSocket":          "websocket",
	"Ping":               "ping",
	"CSPViolationReport": "csp_report",
}

// ToRequestDetails 将 CDP 拦截事件转换为中立请求模型
func ToRequestDetails(ev *fetch.RequestPausedReply, tabID int) *traffic.RequestDetails {
	d := &traffic.RequestDetails{
		RequestID:      string(ev.RequestID),
		URL:            ev.Request.URL,
		Method:         ev.Request.Method,
		ResourceType:   ResourceType(ev.ResourceType),
		TabID:          tabID,
		RequestHeaders: HeadersFromJSON(ev.Request.Headers),
	}
	if ev.ResponseStatusCode != nil {
		d.StatusCode = *ev.ResponseStatusCode
		d.ResponseHeaders = FromHeaderEntries(ev.ResponseHeaders)
	}
	return d
}

// IsResponseStage 事件是否处于响应阶段
func IsResponseStage(ev *fetch.RequestPausedReply) bool {
	return ev.ResponseStatusCode != nil || ev.ResponseErrorReason != nil
}

// ResourceType 将 CDP 资源类型映射为规则使用的资源类型
func ResourceType(t network.ResourceType) string {
	if v, ok := resourceTypes[t]; ok {
		return v
	}
	return "other"
}

// HeadersFromJSON 按原始顺序解析 CDP 的头部对象
func HeadersFromJSON(raw []byte) traffic.Headers {
	if len(raw) == 0 {
		return nil
	}
	var out traffic.Headers
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		out = append(out, traffic.Header{Name: k.String(), Value: v.String()})
		return true
	})
	return out
}

// FromHeaderEntries 将 CDP 头部条目转换为中立头部
func FromHeaderEntries(entries []fetch.HeaderEntry) traffic.Headers {
	out := make(traffic.Headers, 0, len(entries))
	for _, e := range entries {
		out = append(out, traffic.Header{Name: e.Name, Value: e.Value})
	}
	return out
}

// ToHeaderEntries 将中立头部转换为 CDP 头部条目
func ToHeaderEntries(h traffic.Headers) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, item := range h {
		entries = append(entries, fetch.HeaderEntry{Name: item.Name, Value: item.Value})
	}
	return entries
}

// DecodeDataURL 解析 data: URL，返回内容类型与内容
func DecodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}
	if meta == "" {
		meta = "text/plain;charset=US-ASCII"
	}
	if isBase64 {
		body, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, err
		}
		return meta, body, nil
	}
	body, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, err
	}
	return meta, []byte(body), nil
}

// ToSetCookieArgs 将 Cookie 回写项转换为 Network.setCookie 参数
func ToSetCookieArgs(w traffic.CookieWrite) *network.SetCookieArgs {
	args := network.NewSetCookieArgs(w.Name, w.Value).
		SetURL(w.URL).
		SetPath(w.Path).
		SetSecure(w.Secure).
		SetHTTPOnly(w.HTTPOnly)
	if w.Domain != nil {
		args.SetDomain(*w.Domain)
	}
	switch w.SameSite {
	case "lax":
		args.SetSameSite(network.CookieSameSiteLax)
	case "strict":
		args.SetSameSite(network.CookieSameSiteStrict)
	case "no_restriction":
		args.SetSameSite(network.CookieSameSiteNone)
	}
	if w.ExpirationDate != nil {
		args.SetExpires(network.TimeSinceEpoch(*w.ExpirationDate))
	}
	return args
}
