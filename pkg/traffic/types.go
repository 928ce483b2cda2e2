package traffic

import "strings"

// Header 单个 HTTP 头部
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers 保持顺序的头部列表
type Headers []Header

// Get 获取指定 Header 的值（大小写不敏感）
func (h Headers) Get(name string) (string, bool) {
	for _, item := range h {
		if strings.EqualFold(item.Name, name) {
			return item.Value, true
		}
	}
	return "", false
}

// Clone 复制头部列表
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// RequestDetails 中立的请求事件，每个拦截阶段投递一次
type RequestDetails struct {
	RequestID       string  // 事务唯一ID
	URL             string  // 完整URL
	Method          string  // HTTP方法
	ResourceType    string  // 资源类型 (如 Document, XHR)
	TabID           int     // 发起标签页，未知时为 -1
	RequestHeaders  Headers // 请求头
	ResponseHeaders Headers // 响应头（仅响应阶段）
	StatusCode      int     // 状态码（仅响应阶段）
}

// Cookie 浏览器中的一个 Cookie
type Cookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Secure         bool     `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	SameSite       string   `json:"sameSite"`
	HostOnly       bool     `json:"hostOnly"`
	Session        bool     `json:"session"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	StoreID        string   `json:"storeId"`
}

// URL 根据 secure/domain/path 还原 Cookie 所属 URL
func (c Cookie) URL() string {
	scheme := "http:"
	if c.Secure {
		scheme = "https:"
	}
	host := c.Domain
	if strings.HasPrefix(host, ".") {
		host = "www" + host
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	return scheme + "//" + host + path
}

// CookieCause Cookie 变更原因
type CookieCause string

const (
	CauseExplicit         CookieCause = "explicit"
	CauseOverwrite        CookieCause = "overwrite"
	CauseExpired          CookieCause = "expired"
	CauseExpiredOverwrite CookieCause = "expired_overwrite"
	CauseEvicted          CookieCause = "evicted"
)

// CookieChange Cookie 变更通知
type CookieChange struct {
	Cause   CookieCause
	Cookie  Cookie
	Removed bool
}

// CookieWrite 回写浏览器的 Cookie 设置
type CookieWrite struct {
	URL            string   `json:"url"`
	Domain         *string  `json:"domain,omitempty"`
	Path           string   `json:"path"`
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	HTTPOnly       bool     `json:"httpOnly"`
	SameSite       string   `json:"sameSite"`
	Secure         bool     `json:"secure"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	StoreID        string   `json:"storeId"`
}

// Key 合并待写入项所用的键
func (w CookieWrite) Key() string {
	return w.StoreID + "\n" + w.URL + "\n" + w.Name
}
