package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"requestx/pkg/traffic"
)

// CookieChanges 将响应中的 Set-Cookie 转换为 Cookie 变更
// 已过期的 Cookie 视为被覆盖删除，不属于显式设置
func CookieChanges(requestURL string, headers traffic.Headers, now time.Time) []traffic.CookieChange {
	u, err := url.Parse(requestURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	var out []traffic.CookieChange
	for _, hdr := range headers {
		if !strings.EqualFold(hdr.Name, "set-cookie") {
			continue
		}
		// 部分实现会把多个 Set-Cookie 用换行合并为一个头部
		for _, line := range strings.Split(hdr.Value, "\n") {
			hc, err := http.ParseSetCookie(strings.TrimSpace(line))
			if err != nil {
				continue
			}
			out = append(out, toCookieChange(u, hc, now))
		}
	}
	return out
}

func toCookieChange(u *url.URL, hc *http.Cookie, now time.Time) traffic.CookieChange {
	c := traffic.Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
		SameSite: sameSite(hc.SameSite),
		StoreID:  "0",
	}
	if hc.Domain == "" {
		c.HostOnly = true
		c.Domain = u.Hostname()
	} else {
		c.Domain = "." + strings.TrimPrefix(strings.ToLower(hc.Domain), ".")
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		c.Path = defaultPath(u.Path)
	}

	ev := traffic.CookieChange{Cause: traffic.CauseExplicit, Cookie: c}
	var exp time.Time
	switch {
	case hc.MaxAge < 0:
		exp = now
	case hc.MaxAge > 0:
		exp = now.Add(time.Duration(hc.MaxAge) * time.Second)
	case !hc.Expires.IsZero():
		exp = hc.Expires
	}
	if exp.IsZero() {
		ev.Cookie.Session = true
		return ev
	}
	if !exp.After(now) {
		ev.Cause = traffic.CauseExpiredOverwrite
		ev.Removed = true
	}
	sec := float64(exp.Unix())
	ev.Cookie.ExpirationDate = &sec
	return ev
}

// defaultPath 请求路径最后一个 / 之前的部分
func defaultPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

func sameSite(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "no_restriction"
	default:
		return "unspecified"
	}
}
