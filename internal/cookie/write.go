package cookie

import (
	"requestx/internal/rules"
	"requestx/pkg/traffic"
)

// BuildWrite 根据匹配结果构造回写项；属性已与目标一致时返回 false
func BuildWrite(ev *traffic.CookieChange, res *rules.CookieResult) (traffic.CookieWrite, bool) {
	c := ev.Cookie
	w := traffic.CookieWrite{
		URL:      c.URL(),
		Path:     c.Path,
		Name:     c.Name,
		Value:    c.Value,
		HTTPOnly: c.HTTPOnly,
		SameSite: c.SameSite,
		Secure:   c.Secure,
		StoreID:  c.StoreID,
	}
	if !c.HostOnly {
		domain := c.Domain
		w.Domain = &domain
	}
	if !c.Session && c.ExpirationDate != nil {
		exp := *c.ExpirationDate
		w.ExpirationDate = &exp
	}

	changed := ev.Removed
	if res.SameSite != nil && string(*res.SameSite) != c.SameSite {
		w.SameSite = string(*res.SameSite)
		changed = true
	}
	if res.HTTPOnly != nil && *res.HTTPOnly != c.HTTPOnly {
		w.HTTPOnly = *res.HTTPOnly
		changed = true
	}
	if res.Secure != nil && *res.Secure != c.Secure {
		w.Secure = *res.Secure
		changed = true
	}
	if res.SetExpiration {
		if !sameExpiration(w.ExpirationDate, res.ExpirationDate) {
			changed = true
		}
		w.ExpirationDate = res.ExpirationDate
	}
	return w, changed
}

func sameExpiration(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
