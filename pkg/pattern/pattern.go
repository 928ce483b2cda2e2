// Package pattern 将规则中的 URL/文本模式编译为匹配器
package pattern

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// AllURLs 匹配任意 URL 的特殊模式
const AllURLs = "<all_urls>"

// Kind 匹配器类型
type Kind uint8

const (
	KindNever Kind = iota // 永不匹配
	KindAll               // 匹配一切
	KindRegexp            // /.../ 字面正则
	KindMatchPattern      // scheme://host/path
	KindText              // 通配文本
)

var (
	matchPatternRe = regexp.MustCompile(`^([^:]+)://([^/]*)(/.*)$`)
	allURLsRe      = regexp.MustCompile(`^(?:(?P<scheme>[^:/]+)://(?P<host>[^/]*)/?(?P<path>.*))?`)
	fillRe         = regexp.MustCompile(`\\(.)|\$(\w+)|\$\{([^}]+)\}`)
)

// Matcher 编译后的模式；零值永不匹配
type Matcher struct {
	source string
	kind   Kind
	re     *regexp.Regexp
}

// Source 返回原始模式字符串
func (m *Matcher) Source() string { return m.source }

// Kind 返回匹配器类型
func (m *Matcher) Kind() Kind { return m.kind }

// Regexp 返回底层正则，永不匹配与匹配一切时为 nil 或通配正则
func (m *Matcher) Regexp() *regexp.Regexp { return m.re }

// Test 判断候选字符串是否匹配
func (m *Matcher) Test(s string) bool {
	switch m.kind {
	case KindAll:
		return true
	case KindNever:
		return false
	default:
		return m.re.MatchString(s)
	}
}

// Match 匹配并返回捕获组，不匹配时返回 nil
func (m *Matcher) Match(s string) *Captures {
	switch m.kind {
	case KindNever:
		return nil
	case KindAll:
		// allURLsRe 总能匹配（可选组），这里仅为取出 scheme/host/path
		return newCaptures(allURLsRe, allURLsRe.FindStringSubmatch(s))
	}
	sub := m.re.FindStringSubmatch(s)
	if sub == nil {
		return nil
	}
	return newCaptures(m.re, sub)
}

// Captures 一次匹配得到的位置与命名捕获组
type Captures struct {
	groups []string
	names  map[string]int
}

func newCaptures(re *regexp.Regexp, sub []string) *Captures {
	c := &Captures{groups: sub, names: make(map[string]int)}
	for i, name := range re.SubexpNames() {
		if name != "" {
			c.names[name] = i
		}
	}
	return c
}

// Get 按序号或名称取捕获值，不存在时返回空串
func (c *Captures) Get(key string) string {
	if c == nil {
		return ""
	}
	if n, err := strconv.Atoi(key); err == nil {
		if n >= 0 && n < len(c.groups) {
			return c.groups[n]
		}
		return ""
	}
	if i, ok := c.names[key]; ok && i < len(c.groups) {
		return c.groups[i]
	}
	return ""
}

// Fill 用捕获组填充模板：\x 输出字面 x，$name 与 ${name} 替换为捕获值
func Fill(template string, c *Captures) string {
	if !strings.ContainsAny(template, `\$`) {
		return template
	}
	return fillRe.ReplaceAllStringFunc(template, func(s string) string {
		sub := fillRe.FindStringSubmatch(s)
		switch {
		case sub[1] != "":
			return sub[1]
		case sub[2] != "":
			return c.Get(sub[2])
		default:
			return c.Get(sub[3])
		}
	})
}

// Never 返回永不匹配的哨兵
func Never(source string) *Matcher { return &Matcher{source: source, kind: KindNever} }

// Compile 编译 URL 模式，永不失败：非法模式退化为永不匹配
func Compile(p string) *Matcher {
	if p == AllURLs {
		return &Matcher{source: p, kind: KindAll}
	}
	if re, ok := LoadRegexp(p); ok {
		return &Matcher{source: p, kind: KindRegexp, re: re}
	}
	if IsRegexpLiteral(p) {
		return Never(p)
	}
	sub := matchPatternRe.FindStringSubmatch(p)
	if sub == nil {
		return Never(p)
	}
	scheme, host, path := sub[1], sub[2], sub[3]
	if scheme == "*" {
		scheme = `[^:]+`
	} else {
		scheme = regexp.QuoteMeta(scheme)
	}
	host = hostExpr(host)
	expr := `^(?P<scheme>` + scheme + `)://(?P<host>` + host + `)/(?P<path>` + wildcard(path[1:]) + `)$`
	re, err := regexp.Compile(expr)
	if err != nil {
		return Never(p)
	}
	return &Matcher{source: p, kind: KindMatchPattern, re: re}
}

// CompileText 编译文本模式：/.../ 为正则，否则按 * 通配全串匹配，空串匹配一切
func CompileText(p string) *Matcher {
	if p == "" {
		return &Matcher{source: p, kind: KindAll}
	}
	if re, ok := LoadRegexp(p); ok {
		return &Matcher{source: p, kind: KindRegexp, re: re}
	}
	if IsRegexpLiteral(p) {
		return Never(p)
	}
	re, err := regexp.Compile(`^` + wildcard(p) + `$`)
	if err != nil {
		return Never(p)
	}
	return &Matcher{source: p, kind: KindText, re: re}
}

// LoadRegexp 解析 /.../ 形式的字面正则
func LoadRegexp(p string) (*regexp.Regexp, bool) {
	if !IsRegexpLiteral(p) {
		return nil, false
	}
	re, err := regexp.Compile(p[1 : len(p)-1])
	if err != nil {
		return nil, false
	}
	return re, true
}

// IsRegexpLiteral 是否为 /.../ 形式
func IsRegexpLiteral(p string) bool {
	return len(p) >= 2 && p[0] == '/' && p[len(p)-1] == '/'
}

func hostExpr(host string) string {
	switch {
	case host == "*":
		return `[^/]+`
	case strings.HasPrefix(host, "*."):
		return `(?:[^/]*?\.)?` + wildcard(asciiHost(host[2:]))
	default:
		return wildcard(asciiHost(host))
	}
}

// asciiHost 将国际化域名转为 punycode，失败时保留原值
func asciiHost(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] >= 0x80 {
			if a, err := idna.Lookup.ToASCII(host); err == nil {
				return a
			}
			return host
		}
	}
	return host
}

// wildcard 转义字面字符后把 * 替换为非贪婪通配
func wildcard(s string) string {
	parts := strings.Split(s, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return strings.Join(parts, ".*?")
}
