// Package rulespec 定义列表与规则的持久化数据格式
package rulespec

// ListType 列表类型
type ListType string

const (
	ListTypeRequest ListType = "request" // 请求拦截列表
	ListTypeCookie  ListType = "cookie"  // Cookie 拦截列表
)

// Valid 判断列表类型是否合法
func (t ListType) Valid() bool { return t == ListTypeRequest || t == ListTypeCookie }

// RequestType 请求规则的动作类型
type RequestType string

const (
	RequestBlock     RequestType = "block"
	RequestRedirect  RequestType = "redirect"
	RequestTransform RequestType = "transform"
	RequestReplace   RequestType = "replace"
	RequestHeaders   RequestType = "headers"
)

// SameSite Cookie 的 SameSite 属性
type SameSite string

const (
	SameSiteNoRestriction SameSite = "no_restriction"
	SameSiteLax           SameSite = "lax"
	SameSiteStrict        SameSite = "strict"
	SameSiteUnspecified   SameSite = "unspecified"
)

// 默认值，仅在读取时应用
const (
	DefaultMethod = "*"
	DefaultURL    = "*://*/*"
	DefaultName   = "No name"
)

// KeyValue 头部或查询参数编辑项
type KeyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Transform URL 组件改写
type Transform struct {
	Host     string     `json:"host,omitempty"`
	Port     string     `json:"port,omitempty"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"password,omitempty"`
	Path     string     `json:"path,omitempty"`
	Query    []KeyValue `json:"query,omitempty"`
}

// RuleData 规则的序列化形式，请求规则与 Cookie 规则共用
type RuleData struct {
	Enabled bool   `json:"enabled"`
	Comment string `json:"comment,omitempty"`
	URL     string `json:"url"`

	// 请求规则
	Methods         []string    `json:"methods,omitempty"`
	Type            RequestType `json:"type,omitempty"`
	Target          string      `json:"target,omitempty"`
	ContentType     string      `json:"contentType,omitempty"`
	RequestHeaders  []KeyValue  `json:"requestHeaders,omitempty"`
	ResponseHeaders []KeyValue  `json:"responseHeaders,omitempty"`
	Transform       *Transform  `json:"transform,omitempty"`

	// Cookie 规则；TTL 为 0 表示会话 Cookie，正数覆盖过期时间，缺省不改动
	Name     string    `json:"name,omitempty"`
	SameSite *SameSite `json:"sameSite,omitempty"`
	HTTPOnly *bool     `json:"httpOnly,omitempty"`
	Secure   *bool     `json:"secure,omitempty"`
	TTL      *int64    `json:"ttl,omitempty"`
}

// ListData 列表的序列化形式
type ListData struct {
	ID           int        `json:"id"`
	Name         string     `json:"name"`
	Type         ListType   `json:"type"`
	Enabled      bool       `json:"enabled"`
	SubscribeURL string     `json:"subscribeUrl"`
	LastUpdated  int64      `json:"lastUpdated"`
	Rules        []RuleData `json:"rules"`
}

// Subscribed 是否为远程订阅列表
func (l *ListData) Subscribed() bool { return l.SubscribeURL != "" }

// ListPatch 列表的部分更新，nil 字段保持不变；ID 为 0 时表示新建
type ListPatch struct {
	ID           int         `json:"id,omitempty"`
	Name         *string     `json:"name,omitempty"`
	Type         ListType    `json:"type,omitempty"`
	Enabled      *bool       `json:"enabled,omitempty"`
	SubscribeURL *string     `json:"subscribeUrl,omitempty"`
	LastUpdated  *int64      `json:"lastUpdated,omitempty"`
	Rules        *[]RuleData `json:"rules,omitempty"`
}

// ListGroups 按类型分组的列表
type ListGroups struct {
	Request []ListData `json:"request"`
	Cookie  []ListData `json:"cookie"`
}

// Ptr 返回值的指针，便于构造可选字段
func Ptr[T any](v T) *T { return &v }
