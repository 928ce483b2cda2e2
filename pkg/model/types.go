package model

// SessionID 会话ID
type SessionID string

// TargetID 目标ID
type TargetID string

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	ProcessTimeoutMS int    `json:"processTimeoutMS"`
}

// EngineStats 引擎统计信息
type EngineStats struct {
	Total   int64         `json:"total"`
	Matched int64         `json:"matched"`
	ByList  map[int]int64 `json:"byList"`
}

// 事件类型
const (
	EventBlocked    = "blocked"
	EventRedirected = "redirected"
	EventModified   = "modified"
	EventPassed     = "passed"
	EventCookie     = "cookie"
	EventDegraded   = "degraded"
)

// InterceptEvent 拦截事件
type InterceptEvent struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	Phase     string    `json:"phase"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ListID    int       `json:"listId,omitempty"`
	RuleIndex int       `json:"ruleIndex,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// TargetInfo 目标信息
type TargetInfo struct {
	ID       TargetID `json:"id"`
	Type     string   `json:"type"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Attached bool     `json:"attached"`
}
