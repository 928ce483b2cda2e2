package session

import (
	"context"
	"time"

	"requestx/internal/cdp"
	"requestx/internal/cookie"
	"requestx/pkg/model"

	"github.com/google/uuid"
)

// EventBuffer 会话事件通道的容量
const EventBuffer = 256

// CloseTimeout 关闭时回写待处理 Cookie 的最长时间
const CloseTimeout = 3 * time.Second

// Session 一个浏览器连接会话
type Session struct {
	ID        model.SessionID
	Config    model.SessionConfig
	Events    chan model.InterceptEvent
	CreatedAt time.Time

	CDP     *cdp.Manager
	Cookies *cookie.Coalescer
}

// New 创建会话并分配ID
func New(cfg model.SessionConfig) *Session {
	return &Session{
		ID:        model.SessionID(uuid.NewString()),
		Config:    cfg,
		Events:    make(chan model.InterceptEvent, EventBuffer),
		CreatedAt: time.Now(),
	}
}

// Close 回写待处理的 Cookie 后停止拦截并释放连接
func (s *Session) Close() {
	if s.Cookies != nil {
		ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
		s.Cookies.Flush(ctx)
		cancel()
		s.Cookies.Stop()
	}
	if s.CDP != nil {
		s.CDP.Close()
	}
}
