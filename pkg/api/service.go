package api

import (
	"context"

	"requestx/internal/config"
	"requestx/internal/dnr"
	"requestx/internal/logger"
	"requestx/internal/service"
	"requestx/pkg/model"
	"requestx/pkg/rulespec"
)

// Service 服务接口
type Service interface {
	// Start 启动后台任务
	Start(ctx context.Context)

	// Close 释放全部资源
	Close() error

	// StartSession 启动会话
	StartSession(cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// ListTargets 列出目标
	ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error)

	// AttachTarget 附加目标
	AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) (model.TargetID, error)

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// EnableInterception 启用拦截
	EnableInterception(id model.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(ctx context.Context, id model.SessionID) error

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.InterceptEvent, error)

	// Stats 获取匹配统计
	Stats() model.EngineStats

	Lists() rulespec.ListGroups
	GetList(id int) (rulespec.ListData, error)
	SaveList(ctx context.Context, p rulespec.ListPatch) (rulespec.ListData, error)
	RemoveList(ctx context.Context, id int) error
	MoveLists(ctx context.Context, t rulespec.ListType, selection []int, target int, downward bool) error
	MoveRules(ctx context.Context, id int, selection []int, target int, downward bool) (rulespec.ListData, error)
	FetchList(ctx context.Context, id int) (rulespec.ListData, error)
	FetchAll(ctx context.Context) map[int]error
	Export(ids ...int) ([]byte, error)
	Import(ctx context.Context, raw []byte) ([]rulespec.ListData, error)

	// Reload 立即同步声明式规则
	Reload(ctx context.Context) error

	// ResetRules 清空规则表后重新全量同步
	ResetRules(ctx context.Context) error

	// RuleErrors 规则安装错误，按列表ID与规则下标索引
	RuleErrors() map[int]map[int]string

	SetReplaceResponse(ctx context.Context, tabID int, enabled bool) error
	QueryReplaceResponse(method, url string) (*dnr.ReplaceResponse, bool)
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
