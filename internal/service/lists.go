package service

import (
	"context"

	"requestx/internal/dnr"
	"requestx/pkg/rulespec"
)

// Lists 返回全部列表
func (s *Service) Lists() rulespec.ListGroups { return s.group.All() }

// GetList 返回单个列表
func (s *Service) GetList(id int) (rulespec.ListData, error) { return s.group.Get(id) }

// SaveList 新建或更新列表
func (s *Service) SaveList(ctx context.Context, p rulespec.ListPatch) (rulespec.ListData, error) {
	return s.group.Save(ctx, p)
}

// RemoveList 删除列表
func (s *Service) RemoveList(ctx context.Context, id int) error { return s.group.Remove(ctx, id) }

// MoveLists 调整同类型列表的顺序
func (s *Service) MoveLists(ctx context.Context, t rulespec.ListType, selection []int, target int, downward bool) error {
	return s.group.Move(ctx, t, selection, target, downward)
}

// MoveRules 调整列表内规则的顺序
func (s *Service) MoveRules(ctx context.Context, id int, selection []int, target int, downward bool) (rulespec.ListData, error) {
	return s.group.MoveRules(ctx, id, selection, target, downward)
}

// FetchList 拉取单个订阅列表
func (s *Service) FetchList(ctx context.Context, id int) (rulespec.ListData, error) {
	return s.group.Fetch(ctx, id)
}

// FetchAll 拉取全部订阅列表
func (s *Service) FetchAll(ctx context.Context) map[int]error { return s.group.FetchAll(ctx) }

// Export 导出列表
func (s *Service) Export(ids ...int) ([]byte, error) { return s.group.Export(ids...) }

// Import 导入列表
func (s *Service) Import(ctx context.Context, raw []byte) ([]rulespec.ListData, error) {
	return s.group.Import(ctx, raw)
}

// Reload 立即执行一次规则同步
func (s *Service) Reload(ctx context.Context) error { return s.sync.Reload(ctx) }

// ResetRules 清空已安装的规则表并重新全量同步
func (s *Service) ResetRules(ctx context.Context) error {
	if err := s.table.Clear(ctx); err != nil {
		return err
	}
	s.log.Info("规则表已清空，重新同步")
	return s.sync.Reload(ctx)
}

// RuleErrors 返回规则安装错误
func (s *Service) RuleErrors() map[int]map[int]string { return s.sync.RuleErrors() }

// SetReplaceResponse 设置标签页是否应用内容替换
func (s *Service) SetReplaceResponse(ctx context.Context, tabID int, enabled bool) error {
	return s.sync.SetReplaceResponse(ctx, tabID, enabled)
}

// QueryReplaceResponse 查找匹配的内容替换
func (s *Service) QueryReplaceResponse(method, url string) (*dnr.ReplaceResponse, bool) {
	return s.sync.QueryReplaceResponse(method, url)
}
