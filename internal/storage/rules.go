package storage

import (
	"context"
	"errors"
	"fmt"

	"requestx/internal/dnr"
	"requestx/internal/logger"

	"gorm.io/gorm"
)

// InstalledRule 已安装的声明式规则
type InstalledRule struct {
	ID   int    `gorm:"primaryKey;autoIncrement:false"`
	Body string `gorm:"type:text"`
}

// RuleTable 基于数据库的声明式规则表
// 每次 Update 在一个事务中先删除后添加，任一规则非法时整体回滚
type RuleTable struct {
	db  *gorm.DB
	log logger.Logger
}

// NewRuleTable 创建规则表
func NewRuleTable(db *gorm.DB, l logger.Logger) *RuleTable {
	if l == nil {
		l = logger.NewNop()
	}
	return &RuleTable{db: db, log: l}
}

// GetAll 按ID顺序返回全部规则
func (t *RuleTable) GetAll(ctx context.Context) ([]dnr.Rule, error) {
	var rows []InstalledRule
	if err := t.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]dnr.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := dnr.Decode([]byte(row.Body))
		if err != nil {
			t.log.Err(err, "规则解析失败，已忽略", "id", row.ID)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Update 删除并添加规则
func (t *RuleTable) Update(ctx context.Context, opts dnr.UpdateOptions) error {
	seen := make(map[int]bool, len(opts.AddRules))
	rows := make([]InstalledRule, 0, len(opts.AddRules))
	for i := range opts.AddRules {
		r := &opts.AddRules[i]
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: %d", dnr.ErrDuplicateID, r.ID)
		}
		seen[r.ID] = true
		body, err := dnr.Encode(*r)
		if err != nil {
			return fmt.Errorf("encode rule %d: %w", r.ID, err)
		}
		rows = append(rows, InstalledRule{ID: r.ID, Body: string(body)})
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(opts.RemoveRuleIDs) > 0 {
			if err := tx.Delete(&InstalledRule{}, opts.RemoveRuleIDs).Error; err != nil {
				return fmt.Errorf("remove rules: %w", err)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		var existing []int
		if err := tx.Model(&InstalledRule{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
			return fmt.Errorf("check rule ids: %w", err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %v", dnr.ErrDuplicateID, existing)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("add rules: %w", err)
		}
		return nil
	})
}

// Clear 删除全部规则
func (t *RuleTable) Clear(ctx context.Context) error {
	err := t.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&InstalledRule{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("clear rules: %w", err)
	}
	return nil
}
