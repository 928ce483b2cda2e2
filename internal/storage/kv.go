package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record 键值表
type Record struct {
	Key       string    `gorm:"column:item_key;primaryKey"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time
}

// KV 键值存储
type KV struct {
	db *gorm.DB
}

// NewKV 创建键值存储
func NewKV(db *gorm.DB) *KV {
	return &KV{db: db}
}

// Get 读取多个键，不存在的键不出现在结果中
func (s *KV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var records []Record
	if err := s.db.WithContext(ctx).Where("item_key IN ?", keys).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("get %v: %w", keys, err)
	}
	for _, r := range records {
		out[r.Key] = []byte(r.Value)
	}
	return out, nil
}

// Set 在一个事务中写入多个键
func (s *KV) Set(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now()
	records := make([]Record, 0, len(items))
	for k, v := range items {
		records = append(records, Record{Key: k, Value: string(v), UpdatedAt: now})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("set %d keys: %w", len(items), err)
	}
	return nil
}

// Remove 删除多个键
func (s *KV) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("item_key IN ?", keys).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("remove %v: %w", keys, err)
	}
	return nil
}

// Scan 读取指定前缀的全部键值
func (s *KV) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	var records []Record
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	err := s.db.WithContext(ctx).
		Where(`item_key LIKE ? ESCAPE '\'`, escaped+"%").
		Order("item_key").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	out := make(map[string][]byte, len(records))
	for _, r := range records {
		out[r.Key] = []byte(r.Value)
	}
	return out, nil
}
