package storage

import (
	"context"
	"errors"
	"time"

	"requestx/internal/ctxkeys"
	applog "requestx/internal/logger"

	"gorm.io/gorm/logger"
)

// SlowThreshold 慢 SQL 阈值
const SlowThreshold = 200 * time.Millisecond

// GormLogger 将 gorm 日志转发到应用日志
type GormLogger struct {
	log      applog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger 创建 GormLogger，默认只输出警告与错误
func NewGormLogger(l applog.Logger) *GormLogger {
	return &GormLogger{log: l, LogLevel: logger.Warn}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

// Trace 记录 SQL 执行；记录不存在不视为错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := []any{"traceId", ctxkeys.TraceID(ctx), "sql", sql, "rows", rows, "elapsed", elapsed}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		l.log.Err(err, "SQL执行错误", kv...)
	case elapsed > SlowThreshold && l.LogLevel >= logger.Warn:
		l.log.Warn("慢SQL查询", append(kv, "threshold", SlowThreshold)...)
	case l.LogLevel >= logger.Info:
		l.log.Debug("SQL执行", kv...)
	}
}
