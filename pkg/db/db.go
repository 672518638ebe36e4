// Package db 提供 GORM 初始化、连接池配置、事务助手与 upsert
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	pkglogger "github.com/wyfcoding/grandexchange/pkg/logger"
)

// Config 数据库配置
type Config struct {
	Driver             string
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    int
	LogEnabled         bool
	SlowQueryThreshold int
}

// DB 数据库实例包装
type DB struct {
	*gorm.DB
	config Config
}

// Init 初始化数据库连接
func Init(ctx context.Context, cfg Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(cfg.LogEnabled, time.Duration(cfg.SlowQueryThreshold)*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pkglogger.Info(ctx, "Database connected successfully", "driver", "mysql")
	return &DB{DB: gdb, config: cfg}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx 在事务中执行函数，fn 返回错误或 panic 时回滚
func (d *DB) WithTx(ctx context.Context, fn func(*gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// UpsertWithConflict 按唯一列插入或更新指定列
func (d *DB) UpsertWithConflict(ctx context.Context, record any, uniqueFields []string, updateFields []string) error {
	columns := make([]clause.Column, 0, len(uniqueFields))
	for _, name := range uniqueFields {
		columns = append(columns, clause.Column{Name: name})
	}
	return d.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(updateFields),
	}).Create(record).Error
}

// GormLogger GORM 日志适配到 pkg/logger
type GormLogger struct {
	enabled            bool
	slowQueryThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志记录器
func NewGormLogger(enabled bool, slowQueryThreshold time.Duration) *GormLogger {
	if slowQueryThreshold <= 0 {
		slowQueryThreshold = 200 * time.Millisecond
	}
	return &GormLogger{
		enabled:            enabled,
		slowQueryThreshold: slowQueryThreshold,
	}
}

// LogMode 设置日志模式
func (l *GormLogger) LogMode(logger.LogLevel) logger.Interface {
	return l
}

// Info 记录信息日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.enabled {
		pkglogger.Info(ctx, msg, "data", data)
	}
}

// Warn 记录警告日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	pkglogger.Warn(ctx, msg, "data", data)
}

// Error 记录错误日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	pkglogger.Error(ctx, msg, "data", data)
}

// Trace 记录 SQL 执行日志，出错与慢查询总是记录
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if err == nil && elapsed <= l.slowQueryThreshold && !l.enabled {
		return
	}
	sqlStr, rows := fc()
	args := []any{
		"duration", elapsed,
		"rows", rows,
		"sql", sqlStr,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		args = append(args, "error", err)
		pkglogger.Error(ctx, "SQL execution failed", args...)
	case elapsed > l.slowQueryThreshold:
		pkglogger.Warn(ctx, "Slow query detected", args...)
	case l.enabled:
		pkglogger.Debug(ctx, "SQL executed", args...)
	}
}
