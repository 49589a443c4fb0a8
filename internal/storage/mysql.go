package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"datacore/internal/config"
)

// ErrConnectivity 表示存储不可达；启动阶段遇到该错误必须终止进程。
var ErrConnectivity = errors.New("storage: unreachable")

// GormConfig 返回统一的 GORM 配置：UTC 时间、翻译约束错误、仅输出告警级 SQL 日志。
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
}

// Open 以给定方言打开 GORM 连接并 PING 验证。测试通过 SQLite 方言复用该入口。
func Open(ctx context.Context, dialector gorm.Dialector, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = GormConfig()
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnectivity, dialector.Name(), err)
	}
	if err := Ping(ctx, db); err != nil {
		CloseDB(db)
		return nil, err
	}
	return db, nil
}

// InitMySQL 打开到 MySQL 的 GORM 连接并设置连接池；表结构由迁移引擎负责。
func InitMySQL(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	if err := cfg.MySQL.Validate(); err != nil {
		return nil, err
	}
	db, err := Open(ctx, mysql.Open(cfg.MySQL.DSN()), nil)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		CloseDB(db)
		return nil, fmt.Errorf("sql db: %w", err)
	}
	if cfg.MySQL.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	}
	if cfg.MySQL.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	}
	if cfg.MySQL.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	}
	return db, nil
}

// Ping 验证底层连接可用。
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: sql db: %v", ErrConnectivity, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping %s: %v", ErrConnectivity, db.Dialector.Name(), err)
	}
	return nil
}

// CloseDB 关闭底层 sql.DB 连接。
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	var s *sql.DB
	var err error
	s, err = db.DB()
	if err == nil && s != nil {
		_ = s.Close()
	}
}
