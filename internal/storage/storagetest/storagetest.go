// Package storagetest 提供测试用的 SQLite 数据库（纯 Go 驱动，无需 CGO）。
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"datacore/internal/storage"
)

// Open 返回一个空数据库，开启外键约束；测试结束时自动关闭。
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "datacore.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	gcfg := storage.GormConfig()
	gcfg.Logger = logger.Discard
	db, err := storage.Open(context.Background(), sqlite.Open(dsn), gcfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { storage.CloseDB(db) })
	return db
}

// Migrated 返回已执行全部默认迁移的数据库。
func Migrated(t testing.TB) *gorm.DB {
	t.Helper()
	db := Open(t)
	_, err := storage.NewMigrator(db).RunPending(context.Background(), storage.DefaultMigrations())
	require.NoError(t, err)
	return db
}
