package services

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datacore/internal/cache"
	"datacore/internal/config"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// Core 是进程级上下文：启动时构造一次，显式传递给所有调用方，Close 释放连接。
type Core struct {
	Config   config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Migrator *storage.Migrator
	Repos    *repository.Set
	Cache    *cache.Manager

	Users       *UserService
	Analyses    *AnalysisService
	Tools       *ToolService
	Stats       *StatsService
	Logs        *LogService
	Maintenance *MaintenanceService
}

// Open 执行启动流程：连接并验证存储（失败即终止）→ 连接 Redis（失败则降级）→ 执行待定迁移（失败即终止）。
// 迁移完成前不组装任何服务，因此不会有仓储或缓存流量先于迁移。
func Open(ctx context.Context, cfg config.Config) (*Core, error) {
	db, err := storage.InitMySQL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := storage.InitRedis(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, cache degraded")
	}
	core, err := New(ctx, cfg, db, rdb)
	if err != nil {
		storage.CloseDB(db)
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	return core, nil
}

// New 在已建立的连接上完成迁移并组装服务。rdb 可为 nil（缓存始终降级）。
func New(ctx context.Context, cfg config.Config, db *gorm.DB, rdb *redis.Client) (*Core, error) {
	migrator := storage.NewMigrator(db)
	report, err := migrator.RunPending(ctx, storage.DefaultMigrations())
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.WithFields(log.Fields{"applied": report.Applied, "skipped": len(report.Skipped)}).Info("schema up to date")

	repos := repository.NewSet(db)
	cm := cache.NewManager(cache.NewClient(rdb), cfg.Cache)
	c := &Core{
		Config: cfg, DB: db, Redis: rdb, Migrator: migrator, Repos: repos, Cache: cm,
		Users:       NewUserService(repos.Users, cm),
		Analyses:    NewAnalysisService(repos.Analyses, repos.Files, cm),
		Tools:       NewToolService(repos.Tools, cm),
		Stats:       NewStatsService(repos, cm, migrator, cfg.Cache.StatsTTL),
		Logs:        NewLogService(repos.Logs, "datacore"),
		Maintenance: NewMaintenanceService(repos, cm, cfg),
	}
	return c, nil
}

// Close 释放存储与缓存连接。
func (c *Core) Close() error {
	var err error
	if c.Redis != nil {
		err = c.Redis.Close()
	}
	storage.CloseDB(c.DB)
	return err
}
