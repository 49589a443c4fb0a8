package storage

// Redis 连接初始化：提供带超时的连接与启动时健康检查（PING）。

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"datacore/internal/config"
)

// RedisOptions 根据配置生成连接参数：URL 优先，其次 Addr/DB/Password。
func RedisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// InitRedis 通过 go-redis v8 连接 Redis，并做一次 Ping 验证。
// Ping 失败时仍返回客户端：缓存是建议性的，调用方可选择降级运行。
func InitRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	opts, err := RedisOptions(cfg.Redis)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
