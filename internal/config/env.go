package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envModel 列出允许从环境变量覆盖的少量关键项（通常由部署系统注入连接串）。
type envModel struct {
	Env      string `env:"DATACORE_ENV"`
	HTTPAddr string `env:"DATACORE_HTTP_ADDR"`
	MySQLDSN string `env:"DATACORE_MYSQL_DSN"`
	RedisURL string `env:"DATACORE_REDIS_URL"`
	LogLevel string `env:"DATACORE_LOG_LEVEL"`
	RedisDB  *int   `env:"DATACORE_REDIS_DB"`
}

// applyEnv 解析失败时不修改 cfg。
func applyEnv(cfg *Config) error {
	var em envModel
	if err := env.Parse(&em); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if em.Env != "" {
		cfg.Env = em.Env
	}
	if em.HTTPAddr != "" {
		cfg.HTTPAddr = em.HTTPAddr
	}
	if em.MySQLDSN != "" {
		cfg.MySQL.DSNOverride = em.MySQLDSN
	}
	if em.RedisURL != "" {
		cfg.Redis.URL = em.RedisURL
	}
	if em.LogLevel != "" {
		cfg.Log.Level = em.LogLevel
	}
	if em.RedisDB != nil {
		cfg.Redis.DB = *em.RedisDB
	}
	return nil
}
