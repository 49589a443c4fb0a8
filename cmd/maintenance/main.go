package main

import (
	"context"
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"datacore/internal/config"
	"datacore/internal/services"
)

// 维护命令：供外部调度（cron 等）周期性调用，执行保留期清理并可选导出备份。
// 用法：go run ./cmd/maintenance [-config path] [-days N] [-backup path] [-skip-cleanup]
func main() {
	configPath := flag.String("config", "", "path to config file")
	days := flag.Int("days", 0, "delete system logs older than N days (default: retention.log_days)")
	backup := flag.String("backup", "", "write a JSON backup snapshot to this path")
	skipCleanup := flag.Bool("skip-cleanup", false, "only write the backup")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			log.WithError(err).Fatal("load config")
		}
	}
	cfg.Log.Apply()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	core, err := services.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer func() { _ = core.Close() }()
	log.AddHook(services.NewSystemLogHook(core.Logs))

	if !*skipCleanup {
		if _, err := core.Maintenance.Cleanup(ctx, *days); err != nil {
			log.WithError(err).Fatal("cleanup failed")
		}
	}
	if *backup != "" {
		if _, err := core.Maintenance.BackupToFile(ctx, *backup); err != nil {
			log.WithError(err).Fatal("backup failed")
		}
	}
}
