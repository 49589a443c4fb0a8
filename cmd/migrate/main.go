package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"datacore/internal/config"
	"datacore/internal/storage"
)

// 迁移命令：独立于服务进程执行待定迁移或查看台账。
// 用法：go run ./cmd/migrate [-config path] [-dry-run] [-status]
func main() {
	configPath := flag.String("config", "", "path to config file")
	dryRun := flag.Bool("dry-run", false, "list pending migrations without applying them")
	status := flag.Bool("status", false, "print the migration ledger and schema health")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			log.WithError(err).Fatal("load config")
		}
	}
	cfg.Log.Apply()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	db, err := storage.InitMySQL(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("connect mysql")
	}
	defer storage.CloseDB(db)
	m := storage.NewMigrator(db)
	migrations := storage.DefaultMigrations()

	switch {
	case *status:
		recs, err := m.Records(ctx)
		if err != nil {
			log.WithError(err).Fatal("read ledger")
		}
		for _, r := range recs {
			fmt.Printf("%-6s %-28s %s\n", r.Version, r.Name, r.AppliedAt.Format(time.RFC3339))
		}
		h, err := m.HealthCheck(ctx)
		if err != nil {
			log.WithError(err).Fatal("health check")
		}
		fmt.Printf("schema: %s (%s)\n", h.Status, h.Message)
		if !h.Healthy() {
			os.Exit(1)
		}
	case *dryRun:
		pending, err := m.Pending(ctx, migrations)
		if err != nil {
			log.WithError(err).Fatal("list pending")
		}
		if len(pending) == 0 {
			fmt.Println("schema is up to date")
			return
		}
		for _, p := range pending {
			fmt.Printf("pending %s %s\n", p.Version, p.Name)
		}
	default:
		report, err := m.RunPending(ctx, migrations)
		if err != nil {
			log.WithError(err).WithField("applied", report.Applied).Fatal("migration failed")
		}
		log.WithFields(log.Fields{"applied": report.Applied, "skipped": report.Skipped}).Info("migrations complete")
	}
}
