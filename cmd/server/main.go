package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"datacore/internal/config"
	"datacore/internal/handlers"
	"datacore/internal/services"
)

// main 为服务入口：加载配置、初始化日志、完成启动流程（存储 → 缓存 → 迁移），随后启动运维 HTTP 服务。
// 存储不可达或迁移失败时进程直接退出，不对外提供服务。
func main() {
	configPath := flag.String("config", "", "path to config.yaml/json (default: ./config.yaml if present)")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			log.WithError(err).Fatal("load config")
		}
	}
	cfg.Log.Apply()

	// 生产环境基线检查：禁止默认数据库口令进入生产。
	if cfg.Env == "prod" && cfg.MySQL.DSNOverride == "" {
		if cfg.MySQL.Password == "123456" || cfg.MySQL.Password == "" {
			log.Fatal("insecure mysql password in prod; configure mysql.password or DATACORE_MYSQL_DSN")
		}
	}
	log.WithFields(log.Fields{
		"env":        cfg.Env,
		"http_addr":  cfg.HTTPAddr,
		"mysql_dsn":  cfg.MySQL.DSNMasked(),
		"redis_addr": cfg.Redis.Addr,
	}).Info("configuration loaded")

	startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	core, err := services.Open(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer func() { _ = core.Close() }()
	log.AddHook(services.NewSystemLogHook(core.Logs))

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(core)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	// 优雅退出
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown")
	} else {
		log.Info("server stopped")
	}
}
