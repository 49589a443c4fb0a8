package config

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Apply 按配置设置全局 logrus：JSON（RFC3339Nano 时间戳）或文本格式，输出到 stdout。
// 无法识别的级别回退为 info。
func (l LogConfig) Apply() {
	if l.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	log.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(l.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
