package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"datacore/internal/jsonval"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// LogService 将系统日志持久化到 system_logs。
type LogService struct {
	repo    *repository.LogRepository
	service string
}

// NewLogService service 为本进程写入日志时使用的服务名。
func NewLogService(repo *repository.LogRepository, service string) *LogService {
	return &LogService{repo: repo, service: service}
}

// Write 写入一条系统日志；details 必须是可表示为 JSON 的结构化值。
func (s *LogService) Write(ctx context.Context, service, level, message string, details any) (*storage.SystemLog, error) {
	if service == "" {
		service = s.service
	}
	entry := &storage.SystemLog{Level: level, Service: service, Message: message}
	if details != nil {
		raw, err := jsonval.Encode(details)
		if err != nil {
			return nil, fmt.Errorf("%w: details: %v", ErrValidation, err)
		}
		entry.Details = raw
	}
	return s.repo.Create(ctx, entry)
}

func (s *LogService) Recent(ctx context.Context, hours int) ([]storage.SystemLog, error) {
	return s.repo.ListRecent(ctx, hours)
}

// SystemLogHook 把 Warn 及以上级别的 logrus 日志同步写入 system_logs。
// 写入失败被丢弃，避免日志系统自身递归报错。
type SystemLogHook struct {
	logs    *LogService
	timeout time.Duration
}

func NewSystemLogHook(logs *LogService) *SystemLogHook {
	return &SystemLogHook{logs: logs, timeout: 2 * time.Second}
}

func (h *SystemLogHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel}
}

func (h *SystemLogHook) Fire(e *log.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	details := make(map[string]any, len(e.Data))
	service := ""
	for k, v := range e.Data {
		if k == "component" {
			service, _ = v.(string)
		}
		switch x := v.(type) {
		case error:
			details[k] = x.Error()
		case fmt.Stringer:
			details[k] = x.String()
		default:
			details[k] = v
		}
	}
	_, _ = h.logs.Write(ctx, service, levelName(e.Level), e.Message, sanitize(details))
	return nil
}

func levelName(l log.Level) string {
	switch l {
	case log.DebugLevel, log.TraceLevel:
		return storage.LevelDebug
	case log.InfoLevel:
		return storage.LevelInfo
	case log.WarnLevel:
		return storage.LevelWarning
	}
	return storage.LevelError
}

// sanitize 把无法表示为 JSON 的字段值替换为文本形式，钩子写入不会因字段形状失败。
func sanitize(fields map[string]any) map[string]any {
	for k, v := range fields {
		if _, err := jsonval.Normalize(v); err != nil {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return fields
}
