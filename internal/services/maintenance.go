package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"datacore/internal/cache"
	"datacore/internal/config"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// CleanupReport 记录一次清理各类数据的删除数量。
type CleanupReport struct {
	ArchivedLogs   int64 `json:"archived_logs"`
	SystemLogs     int64 `json:"system_logs"`
	CacheEntries   int64 `json:"cache_entries"`
	FailedAnalyses int64 `json:"failed_analyses"`
}

// Backup 是一次时间点快照，只写不读。
type Backup struct {
	Timestamp       time.Time                `json:"timestamp"`
	Users           []Profile                `json:"users"`
	DataAnalyses    []storage.DataAnalysis   `json:"data_analyses"`
	ToolGenerations []storage.ToolGeneration `json:"tool_generations"`
}

// MaintenanceService 由外部周期性触发；本进程不自行调度。
type MaintenanceService struct {
	repos *repository.Set
	cache *cache.Manager
	cfg   config.Config
}

func NewMaintenanceService(repos *repository.Set, cm *cache.Manager, cfg config.Config) *MaintenanceService {
	return &MaintenanceService{repos: repos, cache: cm, cfg: cfg}
}

// Cleanup 归档日志到按月子表、删除超过 days 天的日志、过期的兜底缓存与长期失败的分析。
// days<=0 时使用配置的日志保留天数。
func (s *MaintenanceService) Cleanup(ctx context.Context, days int) (CleanupReport, error) {
	if days <= 0 {
		days = s.cfg.Retention.LogDays
	}
	var (
		rep CleanupReport
		err error
	)
	// 删除前先把所有待删月份归档到已存在的子表
	if rep.ArchivedLogs, err = s.repos.Logs.ArchiveThrough(ctx, time.Now()); err != nil {
		return rep, err
	}
	if rep.SystemLogs, err = s.repos.Logs.CleanupOldLogs(ctx, days); err != nil {
		return rep, err
	}
	if rep.CacheEntries, err = s.repos.CacheEntries.CleanupExpired(ctx); err != nil {
		return rep, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Retention.FailedAnalysisDays)
	if rep.FailedAnalyses, err = s.repos.Analyses.DeleteFailedBefore(ctx, cutoff); err != nil {
		return rep, err
	}
	s.cache.InvalidateStats(ctx)
	log.WithFields(log.Fields{
		"archived_logs":   rep.ArchivedLogs,
		"system_logs":     rep.SystemLogs,
		"cache_entries":   rep.CacheEntries,
		"failed_analyses": rep.FailedAnalyses,
	}).Info("maintenance cleanup finished")
	return rep, nil
}

// Snapshot 收集全部用户（不含口令哈希）、近期分析与最近完成的工具。
func (s *MaintenanceService) Snapshot(ctx context.Context) (*Backup, error) {
	b := &Backup{Timestamp: time.Now().UTC(), Users: []Profile{}}
	const page = 500
	for offset := 0; ; offset += page {
		users, err := s.repos.Users.List(ctx, offset, page)
		if err != nil {
			return nil, err
		}
		for i := range users {
			b.Users = append(b.Users, *profileOf(&users[i]))
		}
		if len(users) < page {
			break
		}
	}
	var err error
	if b.DataAnalyses, err = s.repos.Analyses.ListRecent(ctx, s.cfg.Backup.AnalysisDays); err != nil {
		return nil, err
	}
	if b.ToolGenerations, err = s.repos.Tools.ListCompleted(ctx, s.cfg.Backup.ToolLimit); err != nil {
		return nil, err
	}
	return b, nil
}

// Backup 把快照以 JSON 写入 w。
func (s *MaintenanceService) Backup(ctx context.Context, w io.Writer) (*Backup, error) {
	b, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return b, nil
}

// BackupToFile 写入临时文件后再改名，避免留下半个快照。
func (s *MaintenanceService) BackupToFile(ctx context.Context, path string) (*Backup, error) {
	if path == "" {
		path = s.cfg.Backup.Path
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	b, err := s.Backup(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"path": path, "users": len(b.Users),
		"data_analyses": len(b.DataAnalyses), "tool_generations": len(b.ToolGenerations),
	}).Info("backup written")
	return b, nil
}
