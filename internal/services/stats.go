package services

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"datacore/internal/cache"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// recentWindow 是“近期活动”统计的时间窗口。
const recentWindow = 7 * 24 * time.Hour

// DatabaseStats 为各实体计数与近 7 天活动量。
type DatabaseStats struct {
	Users           int64     `json:"users"`
	DataAnalyses    int64     `json:"data_analyses"`
	AnalysisFiles   int64     `json:"analysis_files"`
	ToolGenerations int64     `json:"tool_generations"`
	SystemLogs      int64     `json:"system_logs"`
	RecentAnalyses  int64     `json:"recent_analyses"`
	RecentTools     int64     `json:"recent_tools"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// UserActivity 汇总单个用户的分析与工具活动。
type UserActivity struct {
	UserID              string     `json:"user_id"`
	TotalAnalyses       int64      `json:"total_analyses"`
	CompletedAnalyses   int64      `json:"completed_analyses"`
	FailedAnalyses      int64      `json:"failed_analyses"`
	TotalTools          int64      `json:"total_tools"`
	CompletedTools      int64      `json:"completed_tools"`
	RecentAnalyses      int64      `json:"recent_analyses"`
	RecentTools         int64      `json:"recent_tools"`
	AnalysisSuccessRate float64    `json:"analysis_success_rate"`
	ToolSuccessRate     float64    `json:"tool_success_rate"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}

// Health 组合存储表结构检查与缓存可达性。存储健康而缓存不可达时为 degraded。
type Health struct {
	Status    string         `json:"status"`
	Database  storage.Health `json:"database"`
	Cache     string         `json:"cache"`
	CheckedAt time.Time      `json:"checked_at"`
}

// CompletionRate 返回 completed/total；total 为 0 时返回 0。
func CompletionRate(completed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

// StatsService 提供聚合统计。system_stats 先查 Redis，再查持久化兜底缓存，最后实时计算。
type StatsService struct {
	repos    *repository.Set
	cache    *cache.Manager
	migrator *storage.Migrator
	ttl      time.Duration
}

func NewStatsService(repos *repository.Set, cm *cache.Manager, migrator *storage.Migrator, ttl time.Duration) *StatsService {
	return &StatsService{repos: repos, cache: cm, migrator: migrator, ttl: ttl}
}

func (s *StatsService) DatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	var st DatabaseStats
	if s.cache.SystemStats(ctx, &st) {
		return &st, nil
	}
	if e, err := s.repos.CacheEntries.GetByKey(ctx, cache.SystemStatsKey); err == nil && e != nil {
		if json.Unmarshal(e.Value, &st) == nil {
			s.cache.CacheSystemStats(ctx, &st)
			return &st, nil
		}
	}
	fresh, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.CacheSystemStats(ctx, fresh)
	if _, err := s.repos.CacheEntries.SetCache(ctx, cache.SystemStatsKey, fresh, s.ttl); err != nil {
		log.WithError(err).Warn("persist system stats fallback failed")
	}
	return fresh, nil
}

func (s *StatsService) compute(ctx context.Context) (*DatabaseStats, error) {
	var (
		st  DatabaseStats
		err error
	)
	if st.Users, err = s.repos.Users.Count(ctx); err != nil {
		return nil, err
	}
	if st.DataAnalyses, err = s.repos.Analyses.Count(ctx); err != nil {
		return nil, err
	}
	if st.AnalysisFiles, err = s.repos.Files.Count(ctx); err != nil {
		return nil, err
	}
	if st.ToolGenerations, err = s.repos.Tools.Count(ctx); err != nil {
		return nil, err
	}
	if st.SystemLogs, err = s.repos.Logs.Count(ctx); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	since := now.Add(-recentWindow)
	if st.RecentAnalyses, err = s.repos.Analyses.CountRecent(ctx, "", since); err != nil {
		return nil, err
	}
	if st.RecentTools, err = s.repos.Tools.CountRecent(ctx, "", since); err != nil {
		return nil, err
	}
	st.GeneratedAt = now
	return &st, nil
}

// UserActivity 用户不存在时返回 ErrNotFound。
func (s *StatsService) UserActivity(ctx context.Context, userID string) (*UserActivity, error) {
	u, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	act := &UserActivity{UserID: userID}
	byStatus, err := s.repos.Analyses.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, n := range byStatus {
		act.TotalAnalyses += n
	}
	act.CompletedAnalyses = byStatus[storage.AnalysisCompleted]
	act.FailedAnalyses = byStatus[storage.AnalysisFailed]

	toolStatus, err := s.repos.Tools.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, n := range toolStatus {
		act.TotalTools += n
	}
	act.CompletedTools = toolStatus[storage.ToolCompleted]

	since := time.Now().UTC().Add(-recentWindow)
	if act.RecentAnalyses, err = s.repos.Analyses.CountRecent(ctx, userID, since); err != nil {
		return nil, err
	}
	if act.RecentTools, err = s.repos.Tools.CountRecent(ctx, userID, since); err != nil {
		return nil, err
	}
	act.AnalysisSuccessRate = CompletionRate(act.CompletedAnalyses, act.TotalAnalyses)
	act.ToolSuccessRate = CompletionRate(act.CompletedTools, act.TotalTools)

	lastAnalysis, err := s.repos.Analyses.ListByUser(ctx, userID, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(lastAnalysis) > 0 {
		t := lastAnalysis[0].CreatedAt
		act.LastActivity = &t
	}
	lastTool, err := s.repos.Tools.ListByUser(ctx, userID, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(lastTool) > 0 {
		if t := lastTool[0].CreatedAt; act.LastActivity == nil || t.After(*act.LastActivity) {
			act.LastActivity = &t
		}
	}
	return act, nil
}

// Health 仅在存储连接失败时返回错误；缺表与缓存不可达体现在状态中。
func (s *StatsService) Health(ctx context.Context) (Health, error) {
	h := Health{CheckedAt: time.Now().UTC(), Cache: "unavailable"}
	if s.cache.Available(ctx) {
		h.Cache = "available"
	}
	db, err := s.migrator.HealthCheck(ctx)
	h.Database = db
	switch {
	case err != nil || !db.Healthy():
		h.Status = storage.StatusUnhealthy
	case h.Cache != "available":
		h.Status = "degraded"
	default:
		h.Status = storage.StatusHealthy
	}
	return h, err
}
