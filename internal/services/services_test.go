package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"datacore/internal/cache"
	"datacore/internal/config"
	"datacore/internal/repository"
	"datacore/internal/services"
	"datacore/internal/storage"
	"datacore/internal/storage/storagetest"
)

func newCore(t *testing.T) (*services.Core, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	core, err := services.New(context.Background(), config.Defaults(), storagetest.Open(t), rdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return core, mr
}

func register(t *testing.T, core *services.Core, name string) *services.Profile {
	t.Helper()
	p, err := core.Users.Register(context.Background(), name, name+"@Example.com", "password123")
	require.NoError(t, err)
	return p
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)

	_, err := core.Users.Register(ctx, "ab", "ab@example.com", "password123")
	require.ErrorIs(t, err, services.ErrValidation)
	_, err = core.Users.Register(ctx, "alice", "not-an-email", "password123")
	require.ErrorIs(t, err, services.ErrValidation)
	_, err = core.Users.Register(ctx, "alice", "alice@example.com", "short")
	require.ErrorIs(t, err, services.ErrValidation)

	p := register(t, core, "alice")
	require.Equal(t, "alice@example.com", p.Email)
	require.True(t, p.IsActive)

	_, err = core.Users.Register(ctx, "alice", "other@example.com", "password123")
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = core.Users.Authenticate(ctx, "alice", "password123")
	require.NoError(t, err)
	_, err = core.Users.Authenticate(ctx, "alice", "wrong-password")
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestProfileCacheAside(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	p := register(t, core, "bob")

	got, err := core.Users.Profile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", got.Username)
	raw, err := mr.Get(cache.UserKey(p.ID))
	require.NoError(t, err)
	require.NotContains(t, raw, "password")

	email := "bob@new.example.com"
	_, err = core.Users.UpdateProfile(ctx, p.ID, services.ProfileUpdate{Email: &email})
	require.NoError(t, err)
	require.False(t, mr.Exists(cache.UserKey(p.ID)))

	got, err = core.Users.Profile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, email, got.Email)

	_, err = core.Users.Profile(ctx, "missing")
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestAnalysisLifecycle(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	u := register(t, core, "carol")

	_, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "t", Type: "astrology"})
	require.ErrorIs(t, err, services.ErrValidation)

	a, err := core.Analyses.Create(ctx, services.NewAnalysis{
		UserID: u.ID, Title: "revenue", Type: storage.AnalysisStatistical,
		Parameters: map[string]any{"column": "amount"},
	})
	require.NoError(t, err)

	_, err = core.Analyses.Results(ctx, a.ID)
	require.ErrorIs(t, err, services.ErrNotReady)

	_, err = core.Analyses.Start(ctx, a.ID)
	require.NoError(t, err)
	_, err = core.Analyses.Progress(ctx, a.ID, 0.5)
	require.NoError(t, err)

	done, err := core.Analyses.Complete(ctx, a.ID, map[string]any{"mean": 12.5})
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.True(t, mr.Exists(cache.AnalysisResultKey(a.ID)))

	res, err := core.Analyses.Results(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"mean": 12.5}, res)

	_, err = core.Analyses.Complete(ctx, a.ID, map[string]any{"mean": 1})
	require.ErrorIs(t, err, repository.ErrStatusTransition)

	// 缓存被清空后回落到存储
	mr.FlushAll()
	res, err = core.Analyses.Results(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"mean": 12.5}, res)
}

func TestListForUserCachesFirstPage(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	u := register(t, core, "dora")
	_, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "one"})
	require.NoError(t, err)

	list, err := core.Analyses.ListForUser(ctx, u.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, mr.Exists(cache.UserAnalysesKey(u.ID)))

	_, err = core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "two"})
	require.NoError(t, err)
	require.False(t, mr.Exists(cache.UserAnalysesKey(u.ID)))

	list, err = core.Analyses.ListForUser(ctx, u.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "two", list[0].Title)
}

func TestCacheOutageKeepsServing(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	u := register(t, core, "eve")
	a, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)
	mr.Close()

	_, err = core.Analyses.Complete(ctx, a.ID, []any{1, 2, 3})
	require.NoError(t, err)
	res, err := core.Analyses.Results(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 2.0, 3.0}, res)

	p, err := core.Users.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "eve", p.Username)

	h, err := core.Stats.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "degraded", h.Status)
	require.Equal(t, "unavailable", h.Cache)
}

func TestToolArtifact(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	u := register(t, core, "finn")

	tool, err := core.Tools.Create(ctx, services.NewTool{UserID: u.ID, ToolName: "csv2json", Type: storage.ToolConverter})
	require.NoError(t, err)
	_, err = core.Tools.Artifact(ctx, tool.ID)
	require.ErrorIs(t, err, services.ErrNotReady)

	_, err = core.Tools.Start(ctx, tool.ID)
	require.NoError(t, err)
	art, err := core.Tools.Complete(ctx, tool.ID, "def convert(): pass", []string{"pandas"})
	require.NoError(t, err)
	require.Equal(t, storage.ToolCompleted, art.Status)
	require.True(t, mr.Exists(cache.ToolGenerationKey(tool.ID)))

	got, err := core.Tools.Artifact(ctx, tool.ID)
	require.NoError(t, err)
	require.Equal(t, "def convert(): pass", got.Code)
	require.Equal(t, []any{"pandas"}, got.Dependencies)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	u := register(t, core, "gina")
	idle := register(t, core, "hank")

	a1, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "a1"})
	require.NoError(t, err)
	a2, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "a2"})
	require.NoError(t, err)
	_, err = core.Analyses.Complete(ctx, a1.ID, map[string]any{"ok": true})
	require.NoError(t, err)
	_, err = core.Analyses.Fail(ctx, a2.ID, "bad input")
	require.NoError(t, err)

	st, err := core.Stats.DatabaseStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.Users)
	require.EqualValues(t, 2, st.DataAnalyses)
	require.EqualValues(t, 2, st.RecentAnalyses)
	require.True(t, mr.Exists(cache.SystemStatsKey))
	durable, err := core.Repos.CacheEntries.GetByKey(ctx, cache.SystemStatsKey)
	require.NoError(t, err)
	require.NotNil(t, durable)

	act, err := core.Stats.UserActivity(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, act.TotalAnalyses)
	require.EqualValues(t, 1, act.CompletedAnalyses)
	require.EqualValues(t, 1, act.FailedAnalyses)
	require.InDelta(t, 0.5, act.AnalysisSuccessRate, 1e-9)
	require.NotNil(t, act.LastActivity)

	none, err := core.Stats.UserActivity(ctx, idle.ID)
	require.NoError(t, err)
	require.Zero(t, none.AnalysisSuccessRate)
	require.Zero(t, none.ToolSuccessRate)
	require.Nil(t, none.LastActivity)

	_, err = core.Stats.UserActivity(ctx, "missing")
	require.ErrorIs(t, err, services.ErrNotFound)

	h, err := core.Stats.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.StatusHealthy, h.Status)
}

func TestCompletionRate(t *testing.T) {
	require.Zero(t, services.CompletionRate(0, 0))
	require.Equal(t, 0.25, services.CompletionRate(1, 4))
}

func TestMaintenanceCleanup(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	u := register(t, core, "ivan")
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	_, err := storage.EnsureLogPartitions(core.DB, old, 1)
	require.NoError(t, err)
	_, err = core.Repos.Logs.Create(ctx, &storage.SystemLog{Level: storage.LevelInfo, Service: "s", Message: "old", CreatedAt: old})
	require.NoError(t, err)
	_, err = core.Repos.Logs.Create(ctx, &storage.SystemLog{Level: storage.LevelInfo, Service: "s", Message: "new"})
	require.NoError(t, err)
	_, err = core.Repos.CacheEntries.SetCache(ctx, "stale", 1, time.Millisecond)
	require.NoError(t, err)

	a, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)
	_, err = core.Analyses.Fail(ctx, a.ID, "boom")
	require.NoError(t, err)
	require.NoError(t, core.DB.Model(&storage.DataAnalysis{}).Where("id = ?", a.ID).
		UpdateColumn("updated_at", now.AddDate(0, 0, -60)).Error)
	time.Sleep(5 * time.Millisecond)

	rep, err := core.Maintenance.Cleanup(ctx, 30)
	require.NoError(t, err)
	require.EqualValues(t, 1, rep.SystemLogs)
	require.EqualValues(t, 1, rep.CacheEntries)
	require.EqualValues(t, 1, rep.FailedAnalyses)
	require.EqualValues(t, 2, rep.ArchivedLogs)

	// 被删除的旧日志已保存在其所在月份的子表中
	var archived []string
	require.NoError(t, core.DB.Table(storage.LogPartitionName(old)).Pluck("message", &archived).Error)
	require.Equal(t, []string{"old"}, archived)
}

func TestCompleteWithScalarResult(t *testing.T) {
	ctx := context.Background()
	core, mr := newCore(t)
	u := register(t, core, "kim")
	a, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "answer"})
	require.NoError(t, err)

	done, err := core.Analyses.Complete(ctx, a.ID, 42)
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisCompleted, done.Status)

	mr.FlushAll()
	res, err := core.Analyses.Results(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 42.0, res)
}

func TestUserActivityPropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	u := register(t, core, "lee")
	_, err := core.Analyses.Create(ctx, services.NewAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)

	// 只让带 LIMIT 的分析列表查询失败，计数查询不受影响
	require.NoError(t, core.DB.Callback().Query().Before("gorm:query").Register("test:fail_analysis_page", func(tx *gorm.DB) {
		if _, limited := tx.Statement.Clauses["LIMIT"]; limited && tx.Statement.Table == "data_analyses" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))

	act, err := core.Stats.UserActivity(ctx, u.ID)
	require.ErrorIs(t, err, repository.ErrStorage)
	require.Nil(t, act)
}

func TestBackupExcludesCredentials(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	u := register(t, core, "jane")
	tool, err := core.Tools.Create(ctx, services.NewTool{UserID: u.ID, ToolName: "calc", Type: storage.ToolCalculator})
	require.NoError(t, err)
	_, err = core.Tools.Complete(ctx, tool.ID, "1+1", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	b, err := core.Maintenance.Backup(ctx, &buf)
	require.NoError(t, err)
	require.Len(t, b.Users, 1)
	require.Len(t, b.ToolGenerations, 1)
	require.NotContains(t, buf.String(), "hashed_password")
	require.NotContains(t, buf.String(), "$2a$")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Contains(t, decoded, "timestamp")
	require.Contains(t, decoded, "data_analyses")
}

func TestSystemLogHook(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	logger := log.New()
	logger.SetOutput(&bytes.Buffer{})
	logger.AddHook(services.NewSystemLogHook(core.Logs))

	logger.WithField("component", "cache").WithField("key", "user:1").Warn("cache operation degraded")
	logger.Info("not persisted")

	recent, err := core.Logs.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, storage.LevelWarning, recent[0].Level)
	require.Equal(t, "cache", recent[0].Service)
	require.Contains(t, string(recent[0].Details), "user:1")
}
