package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"datacore/internal/jsonval"
	"datacore/internal/repository"
	"datacore/internal/storage"
	"datacore/internal/storage/storagetest"
)

func newSet(t *testing.T) (*repository.Set, *gorm.DB) {
	t.Helper()
	db := storagetest.Migrated(t)
	return repository.NewSet(db), db
}

func mustUser(t *testing.T, repos *repository.Set, name string) *storage.User {
	t.Helper()
	u, err := repos.Users.Create(context.Background(), &storage.User{
		Username: name, Email: name + "@example.com", HashedPassword: "x", IsActive: true,
	})
	require.NoError(t, err)
	return u
}

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)

	u := mustUser(t, repos, "alice")
	require.NotEmpty(t, u.ID)
	require.False(t, u.CreatedAt.IsZero())

	got, err := repos.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "alice@example.com", got.Email)
	require.True(t, got.IsActive)
	require.False(t, got.IsSuperuser)

	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{
		UserID: u.ID, Title: "sales", AnalysisType: storage.AnalysisTrend,
	})
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisPending, a.Status)

	ga, err := repos.Analyses.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "sales", ga.Title)
	require.Equal(t, storage.AnalysisTrend, ga.AnalysisType)
	require.Nil(t, ga.CompletedAt)

	byName, err := repos.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)
	byEmail, err := repos.Users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
}

func TestAbsentIDs(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)

	got, err := repos.Users.GetByID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)

	updated, err := repos.Users.Update(ctx, "missing", map[string]any{"email": "x@y.z"})
	require.NoError(t, err)
	require.Nil(t, updated)

	ok, err := repos.Users.Delete(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	st, err := repos.Analyses.UpdateStatus(ctx, "missing", storage.AnalysisRunning, nil)
	require.NoError(t, err)
	require.Nil(t, st)

	entry, err := repos.CacheEntries.GetByKey(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "bob")

	updated, err := repos.Users.Update(ctx, u.ID, map[string]any{"is_active": false})
	require.NoError(t, err)
	require.False(t, updated.IsActive)

	active, err := repos.Users.ListActive(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, active)

	_, err = repos.Users.Update(ctx, u.ID, map[string]any{"nope": 1})
	require.ErrorIs(t, err, repository.ErrInvalidField)
	_, err = repos.Users.Update(ctx, u.ID, map[string]any{"id": "other"})
	require.ErrorIs(t, err, repository.ErrInvalidField)

	ok, err := repos.Users.Delete(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, ok)
	n, err := repos.Users.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListPreservesCreationOrder(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	for _, name := range []string{"u1", "u2", "u3"} {
		mustUser(t, repos, name)
		time.Sleep(2 * time.Millisecond)
	}
	page, err := repos.Users.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "u2", page[0].Username)
	require.Equal(t, "u3", page[1].Username)
}

func TestDuplicateUsernameIsConflict(t *testing.T) {
	repos, _ := newSet(t)
	mustUser(t, repos, "carol")
	_, err := repos.Users.Create(context.Background(), &storage.User{
		Username: "carol", Email: "other@example.com", HashedPassword: "x",
	})
	require.ErrorIs(t, err, repository.ErrConflict)
}

func TestMissingOwnerIsRejected(t *testing.T) {
	repos, _ := newSet(t)
	_, err := repos.Analyses.Create(context.Background(), &storage.DataAnalysis{UserID: "ghost", Title: "t"})
	require.ErrorIs(t, err, repository.ErrReference)
}

func TestUpdateStatusCompleted(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "dave")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisPending, a.Status)
	created := a.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	progress := 1.0
	_, err = repos.Analyses.UpdateStatus(ctx, a.ID, storage.AnalysisCompleted, &progress)
	require.NoError(t, err)

	got, err := repos.Analyses.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisCompleted, got.Status)
	require.Equal(t, 1.0, got.Progress)
	require.NotNil(t, got.CompletedAt)
	require.True(t, got.UpdatedAt.After(created))
}

func TestStatusNeverLeavesTerminal(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "erin")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)

	_, err = repos.Analyses.UpdateStatus(ctx, a.ID, storage.AnalysisRunning, nil)
	require.NoError(t, err)
	_, err = repos.Analyses.UpdateStatus(ctx, a.ID, storage.AnalysisPending, nil)
	require.ErrorIs(t, err, repository.ErrStatusTransition)

	failed, err := repos.Analyses.SetError(ctx, a.ID, "boom")
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	require.Equal(t, "boom", *failed.ErrorMessage)
	require.Nil(t, failed.CompletedAt)

	_, err = repos.Analyses.UpdateStatus(ctx, a.ID, storage.AnalysisCompleted, nil)
	require.ErrorIs(t, err, repository.ErrStatusTransition)
	again, err := repos.Analyses.UpdateStatus(ctx, a.ID, storage.AnalysisFailed, nil)
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisFailed, again.Status)

	_, err = repos.Analyses.Update(ctx, a.ID, map[string]any{"status": "pending"})
	require.ErrorIs(t, err, repository.ErrInvalidField)

	bad := 1.5
	_, err = repos.Analyses.UpdateStatus(ctx, a.ID, storage.AnalysisFailed, &bad)
	require.ErrorIs(t, err, repository.ErrInvalidField)
}

func TestResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "fay")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t", AnalysisType: storage.AnalysisStatistical})
	require.NoError(t, err)

	_, err = repos.Analyses.SetResults(ctx, a.ID, map[string]any{"mean": 2.5, "tags": []string{"a"}})
	require.NoError(t, err)
	got, err := repos.Analyses.GetByID(ctx, a.ID)
	require.NoError(t, err)
	obj, err := jsonval.DecodeObject(got.Results)
	require.NoError(t, err)
	require.Equal(t, jsonval.Object{"mean": 2.5, "tags": []any{"a"}}, obj)

	_, err = repos.Analyses.SetResults(ctx, a.ID, map[string]any{"f": func() {}})
	require.ErrorIs(t, err, repository.ErrInvalidField)
}

func TestListRecentAndByUser(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "gus")
	old := time.Now().UTC().AddDate(0, 0, -10)
	_, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "old", CreatedAt: old, UpdatedAt: old})
	require.NoError(t, err)
	_, err = repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "new"})
	require.NoError(t, err)

	recent, err := repos.Analyses.ListRecent(ctx, 7)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "new", recent[0].Title)

	mine, err := repos.Analyses.ListByUser(ctx, u.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "new", mine[0].Title)

	n, err := repos.Analyses.CountRecent(ctx, "", time.Now().UTC().AddDate(0, 0, -7))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDeleteFailedBeforeRemovesFiles(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "hal")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)
	_, err = repos.Files.Create(ctx, &storage.AnalysisFile{DataAnalysisID: a.ID, Filename: "in.csv", FilePath: "/tmp/in.csv", FileType: storage.FileInput})
	require.NoError(t, err)
	_, err = repos.Analyses.SetError(ctx, a.ID, "boom")
	require.NoError(t, err)

	n, err := repos.Analyses.DeleteFailedBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	files, err := repos.Files.ListByAnalysis(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestToolStatusAndArtifact(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "ivy")
	tool, err := repos.Tools.Create(ctx, &storage.ToolGeneration{UserID: u.ID, ToolName: "conv", ToolType: storage.ToolConverter})
	require.NoError(t, err)
	require.Equal(t, storage.ToolPending, tool.Status)

	_, err = repos.Tools.Create(ctx, &storage.ToolGeneration{UserID: u.ID, ToolName: "bad", ToolType: "spaceship"})
	require.ErrorIs(t, err, repository.ErrInvalidField)

	_, err = repos.Tools.UpdateStatus(ctx, tool.ID, storage.ToolGenerating)
	require.NoError(t, err)
	_, err = repos.Tools.SetArtifact(ctx, tool.ID, "print(1)", []string{"numpy"})
	require.NoError(t, err)
	done, err := repos.Tools.UpdateStatus(ctx, tool.ID, storage.ToolCompleted)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, "print(1)", done.GeneratedCode)

	completed, err := repos.Tools.ListCompleted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	byType, err := repos.Tools.ListByType(ctx, storage.ToolConverter, 0)
	require.NoError(t, err)
	require.Len(t, byType, 1)
}

func TestFilesByType(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "jay")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)
	for _, ft := range []storage.FileType{storage.FileInput, storage.FileReport, storage.FileReport} {
		_, err := repos.Files.Create(ctx, &storage.AnalysisFile{DataAnalysisID: a.ID, Filename: "f", FilePath: "/f", FileType: ft, FileSize: 10})
		require.NoError(t, err)
	}
	reports, err := repos.Files.ListByAnalysisAndType(ctx, a.ID, storage.FileReport)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	_, err = repos.Files.Create(ctx, &storage.AnalysisFile{DataAnalysisID: "ghost", Filename: "f", FilePath: "/f"})
	require.ErrorIs(t, err, repository.ErrReference)
}

func TestCleanupOldLogs(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	now := time.Now().UTC()
	for _, age := range []int{40, 1} {
		_, err := repos.Logs.Create(ctx, &storage.SystemLog{
			Level: storage.LevelInfo, Service: "analysis", Message: "m", CreatedAt: now.AddDate(0, 0, -age),
		})
		require.NoError(t, err)
	}

	n, err := repos.Logs.CleanupOldLogs(ctx, 30)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	left, err := repos.Logs.ListByService(ctx, "analysis", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.True(t, left[0].CreatedAt.After(now.AddDate(0, 0, -2)))
}

func TestLogQueries(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	now := time.Now().UTC()
	entries := []storage.SystemLog{
		{Level: storage.LevelError, Service: "tools", Message: "a", CreatedAt: now.Add(-3 * time.Hour)},
		{Level: storage.LevelError, Service: "tools", Message: "b", CreatedAt: now.Add(-30 * time.Minute)},
		{Level: storage.LevelInfo, Service: "tools", Message: "c", CreatedAt: now.Add(-10 * time.Minute)},
	}
	for i := range entries {
		_, err := repos.Logs.Create(ctx, &entries[i])
		require.NoError(t, err)
	}
	errs, err := repos.Logs.ListByLevel(ctx, storage.LevelError, 1)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "b", errs[0].Message)

	recent, err := repos.Logs.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].Message)

	_, err = repos.Logs.Create(ctx, &storage.SystemLog{Message: "no service"})
	require.ErrorIs(t, err, repository.ErrInvalidField)
}

func TestArchiveMonth(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	_, err := repos.Logs.Create(ctx, &storage.SystemLog{Level: storage.LevelInfo, Service: "s", Message: "m"})
	require.NoError(t, err)

	n, err := repos.Logs.ArchiveMonth(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = repos.Logs.ArchiveMonth(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = repos.Logs.ArchiveMonth(ctx, time.Date(1999, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, repository.ErrNoPartition)
}

func TestCacheEntries(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)

	_, err := repos.CacheEntries.SetCache(ctx, "stats", map[string]any{"users": 1}, time.Hour)
	require.NoError(t, err)
	e, err := repos.CacheEntries.SetCache(ctx, "stats", map[string]any{"users": 2}, time.Hour)
	require.NoError(t, err)
	require.True(t, e.ExpiresAt.After(time.Now()))

	got, err := repos.CacheEntries.GetByKey(ctx, "stats")
	require.NoError(t, err)
	obj, err := jsonval.DecodeObject(got.Value)
	require.NoError(t, err)
	require.Equal(t, 2.0, obj["users"])
	n, err := repos.CacheEntries.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = repos.CacheEntries.SetCache(ctx, "short", "v", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	gone, err := repos.CacheEntries.GetByKey(ctx, "short")
	require.NoError(t, err)
	require.Nil(t, gone)

	removed, err := repos.CacheEntries.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = repos.CacheEntries.SetCache(ctx, "bad", "v", 0)
	require.ErrorIs(t, err, repository.ErrInvalidField)
}

func TestScalarJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "sam")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)

	for _, v := range []any{42, true, "s", 2.5} {
		want, err := jsonval.Normalize(v)
		require.NoError(t, err)
		if n, ok := want.(json.Number); ok {
			want, err = n.Float64()
			require.NoError(t, err)
		}

		_, err = repos.Analyses.SetResults(ctx, a.ID, v)
		require.NoError(t, err)
		got, err := repos.Analyses.GetByID(ctx, a.ID)
		require.NoError(t, err)
		res, err := jsonval.Decode(got.Results)
		require.NoError(t, err)
		require.Equal(t, want, res)

		_, err = repos.CacheEntries.SetCache(ctx, "scalar", v, time.Hour)
		require.NoError(t, err)
		e, err := repos.CacheEntries.GetByKey(ctx, "scalar")
		require.NoError(t, err)
		val, err := jsonval.Decode(e.Value)
		require.NoError(t, err)
		require.Equal(t, want, val)
	}
}

func TestCompleteWritesResultsWithStatus(t *testing.T) {
	ctx := context.Background()
	repos, _ := newSet(t)
	u := mustUser(t, repos, "tia")
	a, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "t"})
	require.NoError(t, err)

	done, err := repos.Analyses.Complete(ctx, a.ID, map[string]any{"r": 0.9})
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisCompleted, done.Status)
	require.Equal(t, 1.0, done.Progress)
	require.NotNil(t, done.CompletedAt)
	require.JSONEq(t, `{"r":0.9}`, string(done.Results))

	failed, err := repos.Analyses.Create(ctx, &storage.DataAnalysis{UserID: u.ID, Title: "f"})
	require.NoError(t, err)
	_, err = repos.Analyses.SetError(ctx, failed.ID, "boom")
	require.NoError(t, err)
	_, err = repos.Analyses.Complete(ctx, failed.ID, map[string]any{"r": 1})
	require.ErrorIs(t, err, repository.ErrStatusTransition)
	got, err := repos.Analyses.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, storage.AnalysisFailed, got.Status)
	require.Empty(t, got.Results)

	missing, err := repos.Analyses.Complete(ctx, "missing", 1)
	require.NoError(t, err)
	require.Nil(t, missing)

	tool, err := repos.Tools.Create(ctx, &storage.ToolGeneration{UserID: u.ID, ToolName: "calc"})
	require.NoError(t, err)
	_, err = repos.Tools.SetError(ctx, tool.ID, "boom")
	require.NoError(t, err)
	_, err = repos.Tools.Complete(ctx, tool.ID, "1+1", []string{"math"})
	require.ErrorIs(t, err, repository.ErrStatusTransition)
	gotTool, err := repos.Tools.GetByID(ctx, tool.ID)
	require.NoError(t, err)
	require.Empty(t, gotTool.GeneratedCode)
}

func TestArchiveThroughCoversOlderMonths(t *testing.T) {
	ctx := context.Background()
	repos, db := newSet(t)
	old := time.Now().UTC().AddDate(0, 0, -40)
	_, err := storage.EnsureLogPartitions(db, old, 1)
	require.NoError(t, err)
	_, err = repos.Logs.Create(ctx, &storage.SystemLog{Level: storage.LevelInfo, Service: "s", Message: "old", CreatedAt: old})
	require.NoError(t, err)

	n, err := repos.Logs.ArchiveThrough(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	var rows int64
	require.NoError(t, db.Table(storage.LogPartitionName(old)).Count(&rows).Error)
	require.EqualValues(t, 1, rows)

	n, err = repos.Logs.ArchiveThrough(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}
