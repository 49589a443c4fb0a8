package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"datacore/internal/storage"
	"datacore/internal/storage/storagetest"
)

func TestRunPendingFreshDatabase(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	m := storage.NewMigrator(db)

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	require.Empty(t, applied)

	report, err := m.RunPending(ctx, storage.DefaultMigrations())
	require.NoError(t, err)
	require.Equal(t, []string{"001", "002", "003"}, report.Applied)
	require.Empty(t, report.Skipped)

	applied, err = m.AppliedVersions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"001", "002", "003"}, applied)

	for _, table := range storage.EntityTables {
		require.True(t, db.Migrator().HasTable(table), table)
	}
	require.True(t, db.Migrator().HasIndex("data_analyses", "idx_data_analyses_status"))
	require.True(t, db.Migrator().HasTable(storage.LogPartitionName(time.Now())))
}

func TestRunPendingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	m := storage.NewMigrator(db)

	_, err := m.RunPending(ctx, storage.DefaultMigrations())
	require.NoError(t, err)
	before, err := m.Records(ctx)
	require.NoError(t, err)

	report, err := m.RunPending(ctx, storage.DefaultMigrations())
	require.NoError(t, err)
	require.Empty(t, report.Applied)
	require.Equal(t, []string{"001", "002", "003"}, report.Skipped)

	after, err := m.Records(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFailedMigrationLeavesNoLedgerRow(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	m := storage.NewMigrator(db)

	boom := errors.New("boom")
	thirdRan := false
	migs := []storage.Migration{
		{Version: "001", Name: "initial_schema", Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(storage.EntityModels()...)
		}},
		{Version: "002", Name: "broken", Up: func(tx *gorm.DB) error { return boom }},
		{Version: "003", Name: "never", Up: func(tx *gorm.DB) error { thirdRan = true; return nil }},
	}

	report, err := m.RunPending(ctx, migs)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrMigration)
	require.ErrorIs(t, err, boom)
	var me *storage.MigrationError
	require.ErrorAs(t, err, &me)
	require.Equal(t, "002", me.Version)
	require.Equal(t, []string{"001"}, report.Applied)
	require.False(t, thirdRan)

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"001"}, applied)

	pending, err := m.Pending(ctx, migs)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "002", pending[0].Version)
}

func TestRunPendingRejectsUnorderedList(t *testing.T) {
	m := storage.NewMigrator(storagetest.Open(t))
	noop := func(*gorm.DB) error { return nil }
	_, err := m.RunPending(context.Background(), []storage.Migration{
		{Version: "002", Name: "b", Up: noop},
		{Version: "001", Name: "a", Up: noop},
	})
	require.ErrorIs(t, err, storage.ErrMigration)
}

func TestVersionsCompareNumerically(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMigrator(storagetest.Open(t))
	noop := func(*gorm.DB) error { return nil }
	report, err := m.RunPending(ctx, []storage.Migration{
		{Version: "9", Name: "nine", Up: noop},
		{Version: "10", Name: "ten", Up: noop},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"9", "10"}, report.Applied)

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"9", "10"}, applied)
}

func TestEnsureLogPartitions(t *testing.T) {
	db := storagetest.Migrated(t)
	from := time.Date(2031, time.November, 15, 8, 0, 0, 0, time.UTC)

	created, err := storage.EnsureLogPartitions(db, from, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"system_logs_2031_11", "system_logs_2031_12", "system_logs_2032_01"}, created)

	created, err = storage.EnsureLogPartitions(db, from, 3)
	require.NoError(t, err)
	require.Empty(t, created)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Migrated(t)
	m := storage.NewMigrator(db)

	h, err := m.HealthCheck(ctx)
	require.NoError(t, err)
	require.True(t, h.Healthy())
	require.Contains(t, h.Tables, "users")

	require.NoError(t, db.Migrator().DropTable("cache_entries"))
	h, err = m.HealthCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.StatusUnhealthy, h.Status)
	require.Equal(t, []string{"cache_entries"}, h.Missing)
}

func TestHealthCheckUnreachable(t *testing.T) {
	db := storagetest.Open(t)
	storage.CloseDB(db)
	h, err := storage.NewMigrator(db).HealthCheck(context.Background())
	require.ErrorIs(t, err, storage.ErrConnectivity)
	require.Equal(t, storage.StatusUnhealthy, h.Status)
}
