package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datacore/internal/metrics"
)

const migrationTable = "schema_migrations"

// ErrMigration 标记迁移失败；启动流程遇到它必须终止。
var ErrMigration = errors.New("storage: migration failed")

// MigrationError 指明失败的迁移版本，便于诊断。
type MigrationError struct {
	Version string
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s (%s): %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() []error { return []error{ErrMigration, e.Err} }

// Migration 是一次有序的表结构/数据变更。Up 本身无需幂等，台账保证只执行一次。
type Migration struct {
	Version string
	Name    string
	Up      func(tx *gorm.DB) error
}

// MigrationReport 汇总一次 RunPending 的结果。
type MigrationReport struct {
	Applied []string
	Skipped []string
}

// Migrator 基于 schema_migrations 台账执行迁移。
type Migrator struct {
	db  *gorm.DB
	log log.FieldLogger
}

func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db, log: log.WithField("component", "migrator")}
}

// EnsureLedger 创建台账表（若不存在）；每次启动都可无条件执行。
func (m *Migrator) EnsureLedger(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}
	return nil
}

// AppliedVersions 读取已执行的版本（升序）。台账尚不存在时返回空集合而非错误。
func (m *Migrator) AppliedVersions(ctx context.Context) ([]string, error) {
	db := m.db.WithContext(ctx)
	if !db.Migrator().HasTable(&MigrationRecord{}) {
		return []string{}, nil
	}
	var versions []string
	if err := db.Model(&MigrationRecord{}).Pluck("version", &versions).Error; err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	sort.Slice(versions, func(i, j int) bool { return versionLess(versions[i], versions[j]) })
	return versions, nil
}

// Records 返回完整台账，供状态查询。
func (m *Migrator) Records(ctx context.Context) ([]MigrationRecord, error) {
	db := m.db.WithContext(ctx)
	if !db.Migrator().HasTable(&MigrationRecord{}) {
		return nil, nil
	}
	var recs []MigrationRecord
	if err := db.Order("applied_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	return recs, nil
}

// Apply 在同一事务中执行变更并写入台账；变更失败时不写台账。
func (m *Migrator) Apply(ctx context.Context, mig Migration) error {
	if mig.Up == nil {
		return &MigrationError{Version: mig.Version, Name: mig.Name, Err: errors.New("missing change")}
	}
	started := time.Now()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mig.Up(tx); err != nil {
			return err
		}
		rec := &MigrationRecord{Version: mig.Version, Name: mig.Name, AppliedAt: tx.NowFunc()}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("record ledger row: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.MigrationFailures.Inc()
		m.log.WithError(err).WithFields(log.Fields{"version": mig.Version, "name": mig.Name}).Error("migration failed")
		return &MigrationError{Version: mig.Version, Name: mig.Name, Err: err}
	}
	metrics.MigrationsApplied.Inc()
	m.log.WithFields(log.Fields{
		"version":     mig.Version,
		"name":        mig.Name,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("migration applied")
	return nil
}

// Pending 返回尚未执行的迁移（按给定顺序），不做任何修改。
func (m *Migrator) Pending(ctx context.Context, migrations []Migration) ([]Migration, error) {
	if err := checkOrder(migrations); err != nil {
		return nil, err
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	done := toSet(applied)
	var out []Migration
	for _, mig := range migrations {
		if _, ok := done[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out, nil
}

// RunPending 按固定顺序执行未应用的迁移；任一失败立即停止，后续迁移不再尝试。
func (m *Migrator) RunPending(ctx context.Context, migrations []Migration) (MigrationReport, error) {
	var report MigrationReport
	if err := checkOrder(migrations); err != nil {
		return report, err
	}
	if err := m.EnsureLedger(ctx); err != nil {
		return report, err
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return report, err
	}
	done := toSet(applied)
	for _, mig := range migrations {
		if _, ok := done[mig.Version]; ok {
			report.Skipped = append(report.Skipped, mig.Version)
			m.log.WithFields(log.Fields{"version": mig.Version, "name": mig.Name}).Debug("migration already applied")
			continue
		}
		if err := m.Apply(ctx, mig); err != nil {
			return report, err
		}
		report.Applied = append(report.Applied, mig.Version)
	}
	return report, nil
}

func checkOrder(migrations []Migration) error {
	for i := 1; i < len(migrations); i++ {
		prev, cur := migrations[i-1].Version, migrations[i].Version
		if !versionLess(prev, cur) {
			return fmt.Errorf("%w: versions out of order: %s before %s", ErrMigration, prev, cur)
		}
	}
	return nil
}

// versionLess 两侧均为整数时按数值比较，否则按字符串比较。
func versionLess(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

func toSet(vs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		out[v] = struct{}{}
	}
	return out
}
