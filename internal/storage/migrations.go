package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// logPartitionMonths 为迁移 003 预建的月份数（含当月）。
const logPartitionMonths = 3

type indexSpec struct {
	table  string
	name   string
	column string
}

var performanceIndexes = []indexSpec{
	{"users", "idx_users_created_at", "created_at"},
	{"data_analyses", "idx_data_analyses_user_id", "user_id"},
	{"data_analyses", "idx_data_analyses_status", "status"},
	{"data_analyses", "idx_data_analyses_created_at", "created_at"},
	{"data_analyses", "idx_data_analyses_analysis_type", "analysis_type"},
	{"analysis_files", "idx_analysis_files_analysis_id", "data_analysis_id"},
	{"analysis_files", "idx_analysis_files_file_type", "file_type"},
	{"tool_generations", "idx_tool_generations_user_id", "user_id"},
	{"tool_generations", "idx_tool_generations_status", "status"},
	{"tool_generations", "idx_tool_generations_tool_type", "tool_type"},
	{"tool_generations", "idx_tool_generations_created_at", "created_at"},
	{"system_logs", "idx_system_logs_service", "service"},
	{"system_logs", "idx_system_logs_level", "level"},
	{"system_logs", "idx_system_logs_created_at", "created_at"},
	{"cache_entries", "idx_cache_entries_expires_at", "expires_at"},
}

// DefaultMigrations 返回固定的迁移全序列表。新增迁移只能追加在末尾。
func DefaultMigrations() []Migration {
	return []Migration{
		{Version: "001", Name: "initial_schema", Up: migrateInitialSchema},
		{Version: "002", Name: "add_performance_indexes", Up: migratePerformanceIndexes},
		{Version: "003", Name: "add_log_partitions", Up: func(tx *gorm.DB) error {
			_, err := EnsureLogPartitions(tx, tx.NowFunc(), logPartitionMonths)
			return err
		}},
	}
}

func migrateInitialSchema(tx *gorm.DB) error {
	if err := tx.AutoMigrate(EntityModels()...); err != nil {
		return fmt.Errorf("create entity tables: %w", err)
	}
	return nil
}

func migratePerformanceIndexes(tx *gorm.DB) error {
	for _, idx := range performanceIndexes {
		if tx.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		err := tx.Exec("CREATE INDEX ? ON ? (?)",
			clause.Column{Name: idx.name}, clause.Table{Name: idx.table}, clause.Column{Name: idx.column}).Error
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// LogPartitionName 返回某时间所在月份的日志子表名，例如 system_logs_2026_10。
func LogPartitionName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("system_logs_%04d_%02d", t.Year(), int(t.Month()))
}

// EnsureLogPartitions 从 from 所在月份起建立 months 个按月日志子表，已存在的跳过。
// 子表与 system_logs 同构，不修改已提交的数据。返回本次新建的表名。
func EnsureLogPartitions(tx *gorm.DB, from time.Time, months int) ([]string, error) {
	start := time.Date(from.UTC().Year(), from.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	var created []string
	for i := 0; i < months; i++ {
		name := LogPartitionName(start.AddDate(0, i, 0))
		if tx.Migrator().HasTable(name) {
			continue
		}
		var err error
		switch tx.Dialector.Name() {
		case "mysql":
			err = tx.Exec("CREATE TABLE IF NOT EXISTS ? LIKE ?", clause.Table{Name: name}, clause.Table{Name: "system_logs"}).Error
		default:
			err = tx.Exec("CREATE TABLE IF NOT EXISTS ? AS SELECT * FROM ? WHERE 1 = 0", clause.Table{Name: name}, clause.Table{Name: "system_logs"}).Error
		}
		if err != nil {
			return created, fmt.Errorf("create log partition %s: %w", name, err)
		}
		created = append(created, name)
	}
	return created, nil
}
