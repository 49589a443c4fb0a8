package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"datacore/internal/storage"
)

// ErrNoPartition 表示目标月份的日志子表尚未建立。
var ErrNoPartition = errors.New("repository: log partition missing")

// LogRepository 只追加；删除仅通过保留期清理进行。
type LogRepository struct {
	*Repo[storage.SystemLog]
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	r := newRepo[storage.SystemLog](db, "system_log", "level", "service", "message", "details")
	r.validate = func(l *storage.SystemLog) error {
		if l.Service == "" || l.Level == "" {
			return invalid("system_log requires service and level")
		}
		return nil
	}
	return &LogRepository{Repo: r}
}

// ListByService 最新在前，数量受 limit 限制。
func (r *LogRepository) ListByService(ctx context.Context, service string, limit int) ([]storage.SystemLog, error) {
	q := r.db.WithContext(ctx).Where("service = ?", service).Order("created_at DESC, id")
	return r.find(paginate(q, 0, limit), "list_by_service")
}

func (r *LogRepository) ListByLevel(ctx context.Context, level string, limit int) ([]storage.SystemLog, error) {
	q := r.db.WithContext(ctx).Where("level = ?", level).Order("created_at DESC, id")
	return r.find(paginate(q, 0, limit), "list_by_level")
}

// ListRecent 返回最近 hours 小时内的日志，最新在前。
func (r *LogRepository) ListRecent(ctx context.Context, hours int) ([]storage.SystemLog, error) {
	since := r.now().Add(-time.Duration(hours) * time.Hour)
	q := r.db.WithContext(ctx).Where("created_at >= ?", since).Order("created_at DESC, id")
	return r.find(q, "list_recent")
}

// CleanupOldLogs 删除早于 days 天的日志，返回删除条数。
func (r *LogRepository) CleanupOldLogs(ctx context.Context, days int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&storage.SystemLog{})
	if res.Error != nil {
		return 0, classify(r.entity, "cleanup", res.Error)
	}
	return res.RowsAffected, nil
}

// ArchiveMonth 把 month 所在月份的日志复制到对应子表，已复制的行跳过。
func (r *LogRepository) ArchiveMonth(ctx context.Context, month time.Time) (int64, error) {
	month = month.UTC()
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	part := storage.LogPartitionName(start)
	db := r.db.WithContext(ctx)
	if !db.Migrator().HasTable(part) {
		return 0, fmt.Errorf("%w: %s", ErrNoPartition, part)
	}
	res := db.Exec("INSERT INTO ? SELECT * FROM ? WHERE created_at >= ? AND created_at < ? AND id NOT IN (SELECT id FROM ?)",
		clause.Table{Name: part}, clause.Table{Name: "system_logs"}, start, start.AddDate(0, 1, 0), clause.Table{Name: part})
	if res.Error != nil {
		return 0, classify(r.entity, "archive", res.Error)
	}
	return res.RowsAffected, nil
}

// ArchiveThrough 从最早一条日志所在月份起，逐月归档到 until 所在月份（含）。
// 子表不存在的月份跳过；返回复制的总行数。
func (r *LogRepository) ArchiveThrough(ctx context.Context, until time.Time) (int64, error) {
	oldest, err := r.first(ctx, r.db.WithContext(ctx).Where("created_at < ?", until).Order("created_at, id"), "archive")
	if err != nil || oldest == nil {
		return 0, err
	}
	until = until.UTC()
	last := time.Date(until.Year(), until.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := oldest.CreatedAt.UTC()
	var total int64
	for m := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(last); m = m.AddDate(0, 1, 0) {
		n, err := r.ArchiveMonth(ctx, m)
		if errors.Is(err, ErrNoPartition) {
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
