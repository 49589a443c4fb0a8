package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"datacore/internal/storage"
)

type AnalysisRepository struct {
	*Repo[storage.DataAnalysis]
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	r := newRepo[storage.DataAnalysis](db, "data_analysis", "status", "progress")
	r.validate = validateAnalysis
	return &AnalysisRepository{Repo: r}
}

func validateAnalysis(a *storage.DataAnalysis) error {
	if a.UserID == "" {
		return invalid("data_analysis.user_id is required")
	}
	if !a.AnalysisType.Valid() {
		return invalid("unknown analysis type %q", a.AnalysisType)
	}
	if a.Status != "" && a.Status.Rank() < 0 {
		return invalid("unknown status %q", a.Status)
	}
	return validProgress(a.Progress)
}

func validProgress(p float64) error {
	if p < 0 || p > 1 {
		return invalid("progress %v out of range [0, 1]", p)
	}
	return nil
}

// ListByUser 按创建时间倒序分页。
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]storage.DataAnalysis, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id")
	return r.find(paginate(q, offset, limit), "list_by_user")
}

func (r *AnalysisRepository) ListByStatus(ctx context.Context, status storage.AnalysisStatus, limit int) ([]storage.DataAnalysis, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at, id")
	return r.find(paginate(q, 0, limit), "list_by_status")
}

// ListRecent 返回最近 days 天内创建的分析，最新在前。
func (r *AnalysisRepository) ListRecent(ctx context.Context, days int) ([]storage.DataAnalysis, error) {
	since := r.now().AddDate(0, 0, -days)
	q := r.db.WithContext(ctx).Where("created_at >= ?", since).Order("created_at DESC, id")
	return r.find(q, "list_recent")
}

// CountRecent 统计 since 之后创建的记录；userID 为空表示全部用户。
func (r *AnalysisRepository) CountRecent(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&storage.DataAnalysis{}).Where("created_at >= ?", since)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, classify(r.entity, "count_recent", err)
	}
	return n, nil
}

// CountByStatus 统计某用户（userID 为空表示全部）各状态的数量。
func (r *AnalysisRepository) CountByStatus(ctx context.Context, userID string) (map[storage.AnalysisStatus]int64, error) {
	var rows []struct {
		Status storage.AnalysisStatus
		N      int64
	}
	q := r.db.WithContext(ctx).Model(&storage.DataAnalysis{}).Select("status, COUNT(*) AS n").Group("status")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, classify(r.entity, "count_by_status", err)
	}
	out := make(map[storage.AnalysisStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// UpdateStatus 推进状态并刷新 updated_at；进入 completed 时记录 completed_at。
func (r *AnalysisRepository) UpdateStatus(ctx context.Context, id string, status storage.AnalysisStatus, progress *float64) (*storage.DataAnalysis, error) {
	if progress != nil {
		if err := validProgress(*progress); err != nil {
			return nil, err
		}
	}
	return transition(ctx, r.Repo, id, status, analysisStatus, func(now time.Time) map[string]any {
		extra := map[string]any{}
		if progress != nil {
			extra["progress"] = *progress
		}
		if status == storage.AnalysisCompleted {
			extra["completed_at"] = now
		}
		return extra
	})
}

// SetResults 写入分析结果，不改变状态。
func (r *AnalysisRepository) SetResults(ctx context.Context, id string, results any) (*storage.DataAnalysis, error) {
	return r.Update(ctx, id, map[string]any{"results": results})
}

// Complete 在同一事务中写入结果、进度置 1 并进入 completed；已终止的分析按状态契约拒绝。
func (r *AnalysisRepository) Complete(ctx context.Context, id string, results any) (*storage.DataAnalysis, error) {
	raw, err := encodeJSON(results)
	if err != nil {
		return nil, invalid("data_analysis.results: %v", err)
	}
	return transition(ctx, r.Repo, id, storage.AnalysisCompleted, analysisStatus, func(now time.Time) map[string]any {
		return map[string]any{"results": raw, "progress": 1.0, "completed_at": now}
	})
}

// SetError 把分析标记为 failed 并记录错误信息。
func (r *AnalysisRepository) SetError(ctx context.Context, id, message string) (*storage.DataAnalysis, error) {
	return transition(ctx, r.Repo, id, storage.AnalysisFailed, analysisStatus, func(time.Time) map[string]any {
		return map[string]any{"error_message": message}
	})
}

// DeleteFailedBefore 删除在 cutoff 之前失败的分析及其文件记录，返回删除的分析数。
func (r *AnalysisRepository) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		failed := tx.Model(&storage.DataAnalysis{}).Select("id").
			Where("status = ? AND updated_at < ?", storage.AnalysisFailed, cutoff)
		if err := tx.Where("data_analysis_id IN (?)", failed).Delete(&storage.AnalysisFile{}).Error; err != nil {
			return err
		}
		res := tx.Where("status = ? AND updated_at < ?", storage.AnalysisFailed, cutoff).Delete(&storage.DataAnalysis{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, classify(r.entity, "delete_failed", err)
	}
	return n, nil
}

func analysisStatus(a *storage.DataAnalysis) storage.AnalysisStatus { return a.Status }
