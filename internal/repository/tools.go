package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"datacore/internal/storage"
)

type ToolRepository struct {
	*Repo[storage.ToolGeneration]
}

func NewToolRepository(db *gorm.DB) *ToolRepository {
	r := newRepo[storage.ToolGeneration](db, "tool_generation", "status")
	r.validate = func(t *storage.ToolGeneration) error {
		if t.UserID == "" {
			return invalid("tool_generation.user_id is required")
		}
		if !t.ToolType.Valid() {
			return invalid("unknown tool type %q", t.ToolType)
		}
		if t.Status != "" && t.Status.Rank() < 0 {
			return invalid("unknown status %q", t.Status)
		}
		return nil
	}
	return &ToolRepository{Repo: r}
}

func (r *ToolRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]storage.ToolGeneration, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id")
	return r.find(paginate(q, offset, limit), "list_by_user")
}

func (r *ToolRepository) ListByType(ctx context.Context, toolType storage.ToolType, limit int) ([]storage.ToolGeneration, error) {
	q := r.db.WithContext(ctx).Where("tool_type = ?", toolType).Order("created_at DESC, id")
	return r.find(paginate(q, 0, limit), "list_by_type")
}

func (r *ToolRepository) ListByStatus(ctx context.Context, status storage.ToolStatus, limit int) ([]storage.ToolGeneration, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at, id")
	return r.find(paginate(q, 0, limit), "list_by_status")
}

// ListCompleted 返回最近完成的工具，按完成时间倒序。
func (r *ToolRepository) ListCompleted(ctx context.Context, limit int) ([]storage.ToolGeneration, error) {
	q := r.db.WithContext(ctx).Where("status = ?", storage.ToolCompleted).Order("completed_at DESC, id")
	return r.find(paginate(q, 0, limit), "list_completed")
}

// CountRecent 统计 since 之后创建的记录；userID 为空表示全部用户。
func (r *ToolRepository) CountRecent(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&storage.ToolGeneration{}).Where("created_at >= ?", since)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, classify(r.entity, "count_recent", err)
	}
	return n, nil
}

func (r *ToolRepository) CountByStatus(ctx context.Context, userID string) (map[storage.ToolStatus]int64, error) {
	var rows []struct {
		Status storage.ToolStatus
		N      int64
	}
	q := r.db.WithContext(ctx).Model(&storage.ToolGeneration{}).Select("status, COUNT(*) AS n").Group("status")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, classify(r.entity, "count_by_status", err)
	}
	out := make(map[storage.ToolStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// UpdateStatus 与分析相同的状态契约：只前进，completed 时记录 completed_at。
func (r *ToolRepository) UpdateStatus(ctx context.Context, id string, status storage.ToolStatus) (*storage.ToolGeneration, error) {
	return transition(ctx, r.Repo, id, status, toolStatus, func(now time.Time) map[string]any {
		if status == storage.ToolCompleted {
			return map[string]any{"completed_at": now}
		}
		return nil
	})
}

// SetArtifact 写入生成的代码与依赖列表。
func (r *ToolRepository) SetArtifact(ctx context.Context, id, code string, deps any) (*storage.ToolGeneration, error) {
	return r.Update(ctx, id, map[string]any{"generated_code": code, "dependencies": deps})
}

// Complete 在同一事务中写入代码与依赖并进入 completed。
func (r *ToolRepository) Complete(ctx context.Context, id, code string, deps any) (*storage.ToolGeneration, error) {
	raw, err := encodeJSON(deps)
	if err != nil {
		return nil, invalid("tool_generation.dependencies: %v", err)
	}
	return transition(ctx, r.Repo, id, storage.ToolCompleted, toolStatus, func(now time.Time) map[string]any {
		return map[string]any{"generated_code": code, "dependencies": raw, "completed_at": now}
	})
}

func (r *ToolRepository) SetError(ctx context.Context, id, message string) (*storage.ToolGeneration, error) {
	return transition(ctx, r.Repo, id, storage.ToolFailed, toolStatus, func(time.Time) map[string]any {
		return map[string]any{"error_message": message}
	})
}

func toolStatus(t *storage.ToolGeneration) storage.ToolStatus { return t.Status }
