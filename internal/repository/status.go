package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type lifecycle interface {
	~string
	Rank() int
	Terminal() bool
}

// checkTransition 状态只能前进；终态不可改变，重复设置同一终态视为无操作。
func checkTransition[S lifecycle](cur, next S) (noop bool, err error) {
	if next.Rank() < 0 {
		return false, invalid("unknown status %q", string(next))
	}
	if cur.Terminal() {
		if cur == next {
			return true, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", ErrStatusTransition, cur, next)
	}
	if next.Rank() < cur.Rank() {
		return false, fmt.Errorf("%w: %s -> %s", ErrStatusTransition, cur, next)
	}
	return false, nil
}

// transition 在事务内读取当前状态、校验后写入；id 不存在返回 (nil, nil)。
// 并发写入仍为后写者胜出，仅借事务保证单次读改写的一致视图。
func transition[T any, S lifecycle](ctx context.Context, r *Repo[T], id string, next S, current func(*T) S, extra func(now time.Time) map[string]any) (*T, error) {
	var out *T
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := r.first(ctx, tx.Where("id = ?", id), "update_status")
		if err != nil || cur == nil {
			return err
		}
		noop, err := checkTransition(current(cur), next)
		if err != nil {
			return err
		}
		if noop {
			out = cur
			return nil
		}
		now := r.now()
		assign := map[string]any{"status": next, "updated_at": now}
		if extra != nil {
			for k, v := range extra(now) {
				assign[k] = v
			}
		}
		if err := tx.Model(cur).Updates(assign).Error; err != nil {
			return err
		}
		out, err = r.first(ctx, tx.Where("id = ?", id), "update_status")
		return err
	})
	if err != nil {
		return nil, classify(r.entity, "update_status", err)
	}
	return out, nil
}
