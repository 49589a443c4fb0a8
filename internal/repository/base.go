package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"datacore/internal/jsonval"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Repo 是各实体共享的泛型 CRUD 实现。实体模型须以字符串 id 为主键。
type Repo[T any] struct {
	db       *gorm.DB
	entity   string
	columns  map[string]bool // 列名 -> 是否为 JSON 列
	readonly map[string]bool
	validate func(*T) error
}

func newRepo[T any](db *gorm.DB, entity string, readonly ...string) *Repo[T] {
	r := &Repo[T]{
		db:       db,
		entity:   entity,
		columns:  map[string]bool{},
		readonly: map[string]bool{"id": true, "created_at": true},
	}
	for _, c := range readonly {
		r.readonly[c] = true
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(T)); err == nil {
		for _, f := range stmt.Schema.Fields {
			if f.DBName != "" {
				r.columns[f.DBName] = f.DataType == "json"
			}
		}
	}
	return r
}

func (r *Repo[T]) now() time.Time { return r.db.NowFunc() }

// Create 持久化新记录；未提供 id 时自动生成。返回值即写入后的记录（含时间戳与默认值）。
func (r *Repo[T]) Create(ctx context.Context, v *T) (*T, error) {
	if r.validate != nil {
		if err := r.validate(v); err != nil {
			return nil, err
		}
	}
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, classify(r.entity, "create", err)
	}
	return v, nil
}

// GetByID 记录不存在时返回 (nil, nil)。
func (r *Repo[T]) GetByID(ctx context.Context, id string) (*T, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("id = ?", id), "get")
}

func (r *Repo[T]) first(_ context.Context, q *gorm.DB, op string) (*T, error) {
	var v T
	if err := q.First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(r.entity, op, err)
	}
	return &v, nil
}

// List 按创建顺序分页返回。
func (r *Repo[T]) List(ctx context.Context, offset, limit int) ([]T, error) {
	q := r.db.WithContext(ctx).Order("created_at, id")
	return r.find(paginate(q, offset, limit), "list")
}

func (r *Repo[T]) find(q *gorm.DB, op string) ([]T, error) {
	out := []T{}
	if err := q.Find(&out).Error; err != nil {
		return nil, classify(r.entity, op, err)
	}
	return out, nil
}

// Update 合并给定列并持久化；id 不存在时返回 (nil, nil)。
// 未知列、只读列以及状态列（须通过 UpdateStatus）返回 ErrInvalidField。
func (r *Repo[T]) Update(ctx context.Context, id string, fields map[string]any) (*T, error) {
	assign, err := r.assignments(fields)
	if err != nil {
		return nil, err
	}
	var out *T
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := r.first(ctx, tx.Where("id = ?", id), "update")
		if err != nil || cur == nil {
			return err
		}
		if len(assign) > 0 {
			if err := tx.Model(cur).Updates(assign).Error; err != nil {
				return err
			}
		}
		out, err = r.first(ctx, tx.Where("id = ?", id), "update")
		return err
	})
	if err != nil {
		return nil, classify(r.entity, "update", err)
	}
	return out, nil
}

func (r *Repo[T]) assignments(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for col, v := range fields {
		isJSON, known := r.columns[col]
		if !known || r.readonly[col] {
			return nil, invalid("%s.%s is not updatable", r.entity, col)
		}
		if isJSON {
			enc, err := encodeJSON(v)
			if err != nil {
				return nil, invalid("%s.%s: %v", r.entity, col, err)
			}
			v = enc
		}
		out[col] = v
	}
	return out, nil
}

// Delete 返回是否确有记录被删除。
func (r *Repo[T]) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if res.Error != nil {
		return false, classify(r.entity, "delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(new(T)).Count(&n).Error; err != nil {
		return 0, classify(r.entity, "count", err)
	}
	return n, nil
}

func paginate(q *gorm.DB, offset, limit int) *gorm.DB {
	if offset < 0 {
		offset = 0
	}
	return q.Offset(offset).Limit(clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func encodeJSON(v any) (jsonval.JSON, error) {
	if raw, ok := v.(jsonval.JSON); ok {
		return raw, nil
	}
	return jsonval.Encode(v)
}
