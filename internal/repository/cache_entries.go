package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"datacore/internal/storage"
)

// CacheEntryRepository 是持久化兜底缓存；过期行在读取时视为不存在。
type CacheEntryRepository struct {
	*Repo[storage.CacheEntry]
}

func NewCacheEntryRepository(db *gorm.DB) *CacheEntryRepository {
	return &CacheEntryRepository{Repo: newRepo[storage.CacheEntry](db, "cache_entry", "key")}
}

func (r *CacheEntryRepository) GetByKey(ctx context.Context, key string) (*storage.CacheEntry, error) {
	// key 是 MySQL 保留字，用结构体条件让方言负责引用
	q := r.db.WithContext(ctx).Where(&storage.CacheEntry{Key: key}).Where("expires_at > ?", r.now())
	return r.first(ctx, q, "get_by_key")
}

// SetCache 以 key 为唯一键写入或覆盖，expires_at = now + ttl。
func (r *CacheEntryRepository) SetCache(ctx context.Context, key string, value any, ttl time.Duration) (*storage.CacheEntry, error) {
	if key == "" {
		return nil, invalid("cache_entry.key is required")
	}
	if ttl <= 0 {
		return nil, invalid("ttl must be positive")
	}
	raw, err := encodeJSON(value)
	if err != nil {
		return nil, invalid("cache_entry.value: %v", err)
	}
	entry := &storage.CacheEntry{Key: key, Value: raw, ExpiresAt: r.now().Add(ttl)}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, classify(r.entity, "set", err)
	}
	return r.first(ctx, r.db.WithContext(ctx).Where(&storage.CacheEntry{Key: key}), "set")
}

// CleanupExpired 删除所有已过期条目，返回删除条数。
func (r *CacheEntryRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now()).Delete(&storage.CacheEntry{})
	if res.Error != nil {
		return 0, classify(r.entity, "cleanup", res.Error)
	}
	return res.RowsAffected, nil
}
