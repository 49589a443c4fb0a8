package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"datacore/internal/jsonval"
	"datacore/internal/metrics"
)

// NoExpiry 是 RemainingTTL 对永不过期键的返回值。
const NoExpiry time.Duration = -1

const scanBatch = 100

// Client 封装 go-redis，所有操作先探测后端可达性，失败时降级而不是报错。
type Client struct {
	rdb *redis.Client
	log log.FieldLogger
}

// NewClient rdb 为 nil 时客户端始终处于降级状态。
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, log: log.WithField("component", "cache")}
}

// Ping 报告后端当前是否可达。
func (c *Client) Ping(ctx context.Context) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	return c.rdb.Ping(ctx).Err() == nil
}

func (c *Client) available(ctx context.Context, op string) bool {
	if c.Ping(ctx) {
		return true
	}
	metrics.CacheOp(op, metrics.ResultDegraded)
	return false
}

func (c *Client) fail(op, key string, err error) {
	metrics.CacheOp(op, metrics.ResultDegraded)
	if c != nil {
		c.log.WithError(err).WithFields(log.Fields{"op": op, "key": key}).Warn("cache operation degraded")
	}
}

// Set 序列化并写入；ttl<=0 表示不过期。无法序列化或后端不可达时返回 false。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	raw, err := jsonval.Encode(value)
	if err != nil {
		c.fail("set", key, err)
		return false
	}
	if !c.available(ctx, "set") {
		return false
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, key, []byte(raw), ttl).Err(); err != nil {
		c.fail("set", key, err)
		return false
	}
	metrics.CacheOp("set", metrics.ResultOK)
	return true
}

// Get 把缓存值解码到 dst（指针）。未设置、不可达、载荷损坏三种情况统一返回 false。
func (c *Client) Get(ctx context.Context, key string, dst any) bool {
	if !c.available(ctx, "get") {
		return false
	}
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOp("get", metrics.ResultMiss)
		return false
	}
	if err != nil {
		c.fail("get", key, err)
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		c.fail("get", key, err)
		return false
	}
	metrics.CacheOp("get", metrics.ResultHit)
	return true
}

// GetValue 以结构化值形式读取缓存。
func (c *Client) GetValue(ctx context.Context, key string) (any, bool) {
	var v any
	if !c.Get(ctx, key, &v) {
		return nil, false
	}
	return v, true
}

// Delete 返回实际删除的键数。
func (c *Client) Delete(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 || !c.available(ctx, "delete") {
		return 0
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.fail("delete", keys[0], err)
		return 0
	}
	return n
}

func (c *Client) Exists(ctx context.Context, key string) bool {
	if !c.available(ctx, "exists") {
		return false
	}
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		c.fail("exists", key, err)
		return false
	}
	return n > 0
}

// SetTTL 重设过期时间；键不存在时返回 false。
func (c *Client) SetTTL(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.available(ctx, "expire") {
		return false
	}
	ok, err := c.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		c.fail("expire", key, err)
		return false
	}
	return ok
}

// RemainingTTL 键不存在或不可达时返回 0，永不过期返回 NoExpiry。
func (c *Client) RemainingTTL(ctx context.Context, key string) time.Duration {
	if !c.available(ctx, "ttl") {
		return 0
	}
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		c.fail("ttl", key, err)
		return 0
	}
	switch {
	case d == -1:
		return NoExpiry
	case d < 0:
		return 0
	}
	return d
}

// ClearPrefix 以 SCAN 枚举 prefix 开头的键并批量删除，返回删除数量。
func (c *Client) ClearPrefix(ctx context.Context, prefix string) int64 {
	if !c.available(ctx, "clear") {
		return 0
	}
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			c.fail("clear", prefix, err)
			return removed
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				c.fail("clear", prefix, err)
				return removed
			}
			removed += n
		}
		if next == 0 {
			return removed
		}
		cursor = next
	}
}

// track 把 member 加入集合并刷新集合过期时间。
func (c *Client) track(ctx context.Context, set, member string, ttl time.Duration) bool {
	if !c.available(ctx, "track") {
		return false
	}
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, set, member)
	if ttl > 0 {
		pipe.Expire(ctx, set, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.fail("track", set, err)
		return false
	}
	return true
}

func (c *Client) members(ctx context.Context, set string) []string {
	if !c.available(ctx, "members") {
		return nil
	}
	out, err := c.rdb.SMembers(ctx, set).Result()
	if err != nil {
		c.fail("members", set, err)
		return nil
	}
	return out
}

// Close 释放底层连接。
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
