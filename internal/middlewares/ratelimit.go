package middlewares

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// RateLimit 返回一个使用 Redis INCR+TTL 的固定窗口限流中间件。
// keyFn 用于构建请求者唯一键（如按 IP）。Redis 缺失或出错时放行，限流与缓存一样只是建议性的。
func RateLimit(rdb *redis.Client, prefix string, limit int, window time.Duration, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if rdb == nil || key == "" || limit <= 0 {
			c.Next()
			return
		}
		rkey := fmt.Sprintf("rl:%s:%s", prefix, key)
		cnt, err := rdb.Incr(c.Request.Context(), rkey).Result()
		if err != nil {
			log.WithError(err).WithField("prefix", prefix).Debug("rate limit skipped")
			c.Next()
			return
		}
		// 第一次自增时同时设置 TTL 窗口
		if cnt == 1 {
			_ = rdb.Expire(c.Request.Context(), rkey, window).Err()
		}
		if cnt > int64(limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			c.AbortWithStatusJSON(429, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
