package middlewares

import "github.com/gin-gonic/gin"

// SecurityHeaders 为运维接口设置通用安全响应头；统计与健康数据不应被中间代理缓存。
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
