// Package middlewares 提供运维 HTTP 接口共用的 Gin 中间件：请求 ID、访问日志、安全头与限流。
package middlewares
