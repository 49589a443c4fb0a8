// Package metrics 定义进程内 Prometheus 指标：迁移、缓存命中/降级、仓储错误与运维 HTTP 接口。
package metrics
