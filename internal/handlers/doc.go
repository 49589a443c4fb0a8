// Package handlers 暴露运维 HTTP 接口：健康检查、统计、用户活动、维护清理与迁移台账。
// handlers 内部聚焦输入/输出转换，并委托 services 层完成业务逻辑。
package handlers
