// Package storage 提供底层持久化与缓存适配：MySQL/Redis 连接、实体模型声明、
// 有序迁移引擎（schema_migrations 台账）以及表结构健康检查。
// 其它层应通过 repository 访问实体表，不得在此包之外直接修改表结构。
package storage
