// Package repository 是访问持久化存储的唯一路径：每类实体一个仓储，
// 共享泛型 CRUD（Repo[T]），并提供各自固定的查询形态。
//
// 约定：记录不存在时返回 (nil, nil) 或 false，而不是错误；
// 唯一约束冲突包装为 ErrConflict，外键缺失为 ErrReference，其余存储失败为 ErrStorage。
package repository
