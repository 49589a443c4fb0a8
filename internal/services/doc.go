// Package services 是持久化核心之上的领域服务层：用户、分析、工具、统计、日志与维护。
// 读多写少的数据走旁路缓存（先查缓存，未命中读仓储并回填），写操作后按用户精确失效。
// Core 在启动时构造一次，持有全部连接与服务，显式传递给调用方。
package services
