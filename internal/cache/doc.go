// Package cache 实现 Redis 上的旁路缓存（cache-aside）。
//
// 缓存是建议性的：后端不可达、序列化失败或载荷损坏时，所有操作退化为安全默认值
// （false / 未命中 / 0），调用方一律回落到持久化存储重新计算。命中值永远不比存储中的值更权威。
package cache
