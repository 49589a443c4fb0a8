// Package config 负责加载进程配置：内置默认值 → 配置文件（YAML/JSON）→ 环境变量覆盖。
// 该层只依赖解析库，供 main 与各组件直接读取结构化配置。
package config
