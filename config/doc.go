// Package config 提供 EventFlow 节点的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（EVENTFLOW_ 前缀）的顺序叠加，
// 覆盖节点身份、HTTP 服务、流水线各 cartridge 参数、节点网格、
// 事件存储、Redis、日志与遥测。
package config
