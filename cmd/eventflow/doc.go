// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 EventFlow 节点程序入口。

# 概述

cmd/eventflow 启动一个 EventFlow 节点：加载 YAML/环境变量配置，
组装 node.Node（存储、流水线、网格、安装器），并在两个端口上暴露
REST 接口与 Prometheus 指标。同一个二进制也提供数据库迁移、
健康检查、版本查询和事件提交等客户端子命令。

# 核心类型

  - Server          : 持有节点与 api/metrics 两个 server.Manager，负责有序关闭
  - Middleware      : HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、submit、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、Metrics、RateLimiter（基于 IP）、APIKeyAuth（X-API-Key）
  - 网格端点：启用网格时在 mesh.listen_path 上接受对等节点的 WebSocket 连接
  - 优雅关闭：信号监听 → 关闭 HTTP → 排空流水线 → 关闭节点 → 关闭 Metrics
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
