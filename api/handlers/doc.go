// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 EventFlow 节点 HTTP API 的请求处理器实现。

# 核心类型

  - EventHandler       : 信封提交（异步受理或 ?wait=true 同步运行）
  - NotificationHandler: 通知读取面：按状态过滤、已读、认领、处理中、解决
  - QuarantineHandler  : 隔离积压的审阅列表
  - CartridgeHandler   : 链与调用计数、暂存版本、显式激活/拒绝
  - HealthHandler      : 存活与就绪探针，可注册数据库、Redis 检查
  - Response           : 统一 JSON 响应结构（success + data + error + timestamp）

# 路由

每个 Handler 提供 Register(mux)，使用 Go 1.22 的方法+路径模式注册路由。
所有 Handler 只依赖接口或 *store.Store，便于使用 httptest 测试。
*/
package handlers
