// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的事件流水线指标采集能力。

# 概述

Collector 通过 promauto.With 注册到指定 Registerer，节点使用独立的
Registry 暴露 /metrics，测试可以为每个用例创建新的 Registry。
所有 Record 方法对 nil 接收者安全。

# 指标维度

  - HTTP：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 流水线：提交数（local/remote）、运行结果（completed/dropped）、
    每个 cartridge 的调用结果与耗时。
  - Cartridge：信任评估结果、去重检查、关联检测、通知投影。
  - 网格：转发与接收结果。
  - 数据库：活跃/空闲连接数。
*/
package metrics
