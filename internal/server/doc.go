// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 EventFlow 节点的 HTTP 服务器生命周期：非阻塞启动、
优雅关闭与系统信号监听。

# 概述

节点通常运行两个 Manager：api（REST 接口、健康探针与网格 WebSocket 端点）
和 metrics（Prometheus 抓取端点）。关闭顺序由 cmd/eventflow 决定：
先停止 HTTP 接入，再排空流水线，最后关闭存储。

# 核心类型

  - Manager：封装 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/WaitForShutdown。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，ListenAddr 返回实际端口。
  - 优雅关闭：Shutdown 在配置的超时内排空请求，重复调用是空操作。
  - 信号监听：WaitForShutdown 等待 SIGINT/SIGTERM、ctx 结束或服务器异常退出，
    本身不关闭服务器。
*/
package server
