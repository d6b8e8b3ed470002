// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，为去重索引等组件提供共享的
Redis 连接、健康检查与原子写入操作。

# 核心类型

  - Manager：持有 Redis 客户端，提供 SetNX/Exists/Delete/Ping/Close。
  - Config：地址、密码、连接池大小与健康检查间隔。

# 主要能力

  - SetNX：检查与写入在 Redis 端原子完成，保证同一键只有一个首次写入者。
  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警。
  - 关闭后所有操作返回 ErrClosed。
*/
package cache
