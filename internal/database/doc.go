// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开事件存储所用的关系数据库并管理连接池。

# 概述

Open 按驱动名（sqlite / postgres / mysql）选择 GORM 方言，
默认使用纯 Go 的 sqlite 实现作为嵌入式存储。PoolManager 封装
连接池参数、后台健康检查与事务执行。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()、WithTransaction()、WithTransactionRetry()。
  - PoolConfig：连接池配置。sqlite 下 Open 会强制单连接。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 多方言：sqlite（github.com/glebarez/sqlite）、postgres、mysql。
  - 健康检查：后台定时 PingContext 探活。
  - 事务重试：死锁、序列化失败、sqlite busy 等瞬时错误指数退避重试。
*/
package database
