// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理事件存储的版本化表结构，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，创建 notifications、
quarantined_events、correlation_windows、cartridge_stats 与
staged_cartridges 五张表及其唯一约束。SQLite 使用纯 Go 驱动，
与运行时存储一致。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Steps/Force/Version/Status/Info/Close。
  - Config：数据库类型、连接 URL、迁移表名与锁超时。
  - CLI：eventflow migrate 子命令的格式化输出。
*/
package migration
