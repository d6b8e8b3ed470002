// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package catalog 提供事件类型到 EventSchema 的静态注册表。

# 概述

目录是流水线中所有“按事件类型区分行为”的唯一来源：级别、领域、
默认可见性、幂等字段、通知生命周期与可操作性都以声明式数据存放在
这里，cartridge 在运行时查表，新增事件类型无需修改任何 cartridge 代码。

# 核心类型

  - Catalog：线程安全的注册表，条目注册后不可变（Get 返回副本）
  - Builtin：内置事件 schema 列表
  - Watcher：轮询 YAML schema 文件，发现新事件类型时增量注册

# 主要能力

  - Register / MustRegister：注册并校验 schema，重复注册返回 ErrSchemaExists
  - LoadFile：从 YAML 文件批量注册，已存在的条目保持不变
  - 未知事件类型不是错误，调用方按各自的保守默认值处理
*/
package catalog
