// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 EventFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为 cartridge、网格、安装器与节点测试提供统一的辅助能力，
避免各包重复实现内存存储、目录与发射器等测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 存储辅助: NewStore 返回迁移完成的内存 SQLite 事件存储，
    NewContext 返回带内置目录的流水线上下文
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue

# 子包

  - testutil/mocks: RecordingEmitter（记录派生信封）、MockTransport
    （记录对等节点发送，支持按节点注入错误与延迟）
  - testutil/fixtures: 常用信封工厂（worker 崩溃、质量门、未知事件等）

# 使用示例

	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	emitter := mocks.NewRecordingEmitter()
	pctx.Emitter = emitter
*/
package testutil
