/*
Package store 是事件流水线的持久化层（Event Store）。

# 概述

基于 GORM 的关系存储，维护五张表：

  - notifications：按分组键唯一的通知行，由通知投影维护，
    外部消费方通过 MarkSeen / Claim / StartProgress / Resolve 修改状态
  - quarantined_events：被信任评估隔离的信封存档
  - correlation_windows：(event_type, entity, window_start) 计数桶
  - cartridge_stats：每个 cartridge 的调用计数
  - staged_cartridges：从网格收到、等待或已经激活的远程 cartridge

所有写入都是行级 upsert 或条件更新，不使用全局锁；并发写入不同键时互不阻塞。
*/
package store
