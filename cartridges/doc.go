// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cartridges 收录内置的流水线处理阶段，按执行顺序分别位于子包：

  - trust：信任边界，按严格度接受、标记、隔离或拒绝信封
  - dedup：基于幂等键与保留窗口的去重
  - enrichment：按实体 URI 从事件存储附加历史统计
  - correlation：时间窗口计数与突发/级联/退化检测
  - classification：按事件目录确定处理方式与可操作性
  - notification：将值得通知的信封投影为持久化通知

所有 cartridge 都实现 pipeline.Cartridge，彼此之间只通过信封的
保留 payload 键传递派生数据。
*/
package cartridges
