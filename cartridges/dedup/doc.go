// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 dedup 按幂等键丢弃保留窗口内的重复信封。

幂等键由事件目录声明的 idempotency_fields 计算，未声明时回退到
(event, source, entity)。索引有两种实现：

  - MemoryIndex：进程内 map，按保留窗口惰性清理。
  - RedisIndex：SET NX PX，多个节点实例共享同一窗口。

索引出错时 cartridge 返回 Faulted，信封照常放行。
*/
package dedup
