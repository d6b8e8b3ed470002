// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pipeline 实现事件流水线运行时：按固定顺序驱动每个信封经过
cartridge 链。

# 核心类型

  - Cartridge：处理阶段接口，返回带标签的 Result（Passed/Dropped/Faulted）。
  - Context：所有 cartridge 共享的只读依赖（目录、存储、发射器、节点身份）。
  - Runtime：执行链，记录调用次数，通过 goroutine 池异步处理提交的信封。
  - Registry：按入口点名称构造扩展 cartridge 的工厂表。

# 执行语义

  - 链顺序固定：头部内置阶段 → 扩展槽 → 尾部内置阶段。
  - Dropped 终止当前信封的处理；Faulted（含 panic）按原样放行。
  - 每次 Passed 之后调用 InvocationRecorder。
  - Close 拒绝新的提交，并等待所有在途信封（包括其派生信封）处理完成。
*/
package pipeline
