// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 node 是 EventFlow 节点的组合根。

New 根据 config.Config 打开事件存储、加载事件目录、选择去重后端，
按固定顺序装配 cartridge 链：

	trust → dedup → enrichment → correlation → classification
	→ [扩展槽] → notification → mesh → installer

推广跟踪器作为运行时的调用记录器挂载，安装器与跟踪器在运行时创建后绑定。
配置了对等节点传输时才会挂载 mesh 发布者与入站处理器。

本地生产者通过 Submit 提交信封；Close 会等待在途信封与网格投递完成。
*/
package node
