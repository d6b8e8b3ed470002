// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 mesh 在节点之间转发信封。

# 出站

Publisher 是链尾的 cartridge，按 visibility 选择接收者：

  - LOCAL：不转发。
  - CLUSTER：同一集群内的其他节点。
  - PUBLIC：所有已发现的其他节点。

来自其他节点的信封（Origin 非本地）不会再次转发。每个对等节点独立发送并有
单独超时，失败只记录日志，不影响本地流水线。

# 入站

Handler 在 /mesh/v1/ws 上接受 WebSocket 连接，使用 HS256 JWT 认证对等节点
（sub 为节点 ID，cluster 声明为所属集群），并按节点限流。每条消息交给
Ingress：解码、清除保留字段、盖上来源节点身份后从链头（trust）开始完整处理。
被 trust 丢弃的信封在本地产生一条 mesh.event.rejected，不回传给对方。
*/
package mesh
