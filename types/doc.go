// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供事件核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 pipeline、cartridges、
mesh、installer、api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - EventEnvelope    : 事件信封（event、source、entity、level、visibility、payload、origin）
  - Level            : 事件层级 INFRASTRUCTURE < OPERATIONAL < WORKFLOW < BUSINESS
  - Visibility       : LOCAL / CLUSTER / PUBLIC，决定是否向网格发布
  - EventSchema      : 目录中的事件声明（幂等字段、生命周期分组、可行动标记）
  - Error / ErrorCode: 结构化错误，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 信封规范化、克隆与 JSON 编解码（UnmarshalEnvelope）
  - 派生键：IdempotencyKey / GroupKey / MeaningfulHash
  - 实体 URI：EntityURI / ParseEntity
  - 错误工具：IsRetryable / GetErrorCode
*/
package types
