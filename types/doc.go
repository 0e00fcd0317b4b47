// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 modelgate 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、workflow、variables
等上层模块提供统一的错误码与上下文契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Step 标记
  - Document: JSON 风格文档（请求输入、步骤输出、检索结果）

# 错误分类

  - CONFIGURATION: 空链、跳转目标不存在、缺少必填字段；执行前失败
  - TRANSIENT_PROVIDER: 超时、5xx、连接失败；按策略重试并计入熔断
  - PERMANENT_PROVIDER: 4xx 请求格式错误；不重试
  - BREAKER_OPEN: 熔断跳过，未发起调用
  - WORKFLOW_STEP_FAILURE: 包装步骤内错误并附带步骤名

Sentinel 错误（ErrConfiguration 等）按 Code 匹配，可直接用于 errors.Is。
*/
package types
