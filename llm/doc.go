// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 llm 提供统一的大语言模型请求模型与 Provider 抽象。

# 概述

本包屏蔽不同模型服务商在接口与错误语义上的差异，对链式执行器和
工作流执行器暴露一致的请求与响应模型。具体的 HTTP 客户端属于外部
协作方，通过 [Provider] 与 [ProviderResolver] 接入。

# 核心接口

  - [Provider]：Completion / Stream / Name
  - [ProviderResolver]：模型标识 → Provider
  - [ProviderRegistry]：线程安全的 ProviderResolver 参考实现

# 错误分类

[Classify] 将 Provider 返回的错误映射为 [Class]：

  - ClassTransient：超时、5xx、429、网络错误以及无法识别的错误
  - ClassPermanent：4xx 请求格式、鉴权、内容策略错误
  - ClassCancelled：调用方取消

# 相关子包

- llm/chain：链式执行（重试、降级、熔断门控）。
- llm/retry：指数退避与抖动。
- llm/circuitbreaker：按模型隔离的熔断器注册表。
- llm/observability：链执行结果的 OpenTelemetry 指标。
*/
package llm
