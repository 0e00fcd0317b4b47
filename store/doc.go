// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 store 提供基于 gorm 的配置存储，保存执行引擎在运行期查找的全部声明式配置。

# 数据表

  - mg_chains / mg_chain_steps：model 引用到有序候选模型的命名链
  - mg_external_apis：http_request 步骤的外部 API（base_url 与默认头）
  - mg_credentials：凭证引用对应的认证头
  - mg_prompts：提示词模板与默认变量
  - mg_workflows：以 YAML DSL 文本保存的工作流定义，带版本号与启用状态
  - mg_breaker_overrides：按模型覆盖的熔断参数

# 核心类型

  - Store：直接读写数据库，实现 workflow.ChainLookup、workflow.APIRegistry、
    workflow.CredentialProvider 与 prompt.Source。
  - Cached：在 Store 前加 Redis 读穿缓存（internal/cache），写操作失效对应键，
    凭证不缓存。

支持 PostgreSQL、MySQL 与 SQLite（测试使用内存 SQLite）。
*/
package store
