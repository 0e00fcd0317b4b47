// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供顺序工作流的定义、校验与执行。

# 概述

工作流由有序步骤组成，执行器以程序计数器驱动：每步成功后将输出写入按插入
顺序记录的账本，条件步骤可以继续、跳转（GoTo）或提前结束（End）。步骤的
模板字段通过 variables 包解析 ${request:...}、${step:...} 引用。

# 核心类型

  - Workflow / Step / StepSpec: 定义与封闭的步骤变体
  - ChatCompletion: 经模型链（llm/chain）发起对话
  - KnowledgeBaseSearch: 知识库检索
  - CragScoring: 文档相关性评分与阈值过滤
  - Conditional: eq ne gt gte lt lte is_empty is_not_empty contains
  - HTTPRequest: 调用已注册的外部 API
  - Executor: 执行器，仅执行前错误以 error 返回
  - Result / StepRecord: 终态、账本与逐次执行的审计记录
  - ExecutionHistoryStore: 最近执行结果的内存存储

# 错误处理

步骤失败按 on_error 处理：fail_workflow（默认）终止执行，skip_step 写入空输出
后继续。取消总是终止执行。GoTo 回环受 MaxStepExecutions 约束。

# 流式事件

通过 WithEmitter 在 ctx 中注入 Emitter，可接收 step_start、step_complete、
step_error 以及对话步骤的 token 事件。
*/
package workflow
