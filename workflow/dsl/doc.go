// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package dsl 提供 YAML/JSON 声明式工作流定义语言，
// 在加载期收集全部校验错误，并将定义转换为 workflow.Workflow。
package dsl
