// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 modelgate 的配置加载。
//
// 配置按 默认值 → YAML 文件 → MODELGATE_ 前缀环境变量 的顺序叠加，
// 覆盖日志、遥测、指标、存储数据库、Redis 缓存、熔断器、链执行器与
// 工作流执行器参数。Load 结束前调用 Validate 收集全部错误。
package config
