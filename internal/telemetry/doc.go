// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry SDK。
//
// 启用时通过 OTLP gRPC 导出 trace 与 metric，并注册为全局 provider；
// 关闭时返回 noop Providers，不连接任何外部服务。Providers.Tracer 交给
// 链执行器与工作流执行器使用，MeterProvider 交给 llm/observability。
package telemetry
