// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package observability 以 OpenTelemetry 指标记录链执行结果：
// 执行次数与耗时、单次尝试、重试、熔断跳过、降级与 token 用量。
// Metrics 默认挂在全局 MeterProvider 上，telemetry.Init 启用后经 OTLP 导出。
package observability
