// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 把执行结果导出为 Prometheus 指标。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 向量，按业务域分组。

# 主要能力

  - 链指标：按结果统计执行次数与耗时，按 model/outcome 统计尝试次数，
    单次尝试延迟直方图与降级次数。
  - 熔断器指标：Collector 实现 circuitbreaker.EventHandler，
    记录每个模型的当前状态与状态转换次数。
  - 工作流指标：按 workflow/status 统计执行次数与耗时，
    按 kind/status 统计步骤执行次数。
  - 缓存与数据库：读穿缓存命中统计、连接池连接数。

NewCollector 接受 prometheus.Registerer，测试中使用独立的 Registry。
*/
package metrics
