// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package modelgate 是请求编排引擎的顶层入口。

Gateway 按 config.Config 组装各组件：

  - internal/logging 构建 zap logger，internal/telemetry 初始化 OTel
  - llm/circuitbreaker 注册表，默认参数来自 breaker 配置，
    存储中的按模型覆盖在启动时写入
  - llm/chain 执行器，执行结果同时导出到 Prometheus 与 OTel 指标
  - workflow 执行器，协作方来自存储（可选 Redis 缓存）或静态注册
  - workflow/catalog 从目录加载工作流定义

# 使用示例

	providers := llm.NewProviderRegistry()
	providers.Register("gpt-4o", openai)
	providers.Register("claude-3-5-sonnet", anthropic)

	gw, err := modelgate.New(ctx, cfg, providers,
		modelgate.WithChain("smart",
			chain.Step{Model: "gpt-4o", MaxRetries: 2, MaxLatency: 30 * time.Second},
			chain.Step{Model: "claude-3-5-sonnet", MaxLatency: 30 * time.Second},
		),
	)
	if err != nil {
		return err
	}
	defer gw.Close(ctx)

	res, err := gw.Chat(ctx, "smart", req)
	out, err := gw.RunWorkflow(ctx, "support-triage", types.Document{"question": q})
*/
package modelgate
