// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 modelgate 测试的共享工具。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 数据工具: MustJSON
  - 流式辅助: CollectStreamContent / SendChunksToChannel

# 子包

  - testutil/mocks: 可脚本化的 MockProvider（llm.Provider），
    以及知识库、文档评分协作方的 Mock 实现

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider("gpt-4o").WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
	require.NoError(t, err)
*/
package testutil
