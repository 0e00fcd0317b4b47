// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package chain 实现链式执行器：将有序的候选模型列表转换为一次具备
重试、延迟上限降级和按模型熔断的调用。

# 执行流程

对每个链步骤按声明顺序：

 1. 向熔断器注册表申请许可；被拒绝时记录一次 breaker_open 尝试（延迟为 0）并前进
 2. HalfOpen 试探只允许一次尝试，与 MaxRetries 无关
 3. 最多 MaxRetries+1 次尝试，第 r 次重试前等待 BackoffBase × 2^(r-1)（±25% 抖动）
 4. 每次尝试以 MaxLatency 为硬截止，超时的调用被放弃并记为 timeout
 5. 成功即返回，后续步骤不会被调用
 6. 瞬时错误耗尽重试后计入熔断失败并降级到下一步骤；永久错误不重试、不计入熔断

没有任何步骤成功时，[Result] 携带 [AggregateError]，汇总每个已尝试步骤的最后一次失败。
除配置错误外，Execute 从不返回 error，调用方总能拿到完整的尝试记录。
*/
package chain
