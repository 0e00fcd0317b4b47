// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的读穿缓存管理，供 store 包缓存链、
外部 API、提示词与工作流定义的查找结果。

# 核心类型

  - Manager：持有 go-redis 客户端，所有键带 KeyPrefix 命名空间，
    提供 Get/Set/Delete 与 GetJSON/SetJSON，并记录命中统计。
  - Config：地址、密码、键前缀、默认 TTL 与健康检查间隔。
  - Stats：进程内命中/未命中计数与命中率。

# 错误语义

未命中返回 ErrCacheMiss（IsCacheMiss 判断），关闭后的调用返回 ErrClosed。
其它 Redis 错误原样包装返回，调用方通常降级为直接读取存储。
*/
package cache
