// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 按配置打开存储层使用的 GORM 数据库，并管理其连接池。

# 核心类型

  - PoolManager：持有 GORM 实例与底层 sql.DB，提供 Ping、Stats、
    后台健康检查与 Close。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。

# 驱动

Dialector 根据 config.DatabaseConfig.Driver 选择 postgres、mysql 或
sqlite（纯 Go 实现，无需 cgo）。OnStats 回调把每次健康检查的连接统计
交给指标收集器。
*/
package database
