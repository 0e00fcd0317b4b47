// =============================================================================
// 📦 modelgate 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Cache:     DefaultCacheConfig(),
		Breaker:   DefaultBreakerConfig(),
		Chain:     DefaultChainConfig(),
		Workflow:  DefaultWorkflowConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "modelgate",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "modelgate",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置（不启用存储）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "modelgate",
		Name:            "modelgate",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "modelgate:",
	}
}

// DefaultCacheConfig 返回默认缓存策略
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 5 * time.Minute}
}

// DefaultBreakerConfig 返回默认熔断参数
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

// DefaultChainConfig 返回默认链参数
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		FallbackToModel: true,
		MaxRetries:      2,
		MaxLatency:      60 * time.Second,
		BackoffBase:     500 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		JitterRatio:     0.25,
	}
}

// DefaultWorkflowConfig 返回默认工作流参数
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxStepExecutions: 1000,
		HTTPTimeout:       30 * time.Second,
		HTTPMaxBodyBytes:  4 << 20,
		HistoryCapacity:   256,
	}
}
