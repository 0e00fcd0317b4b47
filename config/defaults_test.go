package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, BreakerConfig{}, cfg.Breaker)
	assert.NotEqual(t, ChainConfig{}, cfg.Chain)
	assert.NotEqual(t, WorkflowConfig{}, cfg.Workflow)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.OpenDuration)
}

func TestDefaultChainConfig(t *testing.T) {
	cfg := DefaultChainConfig()
	assert.True(t, cfg.FallbackToModel)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.MaxLatency)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 0.25, cfg.JitterRatio, 1e-9)
}

func TestDefaultWorkflowConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	assert.Equal(t, 1000, cfg.MaxStepExecutions)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, int64(4<<20), cfg.HTTPMaxBodyBytes)
	assert.Equal(t, 256, cfg.HistoryCapacity)
	assert.Empty(t, cfg.DefinitionsDir)
}

func TestDefaultDatabaseConfig_StoreDisabled(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Empty(t, cfg.Driver)
	assert.Empty(t, cfg.DSN())
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 25, cfg.MaxOpenConns)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func TestDefaultTelemetryAndMetrics(t *testing.T) {
	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "modelgate", tel.ServiceName)

	m := DefaultMetricsConfig()
	assert.True(t, m.Enabled)
	assert.Equal(t, "modelgate", m.Namespace)
}
