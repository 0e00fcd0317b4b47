package store

import (
	"time"
)

// ============================================================
// 模型链
// ============================================================

// ChainRecord 命名模型链（model 引用 → 有序候选模型）
type ChainRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Ref       string    `gorm:"size:100;not null;uniqueIndex:idx_chain_ref" json:"ref"` // 调用方使用的 model 引用
	Name      string    `gorm:"size:200" json:"name"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Steps []ChainStepRecord `gorm:"foreignKey:ChainID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

func (ChainRecord) TableName() string {
	return "mg_chains"
}

// ChainStepRecord 链中的一个候选模型
type ChainStepRecord struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	ChainID        uint   `gorm:"not null;index:idx_chain_position" json:"chain_id"`
	Position       int    `gorm:"not null;index:idx_chain_position" json:"position"` // 链内顺序（从 0 开始）
	Model          string `gorm:"size:100;not null" json:"model"`
	MaxRetries     int    `gorm:"default:0" json:"max_retries"`
	MaxLatencyNs   int64  `gorm:"not null" json:"max_latency_ns"`
	BackoffBaseNs  int64  `gorm:"default:0" json:"backoff_base_ns"`
	AbortOnTimeout bool   `gorm:"default:false" json:"abort_on_timeout"`
}

func (ChainStepRecord) TableName() string {
	return "mg_chain_steps"
}

// ============================================================
// 外部 API 与凭证
// ============================================================

// ExternalAPIRecord http_request 步骤引用的外部 API
type ExternalAPIRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Ref            string    `gorm:"size:100;not null;uniqueIndex:idx_api_ref" json:"ref"`
	BaseURL        string    `gorm:"size:500;not null" json:"base_url"`
	DefaultHeaders string    `gorm:"type:text" json:"default_headers"` // JSON 对象
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ExternalAPIRecord) TableName() string {
	return "mg_external_apis"
}

// CredentialRecord 凭证引用解析出的认证头
type CredentialRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Ref       string    `gorm:"size:100;not null;uniqueIndex:idx_credential_ref" json:"ref"`
	Headers   string    `gorm:"type:text;not null" json:"-"` // JSON 对象，不对外序列化
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CredentialRecord) TableName() string {
	return "mg_credentials"
}

// ============================================================
// 提示词与工作流
// ============================================================

// PromptRecord 提示词模板
type PromptRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Ref       string    `gorm:"size:100;not null;uniqueIndex:idx_prompt_ref" json:"ref"`
	Name      string    `gorm:"size:200" json:"name"`
	Template  string    `gorm:"type:text;not null" json:"template"`
	Defaults  string    `gorm:"type:text" json:"defaults"` // JSON 对象
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PromptRecord) TableName() string {
	return "mg_prompts"
}

// WorkflowRecord 工作流定义，Definition 保存 DSL 文本
type WorkflowRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Ref        string    `gorm:"size:100;not null;uniqueIndex:idx_workflow_ref" json:"ref"`
	Name       string    `gorm:"size:200" json:"name"`
	Definition string    `gorm:"type:text;not null" json:"definition"`
	Enabled    bool      `gorm:"not null;index" json:"enabled"` // 无 default 标签，false 才会被写入
	Version    int       `gorm:"default:1" json:"version"`      // 每次保存递增
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (WorkflowRecord) TableName() string {
	return "mg_workflows"
}

// BreakerOverrideRecord 按模型覆盖的熔断参数
type BreakerOverrideRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Model            string    `gorm:"size:100;not null;uniqueIndex:idx_breaker_model" json:"model"`
	FailureThreshold int       `gorm:"default:0" json:"failure_threshold"`
	OpenDurationNs   int64     `gorm:"default:0" json:"open_duration_ns"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (BreakerOverrideRecord) TableName() string {
	return "mg_breaker_overrides"
}

func allModels() []any {
	return []any{
		&ChainRecord{},
		&ChainStepRecord{},
		&ExternalAPIRecord{},
		&CredentialRecord{},
		&PromptRecord{},
		&WorkflowRecord{},
		&BreakerOverrideRecord{},
	}
}
