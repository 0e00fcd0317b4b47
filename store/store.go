package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/prompt"
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
	"github.com/BaSui01/modelgate/workflow/dsl"
)

// Store gorm 实现的配置存储。它同时满足工作流执行器需要的
// ChainLookup、APIRegistry、CredentialProvider 和 prompt.Source。
type Store struct {
	db     *gorm.DB
	parser *dsl.Parser
	logger *zap.Logger
}

var (
	_ workflow.ChainLookup        = (*Store)(nil)
	_ workflow.APIRegistry        = (*Store)(nil)
	_ workflow.CredentialProvider = (*Store)(nil)
	_ prompt.Source               = (*Store)(nil)
)

// New 创建 Store
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		parser: dsl.NewParser(logger),
		logger: logger.With(zap.String("component", "store")),
	}
}

// Migrate 自动迁移所有表
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// DB 返回底层 gorm 连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(kind, ref string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Errorf(types.ErrCodeNotFound, "%s %q not found", kind, ref)
	}
	return fmt.Errorf("load %s %q: %w", kind, ref, err)
}

// =============================================================================
// Chains
// =============================================================================

// Chain 实现 workflow.ChainLookup
func (s *Store) Chain(ctx context.Context, modelRef string) ([]chain.Step, error) {
	var rec ChainRecord
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("ref = ? AND enabled = ?", modelRef, true).
		First(&rec).Error
	if err != nil {
		return nil, notFound("chain", modelRef, err)
	}

	steps := make([]chain.Step, 0, len(rec.Steps))
	for _, sr := range rec.Steps {
		steps = append(steps, chain.Step{
			Model:          sr.Model,
			MaxRetries:     sr.MaxRetries,
			MaxLatency:     time.Duration(sr.MaxLatencyNs),
			BackoffBase:    time.Duration(sr.BackoffBaseNs),
			AbortOnTimeout: sr.AbortOnTimeout,
		})
	}
	if err := chain.ValidateSteps(steps); err != nil {
		return nil, types.NewConfigurationError("stored chain %q is invalid", modelRef).WithCause(err)
	}
	return steps, nil
}

// SaveChain 创建或替换命名链（步骤整体替换）
func (s *Store) SaveChain(ctx context.Context, c chain.Chain) error {
	if c.ID == "" {
		return types.NewConfigurationError("chain id is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := ChainRecord{Ref: c.ID}
		if err := tx.Where("ref = ?", c.ID).FirstOrCreate(&rec).Error; err != nil {
			return err
		}
		rec.Name = c.Name
		rec.Enabled = true
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("chain_id = ?", rec.ID).Delete(&ChainStepRecord{}).Error; err != nil {
			return err
		}

		steps := make([]ChainStepRecord, 0, len(c.Steps))
		for i, st := range c.Steps {
			steps = append(steps, ChainStepRecord{
				ChainID:        rec.ID,
				Position:       i,
				Model:          st.Model,
				MaxRetries:     st.MaxRetries,
				MaxLatencyNs:   int64(st.MaxLatency),
				BackoffBaseNs:  int64(st.BackoffBase),
				AbortOnTimeout: st.AbortOnTimeout,
			})
		}
		return tx.Create(&steps).Error
	})
}

// DisableChain 停用链，之后的查找返回 NOT_FOUND
func (s *Store) DisableChain(ctx context.Context, ref string) error {
	res := s.db.WithContext(ctx).Model(&ChainRecord{}).Where("ref = ?", ref).Update("enabled", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrCodeNotFound, "chain %q not found", ref)
	}
	return nil
}

// =============================================================================
// External APIs & credentials
// =============================================================================

// Lookup 实现 workflow.APIRegistry
func (s *Store) Lookup(ctx context.Context, apiRef string) (*workflow.ExternalAPI, error) {
	var rec ExternalAPIRecord
	if err := s.db.WithContext(ctx).Where("ref = ?", apiRef).First(&rec).Error; err != nil {
		return nil, notFound("external api", apiRef, err)
	}
	headers, err := decodeStringMap(rec.DefaultHeaders)
	if err != nil {
		return nil, types.NewConfigurationError("external api %q has malformed default headers", apiRef).WithCause(err)
	}
	return &workflow.ExternalAPI{ID: rec.Ref, BaseURL: rec.BaseURL, DefaultHeaders: headers}, nil
}

// SaveAPI 创建或更新外部 API
func (s *Store) SaveAPI(ctx context.Context, api workflow.ExternalAPI) error {
	if api.ID == "" || api.BaseURL == "" {
		return types.NewConfigurationError("external api requires id and base_url")
	}
	headers, err := encodeJSON(api.DefaultHeaders)
	if err != nil {
		return err
	}
	rec := ExternalAPIRecord{Ref: api.ID, BaseURL: api.BaseURL, DefaultHeaders: headers}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_url", "default_headers", "updated_at"}),
	}).Create(&rec).Error
}

// Headers 实现 workflow.CredentialProvider
func (s *Store) Headers(ctx context.Context, credentialRef string) (map[string]string, error) {
	var rec CredentialRecord
	if err := s.db.WithContext(ctx).Where("ref = ?", credentialRef).First(&rec).Error; err != nil {
		return nil, notFound("credential", credentialRef, err)
	}
	headers, err := decodeStringMap(rec.Headers)
	if err != nil {
		return nil, types.NewConfigurationError("credential %q is malformed", credentialRef).WithCause(err)
	}
	return headers, nil
}

// SaveCredential 创建或更新凭证
func (s *Store) SaveCredential(ctx context.Context, ref string, headers map[string]string) error {
	if ref == "" {
		return types.NewConfigurationError("credential ref is required")
	}
	data, err := encodeJSON(headers)
	if err != nil {
		return err
	}
	rec := CredentialRecord{Ref: ref, Headers: data}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"headers", "updated_at"}),
	}).Create(&rec).Error
}

// =============================================================================
// Prompts
// =============================================================================

// Prompt 实现 prompt.Source
func (s *Store) Prompt(ctx context.Context, id string) (*prompt.Prompt, error) {
	var rec PromptRecord
	if err := s.db.WithContext(ctx).Where("ref = ?", id).First(&rec).Error; err != nil {
		return nil, notFound("prompt", id, err)
	}
	p := &prompt.Prompt{ID: rec.Ref, Name: rec.Name, Template: rec.Template}
	if rec.Defaults != "" {
		if err := json.Unmarshal([]byte(rec.Defaults), &p.Defaults); err != nil {
			return nil, types.NewConfigurationError("prompt %q has malformed defaults", id).WithCause(err)
		}
	}
	return p, nil
}

// SavePrompt 创建或更新提示词
func (s *Store) SavePrompt(ctx context.Context, p *prompt.Prompt) error {
	if p == nil || p.ID == "" {
		return types.NewConfigurationError("prompt id is required")
	}
	defaults, err := encodeJSON(p.Defaults)
	if err != nil {
		return err
	}
	rec := PromptRecord{Ref: p.ID, Name: p.Name, Template: p.Template, Defaults: defaults}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "template", "defaults", "updated_at"}),
	}).Create(&rec).Error
}

// =============================================================================
// Workflows
// =============================================================================

// Workflow 加载并解析工作流定义。Enabled 以记录列为准。
func (s *Store) Workflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var rec WorkflowRecord
	if err := s.db.WithContext(ctx).Where("ref = ?", id).First(&rec).Error; err != nil {
		return nil, notFound("workflow", id, err)
	}
	wf, err := s.parser.Parse([]byte(rec.Definition))
	if err != nil {
		return nil, fmt.Errorf("stored workflow %q: %w", id, err)
	}
	if wf.ID != rec.Ref {
		s.logger.Warn("stored workflow id mismatch",
			zap.String("ref", rec.Ref),
			zap.String("definition_id", wf.ID))
		wf.ID = rec.Ref
	}
	wf.Enabled = rec.Enabled
	return wf, nil
}

// SaveWorkflow 校验并以 YAML DSL 形式保存工作流，版本号递增
func (s *Store) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if wf == nil {
		return types.NewConfigurationError("workflow is nil")
	}
	if err := wf.Validate(); err != nil {
		return err
	}
	def, err := dsl.MarshalYAML(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %q: %w", wf.ID, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec WorkflowRecord
		err := tx.Where("ref = ?", wf.ID).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = WorkflowRecord{Ref: wf.ID, Version: 1}
		case err != nil:
			return err
		default:
			rec.Version++
		}
		rec.Name = wf.Name
		rec.Definition = string(def)
		rec.Enabled = wf.Enabled
		return tx.Save(&rec).Error
	})
}

// SetWorkflowEnabled 启用或停用工作流
func (s *Store) SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&WorkflowRecord{}).Where("ref = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrCodeNotFound, "workflow %q not found", id)
	}
	return nil
}

// WorkflowSummary 工作流列表项
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListWorkflows 按 id 排序列出工作流
func (s *Store) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	var recs []WorkflowRecord
	if err := s.db.WithContext(ctx).
		Select("ref", "name", "enabled", "version", "updated_at").
		Order("ref ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]WorkflowSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, WorkflowSummary{ID: r.Ref, Name: r.Name, Enabled: r.Enabled, Version: r.Version, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// =============================================================================
// Breaker overrides
// =============================================================================

// BreakerOverrides 返回按模型覆盖的熔断配置。零值字段由注册表回落到默认值。
func (s *Store) BreakerOverrides(ctx context.Context) (map[string]circuitbreaker.Config, error) {
	var recs []BreakerOverrideRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]circuitbreaker.Config, len(recs))
	for _, r := range recs {
		out[r.Model] = circuitbreaker.Config{
			FailureThreshold: r.FailureThreshold,
			OpenDuration:     time.Duration(r.OpenDurationNs),
		}
	}
	return out, nil
}

// SaveBreakerOverride 创建或更新单个模型的熔断覆盖
func (s *Store) SaveBreakerOverride(ctx context.Context, model string, cfg circuitbreaker.Config) error {
	if model == "" {
		return types.NewConfigurationError("breaker override requires a model")
	}
	rec := BreakerOverrideRecord{
		Model:            model,
		FailureThreshold: cfg.FailureThreshold,
		OpenDurationNs:   int64(cfg.OpenDuration),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{"failure_threshold", "open_duration_ns", "updated_at"}),
	}).Create(&rec).Error
}

// ApplyBreakerOverrides 把存储中的覆盖写入熔断器注册表
func (s *Store) ApplyBreakerOverrides(ctx context.Context, reg *circuitbreaker.Registry) error {
	overrides, err := s.BreakerOverrides(ctx)
	if err != nil {
		return err
	}
	for model, cfg := range overrides {
		reg.Configure(model, cfg)
	}
	s.logger.Info("breaker overrides applied", zap.Int("count", len(overrides)))
	return nil
}

// =============================================================================
// helpers
// =============================================================================

func encodeJSON[T any](v map[string]T) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

func decodeStringMap(s string) (map[string]string, error) {
	if s == "" {
		return map[string]string{}, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}
