package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/BaSui01/modelgate/types"
)

// inputValidator 校验请求输入是否符合工作流声明的 JSON Schema。
// 编译后的 schema 按其 JSON 文本缓存，可被并发执行共享。
type inputValidator struct {
	mu    sync.RWMutex
	cache map[string]*gojsonschema.Schema
}

func newInputValidator() *inputValidator {
	return &inputValidator{cache: make(map[string]*gojsonschema.Schema)}
}

// Validate returns an INVALID_INPUT error listing every violation, or a
// CONFIGURATION error when the schema itself does not compile.
func (v *inputValidator) Validate(schemaDoc map[string]any, input types.Document) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	schema, err := v.schema(schemaDoc)
	if err != nil {
		return types.NewConfigurationError("invalid input schema").WithCause(err)
	}
	if input == nil {
		input = types.Document{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return types.NewError(types.ErrCodeInvalidInput, "input could not be validated").WithCause(err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		msgs[i] = desc.String()
	}
	return types.Errorf(types.ErrCodeInvalidInput, "input does not match schema: %s", strings.Join(msgs, "; "))
}

func (v *inputValidator) schema(doc map[string]any) (*gojsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.RLock()
	s, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(key))
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.cache[key] = s
	v.mu.Unlock()
	return s, nil
}
