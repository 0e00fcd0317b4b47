package workflow

import (
	"context"
	"time"
)

// =============================================================================
// Execution Streaming
// =============================================================================

// EventType 执行事件类型
type EventType string

const (
	// EventStepStart is emitted before a step begins.
	EventStepStart EventType = "step_start"
	// EventStepComplete is emitted after a step succeeds.
	EventStepComplete EventType = "step_complete"
	// EventStepError is emitted when a step fails, skipped or not.
	EventStepError EventType = "step_error"
	// EventToken carries streamed content from chat steps.
	EventToken EventType = "token"
)

// Event 执行过程中的一个事件
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	Step        string    `json:"step,omitempty"`
	Kind        StepKind  `json:"kind,omitempty"`
	Data        any       `json:"data,omitempty"`
	Error       error     `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
}

// Emitter receives execution events. It is called synchronously from the
// executing goroutine and must not block for long.
type Emitter func(Event)

type emitterKey struct{}

// WithEmitter stores an Emitter in the context.
func WithEmitter(ctx context.Context, emitter Emitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, emitterKey{}, emitter)
}

// emitterFromContext retrieves the Emitter from context.
func emitterFromContext(ctx context.Context) (Emitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(emitterKey{}).(Emitter)
	return emit, ok && emit != nil
}
