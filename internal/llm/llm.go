package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role values used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a message in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a callable capability offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Completion is one chat turn from the model: either a final answer or a set
// of tool calls to execute before asking again.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is the LLM capability consumed by the ingestion pipeline and the
// answering loop. Embed is order-preserving over the input batch.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Complete(ctx context.Context, messages []Message, tools []Tool) (Completion, error)
}

// APIError is a provider failure carrying the HTTP status so callers can
// distinguish rate limiting and transient server errors from hard failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: API returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying (rate limit or 5xx).
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}
