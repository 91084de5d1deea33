package harnessports

import (
	"context"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PromptMessage represents a single chat message used to build prompts.
// Assistant messages may carry ToolCalls; tool messages carry the ToolCallID they answer.
type PromptMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // high-level system instructions
	Messages []PromptMessage   // ordered chat history including the current user message
	Context  []string          // extra system-side context, e.g. the data disclaimer
	Tools    []ToolSpec        // tool declarations; empty disables tool use
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling, limits, and tool preferences.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	// ToolChoice: "auto" | "none"
	ToolChoice string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 *Usage) {
	if u2 == nil {
		return
	}
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Raw       any    // raw provider payload for debugging
	Usage     *Usage // optional usage information
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing an Index belong
// to the same call; Arguments fragments concatenate in arrival order.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// CompletionChunk is the provider's streaming delta. The last chunk has Done set;
// a chunk with Err set is terminal as well.
type CompletionChunk struct {
	DeltaText      string
	ToolCallDeltas []ToolCallDelta
	Done           bool
	Usage          *Usage // on final chunk when available
	Err            error
}

// Provider is the abstraction for all LLM backends.
type Provider interface {
	Model() string
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}
