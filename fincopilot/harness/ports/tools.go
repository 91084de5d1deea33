package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args

	Mutates              bool   // writes user data
	RequiresConfirmation bool   // must be approved by the user before running
	RequiredCompanion    string // tool that usually accompanies this one; advisory
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Arguments is the decoded, typed argument payload of one tool. Each tool defines
// its own variant; the registry only hands a tool the variant it decoded itself.
type Arguments interface {
	ToolName() string
}

// Tool defines the runtime that executes a tool call.
type Tool interface {
	Spec() ToolSpec
	Decode(raw json.RawMessage) (Arguments, error)
	Invoke(ctx context.Context, userID string, args Arguments) (any, error)
}

// Refusal is implemented by results that can report a write the tool declined to perform.
type Refusal interface {
	Refused() bool
}

// Describer is implemented by tools that can phrase a pending call for a human.
type Describer interface {
	Describe(args Arguments) string
}
