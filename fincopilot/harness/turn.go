package harness

import (
	"encoding/json"
	"strings"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// TurnRequest is one user message plus the conversation so far.
// Approved carries actions the user confirmed in response to a ConfirmationRequest.
type TurnRequest struct {
	UserID   string
	Message  string
	History  []ports.PromptMessage
	Approved []PendingAction
}

// PendingAction is an accepted call of a turn halted for confirmation.
// RequiresConfirmation marks the gated writes the user is asked about.
type PendingAction struct {
	ToolCallID           string          `json:"tool_call_id"`
	ToolName             string          `json:"tool_name"`
	Arguments            json.RawMessage `json:"arguments"`
	Description          string          `json:"description"`
	Fingerprint          string          `json:"fingerprint"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}

// ConfirmationRequest halts a turn until the caller resubmits the actions as approved.
// Actions lists every accepted call of the turn; Message names only the gated ones.
type ConfirmationRequest struct {
	Actions []PendingAction `json:"actions"`
	Message string          `json:"message"`
}

// TurnResult is the outcome of a turn. Reply is always set.
type TurnResult struct {
	Reply        string               `json:"reply"`
	ToolsUsed    []string             `json:"tools_used"`
	Metrics      ExecutionMetrics     `json:"metrics"`
	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`
	Logs         []ToolCallLog        `json:"logs,omitempty"`
	Dropped      []DroppedCall        `json:"-"`
}

// EventType names a streaming lifecycle event.
type EventType string

const (
	EventThinking     EventType = "thinking"
	EventTools        EventType = "tools"
	EventExecuting    EventType = "executing"
	EventChunk        EventType = "chunk"
	EventConfirmation EventType = "confirmation"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Event is one streaming notification. Done and Error are terminal and carry Result.
type Event struct {
	Type         EventType
	Text         string
	Tools        []string
	Confirmation *ConfirmationRequest
	Result       *TurnResult
	Err          error
}

const (
	apologyReply     = "Sorry, I encountered an error processing your message."
	rateLimitedReply = "You're sending messages too quickly. Please wait a moment and try again."
)

// Fingerprint identifies a call by tool name and canonical arguments, so an approval
// matches the same call regardless of key order or whitespace.
func Fingerprint(toolName string, args json.RawMessage) string {
	canonical := strings.TrimSpace(string(args))
	var v any
	if err := json.Unmarshal(args, &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = string(b)
		}
	}
	if canonical == "" {
		canonical = "{}"
	}
	return toolName + ":" + canonical
}

func confirmationMessage(actions []PendingAction) string {
	var sb strings.Builder
	sb.WriteString("I need your confirmation before continuing:")
	for _, a := range actions {
		sb.WriteString("\n- ")
		sb.WriteString(a.Description)
	}
	return sb.String()
}

func toolNames(calls []ports.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
