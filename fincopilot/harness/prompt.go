package harness

import (
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// DefaultSystemPrompt instructs the model on the assistant's role and the tool protocol.
const DefaultSystemPrompt = `You are a personal finance assistant that follows the Kakebo method.
Every expense belongs to exactly one category: supervivencia (essentials), opcional (optional),
cultura (culture and education) or extra (unexpected).

Use the tools to read or change the user's data. Never invent amounts, dates or transactions.
Call at most three tools per message. Amounts are in euros; dates use YYYY-MM-DD.
When a tool returns an "error" field, explain the problem plainly and suggest what to do next.
When a write returns warnings, mention them briefly.
Answer in the user's language, concisely.`

// PromptBuilder assembles model-ready inputs from system text, history and tools.
type PromptBuilder struct {
	system string
	now    func() time.Time
}

// NewPromptBuilder uses DefaultSystemPrompt when system is empty.
func NewPromptBuilder(system string) *PromptBuilder {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return &PromptBuilder{system: system, now: time.Now}
}

// Build produces the first-call input: system text, disclaimer context, history, then
// the current user message.
func (b *PromptBuilder) Build(history []ports.PromptMessage, message, disclaimer string, tools []ports.ToolSpec, meta map[string]string) ports.PromptInput {
	messages := make([]ports.PromptMessage, 0, len(history)+1)
	for _, m := range history {
		m.Content = normalize(m.Content)
		messages = append(messages, m)
	}
	if msg := normalize(message); msg != "" {
		messages = append(messages, ports.PromptMessage{Role: ports.RoleUser, Content: msg})
	}

	var snippets []string
	if d := normalize(disclaimer); d != "" {
		snippets = append(snippets, d)
	}

	return ports.PromptInput{
		System:   fmt.Sprintf("%s\n\nToday is %s.", normalize(b.system), b.now().Format(time.DateOnly)),
		Messages: messages,
		Context:  snippets,
		Tools:    tools,
		Meta:     meta,
	}
}

// Synthesis extends a first-call input with the assistant tool-call message and one
// tool message per result. Tool history needs the catalog, so it stays; callers pass
// ToolChoice "none".
func (b *PromptBuilder) Synthesis(first ports.PromptInput, assistantText string, calls []ports.ToolCall, results []ToolResult) ports.PromptInput {
	messages := make([]ports.PromptMessage, 0, len(first.Messages)+1+len(results))
	messages = append(messages, first.Messages...)
	if len(calls) > 0 {
		messages = append(messages, ports.PromptMessage{
			Role:      ports.RoleAssistant,
			Content:   normalize(assistantText),
			ToolCalls: calls,
		})
	}
	for _, r := range results {
		messages = append(messages, ports.PromptMessage{
			Role:       ports.RoleTool,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
		})
	}

	next := first
	next.Messages = messages
	return next
}

// Normalize newlines and trim whitespace to reduce prompt diffs for caching.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
