package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// AnthropicConfig configures the Messages API backed provider.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	HTTPClient *http.Client
}

// AnthropicProvider implements ports.Provider on the Messages API.
type AnthropicProvider struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
}

const (
	defaultAnthropicModel     = "claude-haiku-4-5"
	defaultAnthropicMaxTokens = 1024
)

// NewAnthropicProvider builds a provider; an API key is required.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicProvider{
		client:    anthropicsdk.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (p *AnthropicProvider) Model() string { return p.model }

// Complete issues a blocking Messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	params, err := p.buildParams(in, opts)
	if err != nil {
		return ports.Completion{}, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ports.Completion{}, err
	}

	text, calls := splitAnthropicContent(*msg)
	return ports.Completion{
		Text:      text,
		ToolCalls: calls,
		Raw:       msg,
		Usage:     anthropicUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
	}, nil
}

// Stream forwards text deltas as they arrive. Tool-use blocks are accumulated by the SDK
// and emitted as whole-call deltas, one per block index, just before the final chunk.
func (p *AnthropicProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	params, err := p.buildParams(in, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if stream == nil {
		return nil, errors.New("anthropic: stream not available")
	}

	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		// Accumulate takes input tokens from message_start and output tokens from message_delta.
		var final anthropicsdk.Message
		for stream.Next() {
			event := stream.Current()
			if err := final.Accumulate(event); err != nil {
				send(ctx, out, ports.CompletionChunk{Err: fmt.Errorf("accumulate stream: %w", err), Done: true})
				return
			}

			if ev, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent); ok {
				if text := ev.Delta.AsTextDelta().Text; text != "" {
					if !send(ctx, out, ports.CompletionChunk{DeltaText: text}) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, out, ports.CompletionChunk{Err: err, Done: true})
			return
		}

		_, calls := splitAnthropicContent(final)
		if len(calls) > 0 {
			deltas := make([]ports.ToolCallDelta, len(calls))
			for i, c := range calls {
				deltas[i] = ports.ToolCallDelta{Index: i, ID: c.ID, Name: c.Name, Arguments: string(c.Args)}
			}
			if !send(ctx, out, ports.CompletionChunk{ToolCallDeltas: deltas}) {
				return
			}
		}

		send(ctx, out, ports.CompletionChunk{Done: true, Usage: anthropicUsage(final.Usage.InputTokens, final.Usage.OutputTokens)})
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(in ports.PromptInput, opts ports.Options) (anthropicsdk.MessageNewParams, error) {
	maxTokens := opts.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(in.Messages),
	}

	var system []anthropicsdk.TextBlockParam
	if s := strings.TrimSpace(in.System); s != "" {
		system = append(system, anthropicsdk.TextBlockParam{Text: s})
	}
	for _, c := range in.Context {
		if s := strings.TrimSpace(c); s != "" {
			system = append(system, anthropicsdk.TextBlockParam{Text: s})
		}
	}
	if len(system) > 0 {
		params.System = system
	}

	if opts.Temperature > 0 {
		params.Temperature = param.NewOpt(float64(opts.Temperature))
	}

	for _, spec := range in.Tools {
		schema, err := anthropicSchema(spec.JSONSchema)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, fmt.Errorf("tool %s schema: %w", spec.Name, err)
		}
		tool := anthropicsdk.ToolParam{Name: spec.Name, InputSchema: schema}
		if desc := strings.TrimSpace(spec.Description); desc != "" {
			tool.Description = anthropicsdk.String(desc)
		}
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	// Tool history needs the definitions; "none" keeps the catalog but forbids calls.
	if len(params.Tools) > 0 && opts.ToolChoice == "none" {
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfNone: &anthropicsdk.ToolChoiceNoneParam{}}
	}
	return params, nil
}

// toAnthropicMessages folds consecutive tool results into one user turn, as the API requires.
func toAnthropicMessages(msgs []ports.PromptMessage) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	var pendingResults []anthropicsdk.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) == 0 {
			return
		}
		out = append(out, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: pendingResults,
		})
		pendingResults = nil
	}

	for _, msg := range msgs {
		if msg.Role == ports.RoleTool {
			pendingResults = append(pendingResults,
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, isErrorPayload(msg.Content)))
			continue
		}
		flush()

		switch msg.Role {
		case ports.RoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Args
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicsdk.NewTextBlock("."))
			}
			out = append(out, anthropicsdk.MessageParam{Role: anthropicsdk.MessageParamRoleAssistant, Content: blocks})
		default:
			content := msg.Content
			if strings.TrimSpace(content) == "" {
				content = "."
			}
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(content)))
		}
	}
	flush()
	return out
}

func anthropicSchema(raw []byte) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(raw, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func splitAnthropicContent(msg anthropicsdk.Message) (string, []ports.ToolCall) {
	var (
		text  strings.Builder
		calls []ports.ToolCall
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			calls = append(calls, ports.ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
		case "text":
			text.WriteString(block.Text)
		}
	}
	return text.String(), calls
}

func anthropicUsage(input, output int64) *ports.Usage {
	return &ports.Usage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}

// isErrorPayload recognises the executor's {"error": ...} result shape.
func isErrorPayload(content string) bool {
	var probe struct {
		Error string `json:"error"`
	}
	return json.Unmarshal([]byte(content), &probe) == nil && probe.Error != ""
}

var _ ports.Provider = (*AnthropicProvider)(nil)
