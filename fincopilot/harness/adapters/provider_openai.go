package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// OpenAIConfig configures the chat-completions backed provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional: proxies and compatible gateways
	Model      string
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAIProvider implements ports.Provider on the chat completions API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

const defaultOpenAIModel = "gpt-4o-mini"

// NewOpenAIProvider builds a provider; an API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
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
		model = defaultOpenAIModel
	}

	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

// Complete issues a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(in, opts))
	if err != nil {
		return ports.Completion{}, err
	}

	out := ports.Completion{
		Raw: completion,
		Usage: &ports.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return out, nil
	}

	msg := completion.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream issues a streaming chat completion. Tool-call fragments are forwarded as
// index-keyed deltas; reassembly is the caller's job.
func (p *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	params := p.buildParams(in, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if stream == nil {
		return nil, errors.New("openai: stream not available")
	}

	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var usage *ports.Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &ports.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}

			for _, choice := range chunk.Choices {
				delta := choice.Delta
				piece := ports.CompletionChunk{DeltaText: delta.Content}
				for _, tc := range delta.ToolCalls {
					piece.ToolCallDeltas = append(piece.ToolCallDeltas, ports.ToolCallDelta{
						Index:     int(tc.Index),
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					})
				}
				if piece.DeltaText == "" && len(piece.ToolCallDeltas) == 0 {
					continue
				}
				if !send(ctx, out, piece) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, out, ports.CompletionChunk{Err: err, Done: true})
			return
		}
		send(ctx, out, ports.CompletionChunk{Done: true, Usage: usage})
	}()

	return out, nil
}

func (p *OpenAIProvider) buildParams(in ports.PromptInput, opts ports.Options) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: toOpenAIMessages(in),
	}
	if opts.MaxNewTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxNewTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}
	for _, spec := range in.Tools {
		params.Tools = append(params.Tools, toOpenAITool(spec))
	}
	if len(params.Tools) > 0 && opts.ToolChoice == "none" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	}
	return params
}

func toOpenAIMessages(in ports.PromptInput) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	if s := strings.TrimSpace(in.System); s != "" {
		result = append(result, openai.SystemMessage(s))
	}
	for _, c := range in.Context {
		if s := strings.TrimSpace(c); s != "" {
			result = append(result, openai.SystemMessage(s))
		}
	}

	for _, msg := range in.Messages {
		switch msg.Role {
		case ports.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case ports.RoleAssistant:
			result = append(result, openAIAssistantMessage(msg))
		case ports.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func openAIAssistantMessage(msg ports.PromptMessage) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	for _, call := range msg.ToolCalls {
		args := string(call.Args)
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func toOpenAITool(spec ports.ToolSpec) openai.ChatCompletionToolParam {
	params := shared.FunctionParameters{}
	if len(spec.JSONSchema) > 0 {
		_ = json.Unmarshal(spec.JSONSchema, &params)
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}

	tool := openai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: params,
		},
	}
	if desc := strings.TrimSpace(spec.Description); desc != "" {
		tool.Function.Description = openai.Opt(desc)
	}
	return tool
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, out chan<- ports.CompletionChunk, c ports.CompletionChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ ports.Provider = (*OpenAIProvider)(nil)
