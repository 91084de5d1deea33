package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

var budgetSpec = ports.ToolSpec{
	Name:        "getBudgetStatus",
	Description: "Budget status for a month",
	JSONSchema:  []byte(`{"type":"object","properties":{"month":{"type":"string"}}}`),
}

func TestOpenAIProviderComplete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"getBudgetStatus","arguments":"{\"month\":\"2026-03\"}"}}]}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), ports.PromptInput{
		System:   "You are a finance assistant.",
		Context:  []string{"disclaimer"},
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "¿Cómo va mi presupuesto?"}},
		Tools:    []ports.ToolSpec{budgetSpec},
	}, ports.Options{MaxNewTokens: 256})
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "getBudgetStatus", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"month":"2026-03"}`, string(out.ToolCalls[0].Args))
	assert.Equal(t, 15, out.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "system", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[2].(map[string]any)["role"])
	assert.Len(t, captured["tools"], 1)
}

func TestOpenAIProviderStreamForwardsIndexedDeltas(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"getBudgetStatus","arguments":"{\"mon"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"2026-03\"}"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hola"}},
		Tools:    []ports.ToolSpec{budgetSpec},
	}, ports.Options{})
	require.NoError(t, err)

	var (
		args  strings.Builder
		last  ports.CompletionChunk
		names []string
	)
	for c := range ch {
		require.NoError(t, c.Err)
		for _, d := range c.ToolCallDeltas {
			assert.Equal(t, 0, d.Index)
			if d.Name != "" {
				names = append(names, d.Name)
			}
			args.WriteString(d.Arguments)
		}
		last = c
	}

	assert.True(t, last.Done)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 10, last.Usage.TotalTokens)
	assert.Equal(t, []string{"getBudgetStatus"}, names)
	assert.JSONEq(t, `{"month":"2026-03"}`, args.String())
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.Error(t, err)
}

func TestAnthropicProviderComplete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5",
			"content":[{"type":"text","text":"Voy a mirar."},{"type":"tool_use","id":"tu_1","name":"getBudgetStatus","input":{"month":"2026-03"}}],
			"stop_reason":"tool_use","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), ports.PromptInput{
		System:   "sys",
		Context:  []string{"disclaimer"},
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hola"}},
		Tools:    []ports.ToolSpec{budgetSpec},
	}, ports.Options{})
	require.NoError(t, err)

	assert.Equal(t, "Voy a mirar.", out.Text)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "tu_1", out.ToolCalls[0].ID)
	assert.JSONEq(t, `{"month":"2026-03"}`, string(out.ToolCalls[0].Args))
	assert.Equal(t, 16, out.Usage.TotalTokens)

	assert.Len(t, captured["system"], 2)
	assert.Len(t, captured["tools"], 1)
}

func TestToAnthropicMessagesFoldsToolResults(t *testing.T) {
	msgs := toAnthropicMessages([]ports.PromptMessage{
		{Role: ports.RoleUser, Content: "resumen"},
		{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{
			{ID: "a", Name: "getSpendingSummary", Args: json.RawMessage(`{}`)},
			{ID: "b", Name: "getBudgetStatus"},
		}},
		{Role: ports.RoleTool, ToolCallID: "a", Content: `{"total":10}`},
		{Role: ports.RoleTool, ToolCallID: "b", Content: `{"error":"boom","tool":"getBudgetStatus"}`},
	})

	require.Len(t, msgs, 3)
	assert.Len(t, msgs[1].Content, 2)
	assert.Len(t, msgs[2].Content, 2, "both tool results travel in one user turn")
}

func TestIsErrorPayload(t *testing.T) {
	assert.True(t, isErrorPayload(`{"error":"x","tool":"y"}`))
	assert.False(t, isErrorPayload(`{"total":1}`))
	assert.False(t, isErrorPayload(`not json`))
}

var synthesisInput = ports.PromptInput{
	Messages: []ports.PromptMessage{
		{Role: ports.RoleUser, Content: "¿Cómo va mi presupuesto?"},
		{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "tu_1", Name: "getBudgetStatus", Args: json.RawMessage(`{}`)}}},
		{Role: ports.RoleTool, ToolCallID: "tu_1", Content: `{"configured":false}`},
	},
	Tools: []ports.ToolSpec{budgetSpec},
}

func TestAnthropicProviderSynthesisKeepsToolDefinitions(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-haiku-4-5",
			"content":[{"type":"text","text":"No tienes presupuestos."}],
			"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":30,"output_tokens":6}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), synthesisInput, ports.Options{ToolChoice: "none"})
	require.NoError(t, err)
	assert.Equal(t, "No tienes presupuestos.", out.Text)
	assert.Empty(t, out.ToolCalls)

	assert.Len(t, captured["tools"], 1, "tool_use history requires the definitions")
	require.NotNil(t, captured["tool_choice"])
	assert.Equal(t, "none", captured["tool_choice"].(map[string]any)["type"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestAnthropicProviderAutoLeavesToolChoiceUnset(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test"})
	require.NoError(t, err)

	params, err := p.buildParams(synthesisInput, ports.Options{ToolChoice: "auto"})
	require.NoError(t, err)
	assert.Len(t, params.Tools, 1)
	assert.Nil(t, params.ToolChoice.OfNone)
}

func TestOpenAIProviderSynthesisKeepsToolDefinitions(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c2","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"No tienes presupuestos."}}],
			"usage":{"prompt_tokens":30,"completion_tokens":6,"total_tokens":36}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), synthesisInput, ports.Options{ToolChoice: "none"})
	require.NoError(t, err)
	assert.Len(t, captured["tools"], 1)
	assert.Equal(t, "none", captured["tool_choice"])
}

func TestAnthropicProviderStreamReportsUsageAndToolCalls(t *testing.T) {
	events := []struct{ name, data string }{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Miro tu presupuesto."}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"getBudgetStatus","input":{}}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"month\":"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"2026-03\"}"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":10}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, e.data)
		}
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hola"}},
		Tools:    []ports.ToolSpec{budgetSpec},
	}, ports.Options{ToolChoice: "auto"})
	require.NoError(t, err)

	var (
		text   strings.Builder
		deltas []ports.ToolCallDelta
		last   ports.CompletionChunk
	)
	for c := range ch {
		require.NoError(t, c.Err)
		text.WriteString(c.DeltaText)
		deltas = append(deltas, c.ToolCallDeltas...)
		last = c
	}

	assert.Equal(t, "Miro tu presupuesto.", text.String())
	require.Len(t, deltas, 1)
	assert.Equal(t, "tu_1", deltas[0].ID)
	assert.Equal(t, "getBudgetStatus", deltas[0].Name)
	assert.JSONEq(t, `{"month":"2026-03"}`, deltas[0].Arguments)

	assert.True(t, last.Done)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 25, last.Usage.PromptTokens)
	assert.Equal(t, 10, last.Usage.CompletionTokens)
	assert.Equal(t, 35, last.Usage.TotalTokens)
}
