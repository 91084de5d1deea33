package harness

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/usercontext"
)

// StubProvider implements Provider for testing. Calls are answered from the
// scripted queues in order; every input is recorded.
type StubProvider struct {
	mu          sync.Mutex
	completions []func(in ports.PromptInput, opts ports.Options) (ports.Completion, error)
	streams     []func(in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error)
	inputs      []ports.PromptInput
	options     []ports.Options
}

func (p *StubProvider) Model() string { return "gpt-4o-mini" }

func (p *StubProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	p.mu.Lock()
	p.inputs = append(p.inputs, in)
	p.options = append(p.options, opts)
	if len(p.completions) == 0 {
		p.mu.Unlock()
		return ports.Completion{
			Text:  "stub completion",
			Usage: &ports.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
	next := p.completions[0]
	p.completions = p.completions[1:]
	p.mu.Unlock()
	return next(in, opts)
}

func (p *StubProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	p.mu.Lock()
	p.inputs = append(p.inputs, in)
	p.options = append(p.options, opts)
	if len(p.streams) == 0 {
		p.mu.Unlock()
		return chunks(ports.CompletionChunk{DeltaText: "stub"}, ports.CompletionChunk{Done: true}), nil
	}
	next := p.streams[0]
	p.streams = p.streams[1:]
	p.mu.Unlock()
	return next(in, opts)
}

func (p *StubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs)
}

func (p *StubProvider) input(i int) ports.PromptInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputs[i]
}

func (p *StubProvider) onComplete(text string, calls ...ports.ToolCall) *StubProvider {
	p.completions = append(p.completions, func(ports.PromptInput, ports.Options) (ports.Completion, error) {
		return ports.Completion{
			Text:      text,
			ToolCalls: calls,
			Usage:     &ports.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	})
	return p
}

func (p *StubProvider) onCompleteErr(err error) *StubProvider {
	p.completions = append(p.completions, func(ports.PromptInput, ports.Options) (ports.Completion, error) {
		return ports.Completion{}, err
	})
	return p
}

func (p *StubProvider) onStream(cs ...ports.CompletionChunk) *StubProvider {
	p.streams = append(p.streams, func(ports.PromptInput, ports.Options) (<-chan ports.CompletionChunk, error) {
		return chunks(cs...), nil
	})
	return p
}

func chunks(cs ...ports.CompletionChunk) <-chan ports.CompletionChunk {
	ch := make(chan ports.CompletionChunk, len(cs))
	for _, c := range cs {
		ch <- c
	}
	close(ch)
	return ch
}

type stubArgs struct {
	name string
	raw  json.RawMessage
}

func (a stubArgs) ToolName() string { return a.name }

// StubTool implements Tool for testing.
type StubTool struct {
	spec   ports.ToolSpec
	invoke func(ctx context.Context, userID string, raw json.RawMessage) (any, error)

	mu    sync.Mutex
	calls []json.RawMessage
}

func newStubTool(name string) *StubTool {
	return &StubTool{spec: ports.ToolSpec{Name: name, Description: name, JSONSchema: []byte(`{"type":"object"}`)}}
}

func (t *StubTool) Spec() ports.ToolSpec { return t.spec }

func (t *StubTool) Decode(raw json.RawMessage) (ports.Arguments, error) {
	return stubArgs{name: t.spec.Name, raw: raw}, nil
}

func (t *StubTool) Invoke(ctx context.Context, userID string, args ports.Arguments) (any, error) {
	raw := args.(stubArgs).raw
	t.mu.Lock()
	t.calls = append(t.calls, raw)
	t.mu.Unlock()
	if t.invoke != nil {
		return t.invoke(ctx, userID, raw)
	}
	return map[string]any{"tool": t.spec.Name, "ok": true}, nil
}

func (t *StubTool) invocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// stubUsers implements UserContextSource with a fixed context.
type stubUsers struct {
	mu          sync.Mutex
	uc          usercontext.UserContext
	err         error
	invalidated int
}

func (s *stubUsers) Get(ctx context.Context, userID string) (usercontext.UserContext, error) {
	return s.uc, s.err
}

func (s *stubUsers) Invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

func (s *stubUsers) IsToolAppropriate(toolName string, uc usercontext.UserContext) usercontext.Appropriateness {
	return usercontext.IsToolAppropriate(toolName, uc)
}

func (s *stubUsers) invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, errors.New("rate limit exceeded")
}

func newTestRegistry(t *testing.T, tools ...*StubTool) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	for _, tool := range tools {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func newTestOrchestrator(t *testing.T, provider ports.Provider, users UserContextSource, tools ...*StubTool) *Orchestrator {
	t.Helper()
	return NewOrchestrator(provider, newTestRegistry(t, tools...), DefaultPolicy(), nil, users, zerolog.Nop())
}

func call(id, name, args string) ports.ToolCall {
	return ports.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}
