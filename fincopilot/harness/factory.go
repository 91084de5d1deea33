package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/config"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/adapters"
	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	harnessConfig *config.HarnessConfig
	llmConfig     *config.LLMConfig
	logger        zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(harnessConfig *config.HarnessConfig, llmConfig *config.LLMConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		harnessConfig: harnessConfig,
		llmConfig:     llmConfig,
		logger:        logger,
	}
}

// CreateOrchestrator creates a fully wired Orchestrator around the given tools and context source.
func (f *Factory) CreateOrchestrator(provider ports.Provider, registry *Registry, users UserContextSource) *Orchestrator {
	return NewOrchestrator(
		provider,
		registry,
		f.CreatePolicy(),
		NewPromptBuilder(""),
		users,
		f.logger,
		WithRateLimiter(f.createRateLimiter()),
		WithTracer(f.createTracer()),
		WithOptions(ports.Options{
			MaxNewTokens: f.llmConfig.MaxNewTokens,
			Temperature:  f.llmConfig.Temperature,
		}),
	)
}

// CreateProvider builds the configured LLM backend.
func (f *Factory) CreateProvider() (ports.Provider, error) {
	switch strings.ToLower(f.llmConfig.Provider) {
	case "", "openai":
		return adapters.NewOpenAIProvider(adapters.OpenAIConfig{
			APIKey:     f.llmConfig.APIKey,
			BaseURL:    f.llmConfig.BaseURL,
			Model:      f.llmConfig.Model,
			MaxRetries: f.llmConfig.MaxRetries,
		})
	case "anthropic":
		return adapters.NewAnthropicProvider(adapters.AnthropicConfig{
			APIKey:     f.llmConfig.APIKey,
			BaseURL:    f.llmConfig.BaseURL,
			Model:      f.llmConfig.Model,
			MaxTokens:  f.llmConfig.MaxNewTokens,
			MaxRetries: f.llmConfig.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", f.llmConfig.Provider)
	}
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.harnessConfig.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.harnessConfig.RateLimitCapacity, f.harnessConfig.RateLimitRefillRate)
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	if !f.harnessConfig.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := &Policy{
		MaxToolCalls:           f.harnessConfig.MaxToolCalls,
		EnforceAppropriateness: f.harnessConfig.EnforceToolAppropriateness,
		ToolTimeout:            f.harnessConfig.ToolTimeout,
		TurnTimeout:            f.harnessConfig.TurnTimeout,
		ToolConcurrency:        f.harnessConfig.ToolConcurrency,
	}

	for _, pair := range f.harnessConfig.ForbiddenPairs {
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			f.logger.Warn().Strs("pair", pair).Msg("ignoring malformed forbidden pair")
			continue
		}
		policy.ForbiddenPairs = append(policy.ForbiddenPairs, [2]string{pair[0], pair[1]})
	}

	if policy.MaxToolCalls < 1 {
		policy.MaxToolCalls = 1
		f.logger.Warn().Int("max_tool_calls", f.harnessConfig.MaxToolCalls).Msg("MaxToolCalls clamped to minimum of 1")
	}
	if policy.MaxToolCalls > 10 {
		policy.MaxToolCalls = 10
		f.logger.Warn().Int("max_tool_calls", f.harnessConfig.MaxToolCalls).Msg("MaxToolCalls clamped to maximum of 10")
	}

	// Every accepted call of a turn runs at once.
	if policy.ToolConcurrency < policy.MaxToolCalls {
		policy.ToolConcurrency = policy.MaxToolCalls
		f.logger.Warn().
			Int("tool_concurrency", f.harnessConfig.ToolConcurrency).
			Int("max_tool_calls", policy.MaxToolCalls).
			Msg("ToolConcurrency raised to MaxToolCalls")
	}

	if policy.ToolTimeout < 0 {
		policy.ToolTimeout = 0
	}
	if policy.TurnTimeout > 0 && policy.ToolTimeout > policy.TurnTimeout {
		f.logger.Warn().
			Dur("tool_timeout", policy.ToolTimeout).
			Dur("turn_timeout", policy.TurnTimeout).
			Msg("tool timeout exceeds turn timeout; the turn deadline wins")
	}

	return policy
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
