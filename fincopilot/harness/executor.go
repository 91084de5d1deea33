package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// ToolResult is the content handed back to the model for one call.
type ToolResult struct {
	ToolCallID string
	Content    string
}

// ToolCallLog is the per-call telemetry record for one turn.
type ToolCallLog struct {
	ToolName      string          `json:"tool_name"`
	Arguments     json.RawMessage `json:"arguments"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Mutates       bool            `json:"mutates"`
	Refused       bool            `json:"refused,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time"`
}

// Succeeded reports whether the call produced a result.
func (l ToolCallLog) Succeeded() bool { return l.Error == "" }

// Wrote reports whether the call changed stored data.
func (l ToolCallLog) Wrote() bool { return l.Mutates && l.Succeeded() && !l.Refused }

// Executor runs accepted calls concurrently, isolating each call's failure.
type Executor struct {
	registry    *Registry
	timeout     time.Duration
	concurrency int
	tracer      ports.Tracer
	logger      zerolog.Logger
}

// NewExecutor creates an executor; timeout <= 0 disables the per-call deadline.
func NewExecutor(registry *Registry, timeout time.Duration, concurrency int, tracer ports.Tracer, logger zerolog.Logger) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		registry:    registry,
		timeout:     timeout,
		concurrency: concurrency,
		tracer:      tracer,
		logger:      logger,
	}
}

// Execute dispatches every call and waits for all of them. Results and logs are
// index-aligned with calls regardless of completion order.
func (e *Executor) Execute(ctx context.Context, userID string, calls []ports.ToolCall) ([]ToolResult, []ToolCallLog) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]ToolResult, len(calls))
	logs := make([]ToolCallLog, len(calls))

	p := pool.New().WithMaxGoroutines(min(e.concurrency, len(calls)))
	for i, call := range calls {
		p.Go(func() {
			results[i], logs[i] = e.executeOne(ctx, userID, call)
		})
	}
	p.Wait()

	return results, logs
}

func (e *Executor) executeOne(ctx context.Context, userID string, call ports.ToolCall) (ToolResult, ToolCallLog) {
	start := time.Now()
	log := ToolCallLog{ToolName: call.Name, Arguments: call.Args}

	ctx, finish := e.tracer.StartSpan(ctx, "tool_call", map[string]any{"tool": call.Name, "call_id": call.ID})

	var (
		output any
		err    error
	)
	var catcher panics.Catcher
	catcher.Try(func() {
		tool, args, decodeErr := e.registry.Decode(call.Name, call.Args)
		if decodeErr != nil {
			err = decodeErr
			return
		}
		log.Mutates = tool.Spec().Mutates

		toolCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			toolCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		output, err = tool.Invoke(toolCtx, userID, args)
	})
	if r := catcher.Recovered(); r != nil {
		err = fmt.Errorf("tool %s panicked: %v", call.Name, r.Value)
		e.logger.Error().Str("tool", call.Name).Str("stack", string(r.Stack)).Msg("tool panicked")
	}

	var content []byte
	if err == nil {
		content, err = json.Marshal(output)
		if err != nil {
			err = fmt.Errorf("tool %s output marshaling failed: %w", call.Name, err)
		}
	}

	log.ExecutionTime = time.Since(start)
	finish(err)

	if err != nil {
		e.logger.Warn().Err(err).Str("tool", call.Name).Dur("duration", log.ExecutionTime).Msg("tool call failed")
		log.Error = err.Error()
		return ToolResult{ToolCallID: call.ID, Content: errorContent(call.Name, err)}, log
	}

	if r, ok := output.(ports.Refusal); ok && r.Refused() {
		log.Refused = true
	}
	log.Result = content
	return ToolResult{ToolCallID: call.ID, Content: string(content)}, log
}

// errorContent is the JSON shape the model sees for a failed call.
func errorContent(toolName string, err error) string {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
		Tool  string `json:"tool"`
	}{Error: err.Error(), Tool: toolName})
	return string(b)
}
