package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/usercontext"
)

var errEventsAbandoned = errors.New("event consumer went away")

// UserContextSource supplies the per-user history summary that shapes each turn.
type UserContextSource interface {
	Get(ctx context.Context, userID string) (usercontext.UserContext, error)
	Invalidate(userID string)
	IsToolAppropriate(toolName string, uc usercontext.UserContext) usercontext.Appropriateness
}

// Orchestrator runs the two-phase protocol: decide, execute, synthesize.
type Orchestrator struct {
	provider ports.Provider
	registry *Registry
	policy   *Policy
	executor *Executor
	builder  *PromptBuilder
	users    UserContextSource
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	prices   *PriceTable
	options  ports.Options
	logger   zerolog.Logger
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPriceTable overrides DefaultPrices.
func WithPriceTable(t *PriceTable) OrchestratorOption {
	return func(o *Orchestrator) { o.prices = t }
}

// WithOptions sets sampling options for both model calls.
func WithOptions(opts ports.Options) OrchestratorOption {
	return func(o *Orchestrator) { o.options = opts }
}

// WithRateLimiter puts a per-user limiter in front of every turn.
func WithRateLimiter(l ports.RateLimiter) OrchestratorOption {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithTracer replaces the no-op tracer.
func WithTracer(t ports.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator wires the core. users may be nil, in which case no disclaimer is
// injected and no appropriateness gate applies.
func NewOrchestrator(
	provider ports.Provider,
	registry *Registry,
	policy *Policy,
	builder *PromptBuilder,
	users UserContextSource,
	logger zerolog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if builder == nil {
		builder = NewPromptBuilder("")
	}
	o := &Orchestrator{
		provider: provider,
		registry: registry,
		policy:   policy,
		builder:  builder,
		users:    users,
		limiter:  &noOpRateLimiter{},
		tracer:   &noOpTracer{},
		prices:   NewPriceTable(DefaultPrices),
		options:  ports.Options{MaxNewTokens: 1024, Temperature: 0.3},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.executor = NewExecutor(registry, policy.ToolTimeout, max(policy.ToolConcurrency, policy.MaxToolCalls), o.tracer, logger)
	return o
}

// turnState is the per-turn scratch shared by Run and StreamTurn.
type turnState struct {
	req        TurnRequest
	start      time.Time
	usage      ports.Usage
	disclaimer string
	gate       ToolGate
	approved   map[string]bool
}

func (o *Orchestrator) validate(req TurnRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.New("turn request has no user id")
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Approved) == 0 {
		return errors.New("turn request has neither a message nor approved actions")
	}
	return nil
}

// begin applies the rate limit and loads the user context. A nil state means the
// user is rate limited.
func (o *Orchestrator) begin(ctx context.Context, req TurnRequest) (*turnState, func()) {
	release, err := o.limiter.Acquire(ctx, req.UserID)
	if err != nil {
		o.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("turn rejected by rate limiter")
		return nil, func() {}
	}

	st := &turnState{req: req, start: time.Now(), approved: make(map[string]bool, len(req.Approved))}
	for _, a := range req.Approved {
		st.approved[Fingerprint(a.ToolName, a.Arguments)] = true
	}

	if o.users != nil {
		uc, err := o.users.Get(ctx, req.UserID)
		if err != nil {
			o.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("user context unavailable, continuing without it")
		} else {
			st.disclaimer = usercontext.GenerateDisclaimer(uc)
			st.gate = func(name string) (bool, string) {
				a := o.users.IsToolAppropriate(name, uc)
				return a.Appropriate, a.Reason
			}
		}
	}
	return st, release
}

func (o *Orchestrator) firstInput(st *turnState) ports.PromptInput {
	return o.builder.Build(st.req.History, st.req.Message, st.disclaimer, o.registry.Specs(), map[string]string{
		"user_id": st.req.UserID,
	})
}

func (o *Orchestrator) callOptions(withTools bool) ports.Options {
	opts := o.options
	opts.ToolChoice = "none"
	if withTools {
		opts.ToolChoice = "auto"
	}
	return opts
}

// approvedCalls turns the actions of a halted turn back into tool calls.
func approvedCalls(actions []PendingAction) []ports.ToolCall {
	calls := make([]ports.ToolCall, 0, len(actions))
	for _, a := range actions {
		calls = append(calls, ports.ToolCall{ID: a.ToolCallID, Name: a.ToolName, Args: a.Arguments})
	}
	return calls
}

// selectCalls runs the policy filter and the confirmation gate. A non-nil
// ConfirmationRequest means nothing may execute.
func (o *Orchestrator) selectCalls(ctx context.Context, st *turnState, requested []ports.ToolCall) ([]ports.ToolCall, []DroppedCall, *ConfirmationRequest) {
	for i := range requested {
		if requested[i].ID == "" {
			requested[i].ID = "call_" + uuid.NewString()
		}
	}

	res := o.policy.Filter(requested, st.gate)
	for _, d := range res.Dropped {
		o.tracer.Event(ctx, "policy_drop", map[string]any{"tool": d.Call.Name, "reason": d.Reason, "detail": d.Detail})
		o.logger.Info().
			Str("user_id", st.req.UserID).
			Str("tool", d.Call.Name).
			Str("reason", d.Reason).
			Str("detail", d.Detail).
			Msg("tool call dropped by policy")
	}

	// A halted turn carries every accepted call; approval resumes the whole set.
	actions := make([]PendingAction, 0, len(res.Accepted))
	var gated []PendingAction
	for _, c := range res.Accepted {
		spec, _ := o.registry.Spec(c.Name)
		fp := Fingerprint(c.Name, c.Args)
		action := PendingAction{
			ToolCallID:           c.ID,
			ToolName:             c.Name,
			Arguments:            c.Args,
			Description:          o.registry.Describe(c),
			Fingerprint:          fp,
			RequiresConfirmation: spec.RequiresConfirmation,
		}
		actions = append(actions, action)
		if spec.RequiresConfirmation && !st.approved[fp] {
			gated = append(gated, action)
		}
	}
	if len(gated) > 0 {
		o.tracer.Event(ctx, "confirmation_required", map[string]any{"tools": len(gated), "calls": len(actions)})
		return nil, res.Dropped, &ConfirmationRequest{Actions: actions, Message: confirmationMessage(gated)}
	}
	return res.Accepted, res.Dropped, nil
}

// execute runs the accepted calls and invalidates the user's context after a successful write.
func (o *Orchestrator) execute(ctx context.Context, st *turnState, calls []ports.ToolCall) ([]ToolResult, []ToolCallLog) {
	results, logs := o.executor.Execute(ctx, st.req.UserID, calls)
	if o.users != nil {
		for _, l := range logs {
			if l.Wrote() {
				o.users.Invalidate(st.req.UserID)
				break
			}
		}
	}
	return results, logs
}

func (o *Orchestrator) metrics(st *turnState, executed int) ExecutionMetrics {
	model := o.provider.Model()
	total := st.usage.PromptTokens + st.usage.CompletionTokens
	return ExecutionMetrics{
		Model:        model,
		LatencyMs:    time.Since(st.start).Milliseconds(),
		InputTokens:  st.usage.PromptTokens,
		OutputTokens: st.usage.CompletionTokens,
		TotalTokens:  total,
		CostUSD:      o.prices.Cost(model, st.usage.PromptTokens, st.usage.CompletionTokens),
		ToolCalls:    executed,
	}
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.policy.TurnTimeout > 0 {
		return context.WithTimeout(ctx, o.policy.TurnTimeout)
	}
	return context.WithCancel(ctx)
}

// Run executes one turn synchronously. Provider failures become an apology reply;
// the returned error is reserved for malformed requests.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if err := o.validate(req); err != nil {
		return TurnResult{}, err
	}

	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	st, release := o.begin(ctx, req)
	defer release()
	if st == nil {
		return TurnResult{Reply: rateLimitedReply, ToolsUsed: []string{}}, nil
	}

	ctx, finish := o.tracer.StartSpan(ctx, "turn", map[string]any{"user_id": req.UserID})
	result, err := o.run(ctx, st)
	finish(err)
	if err != nil {
		o.logger.Error().Err(err).Str("user_id", req.UserID).Msg("turn failed")
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, st *turnState) (TurnResult, error) {
	input := o.firstInput(st)

	var (
		requested     []ports.ToolCall
		assistantText string
	)
	if len(st.req.Approved) > 0 {
		requested = approvedCalls(st.req.Approved)
	} else {
		completion, err := o.complete(ctx, st, input, true)
		if err != nil {
			return o.apology(st, nil, nil), fmt.Errorf("first model call: %w", err)
		}
		if len(completion.ToolCalls) == 0 {
			return TurnResult{
				Reply:     completion.Text,
				ToolsUsed: []string{},
				Metrics:   o.metrics(st, 0),
			}, nil
		}
		requested = completion.ToolCalls
		assistantText = completion.Text
	}

	accepted, dropped, confirm := o.selectCalls(ctx, st, requested)
	if confirm != nil {
		return TurnResult{
			Reply:        confirm.Message,
			ToolsUsed:    []string{},
			Metrics:      o.metrics(st, 0),
			Confirmation: confirm,
			Dropped:      dropped,
		}, nil
	}

	results, logs := o.execute(ctx, st, accepted)
	used := toolNames(accepted)

	completion, err := o.complete(ctx, st, o.builder.Synthesis(input, assistantText, accepted, results), false)
	if err != nil {
		res := o.apology(st, used, logs)
		res.Dropped = dropped
		return res, fmt.Errorf("synthesis model call: %w", err)
	}

	return TurnResult{
		Reply:     completion.Text,
		ToolsUsed: used,
		Metrics:   o.metrics(st, len(accepted)),
		Logs:      logs,
		Dropped:   dropped,
	}, nil
}

func (o *Orchestrator) apology(st *turnState, used []string, logs []ToolCallLog) TurnResult {
	if used == nil {
		used = []string{}
	}
	return TurnResult{
		Reply:     apologyReply,
		ToolsUsed: used,
		Metrics:   o.metrics(st, len(logs)),
		Logs:      logs,
	}
}

func (o *Orchestrator) complete(ctx context.Context, st *turnState, in ports.PromptInput, withTools bool) (ports.Completion, error) {
	ctx, finish := o.tracer.StartSpan(ctx, "model_call", map[string]any{"tools": withTools})
	completion, err := o.provider.Complete(ctx, in, o.callOptions(withTools))
	finish(err)
	st.usage.Add(completion.Usage)
	if err != nil {
		return ports.Completion{}, err
	}
	if !withTools {
		completion.ToolCalls = nil
	}
	return completion, nil
}

// StreamTurn runs one turn and reports progress as events. The channel closes after
// a done or error event.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		emit := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err := o.validate(req); err != nil {
			emit(Event{Type: EventError, Text: apologyReply, Err: err})
			return
		}

		turnCtx, cancel := o.withDeadline(ctx)
		defer cancel()

		st, release := o.begin(turnCtx, req)
		defer release()
		if st == nil {
			res := &TurnResult{Reply: rateLimitedReply, ToolsUsed: []string{}}
			if emit(Event{Type: EventChunk, Text: res.Reply}) {
				emit(Event{Type: EventDone, Result: res})
			}
			return
		}

		turnCtx, finish := o.tracer.StartSpan(turnCtx, "turn", map[string]any{"user_id": req.UserID, "stream": true})
		err := o.stream(turnCtx, st, emit)
		finish(err)
		if err != nil {
			o.logger.Error().Err(err).Str("user_id", req.UserID).Msg("streamed turn failed")
		}
	}()

	return events
}

func (o *Orchestrator) stream(ctx context.Context, st *turnState, emit func(Event) bool) error {
	if !emit(Event{Type: EventThinking}) {
		return ctx.Err()
	}

	fail := func(res TurnResult, err error) error {
		emit(Event{Type: EventError, Text: res.Reply, Result: &res, Err: err})
		return err
	}

	input := o.firstInput(st)

	var (
		requested     []ports.ToolCall
		assistantText string
	)
	if len(st.req.Approved) > 0 {
		requested = approvedCalls(st.req.Approved)
	} else {
		assembler := newToolCallAssembler()
		text, err := o.streamCall(ctx, st, input, true, assembler, func(delta string) bool {
			if assembler.Started() {
				return true
			}
			return emit(Event{Type: EventChunk, Text: delta})
		})
		if err != nil {
			return fail(o.apology(st, nil, nil), fmt.Errorf("first model call: %w", err))
		}

		if !assembler.Started() {
			res := TurnResult{Reply: text, ToolsUsed: []string{}, Metrics: o.metrics(st, 0)}
			emit(Event{Type: EventDone, Result: &res})
			return nil
		}

		requested, err = assembler.Complete()
		if err != nil {
			return fail(o.apology(st, nil, nil), fmt.Errorf("assemble tool calls: %w", err))
		}
		assistantText = text
	}

	accepted, dropped, confirm := o.selectCalls(ctx, st, requested)
	if confirm != nil {
		res := TurnResult{
			Reply:        confirm.Message,
			ToolsUsed:    []string{},
			Metrics:      o.metrics(st, 0),
			Confirmation: confirm,
			Dropped:      dropped,
		}
		if emit(Event{Type: EventConfirmation, Confirmation: confirm}) {
			emit(Event{Type: EventDone, Result: &res})
		}
		return nil
	}

	used := toolNames(accepted)
	if !emit(Event{Type: EventTools, Tools: used}) {
		return ctx.Err()
	}
	if len(accepted) > 0 && !emit(Event{Type: EventExecuting, Tools: used}) {
		return ctx.Err()
	}
	results, logs := o.execute(ctx, st, accepted)

	synth := o.builder.Synthesis(input, assistantText, accepted, results)
	text, err := o.streamCall(ctx, st, synth, false, nil, func(delta string) bool {
		return emit(Event{Type: EventChunk, Text: delta})
	})
	if err != nil {
		res := o.apology(st, used, logs)
		res.Dropped = dropped
		return fail(res, fmt.Errorf("synthesis model call: %w", err))
	}

	res := TurnResult{
		Reply:     text,
		ToolsUsed: used,
		Metrics:   o.metrics(st, len(accepted)),
		Logs:      logs,
		Dropped:   dropped,
	}
	emit(Event{Type: EventDone, Result: &res})
	return nil
}

// streamCall drains one provider stream. Text deltas go to onText; tool-call fragments go
// to the assembler when one is supplied and are otherwise discarded.
func (o *Orchestrator) streamCall(
	ctx context.Context,
	st *turnState,
	in ports.PromptInput,
	withTools bool,
	assembler *toolCallAssembler,
	onText func(string) bool,
) (string, error) {
	ctx, finish := o.tracer.StartSpan(ctx, "model_call", map[string]any{"tools": withTools, "stream": true})
	text, err := o.drain(ctx, st, in, withTools, assembler, onText)
	finish(err)
	return text, err
}

func (o *Orchestrator) drain(
	ctx context.Context,
	st *turnState,
	in ports.PromptInput,
	withTools bool,
	assembler *toolCallAssembler,
	onText func(string) bool,
) (string, error) {
	chunks, err := o.provider.Stream(ctx, in, o.callOptions(withTools))
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return text.String(), chunk.Err
		}
		if len(chunk.ToolCallDeltas) > 0 && assembler != nil {
			if err := assembler.Add(chunk.ToolCallDeltas); err != nil {
				return text.String(), err
			}
		}
		if chunk.DeltaText != "" {
			text.WriteString(chunk.DeltaText)
			if !onText(chunk.DeltaText) {
				return text.String(), errEventsAbandoned
			}
		}
		if chunk.Done {
			st.usage.Add(chunk.Usage)
			return text.String(), nil
		}
	}

	if err := ctx.Err(); err != nil {
		return text.String(), err
	}
	return text.String(), errors.New("model stream ended without completion")
}
