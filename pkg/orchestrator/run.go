package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vocalis/vocalis/internal/observability"
	"github.com/vocalis/vocalis/internal/tracing"
	"github.com/vocalis/vocalis/pkg/definition"
	"github.com/vocalis/vocalis/pkg/intent"
	"github.com/vocalis/vocalis/pkg/provider"
	"github.com/vocalis/vocalis/pkg/store"
	"github.com/vocalis/vocalis/pkg/toolgateway"
)

const checkpointTimeout = 5 * time.Second

// run is the session's single task: every mutation of session state happens
// here, in arrival order.
func (o *Orchestrator) run(ctx context.Context) {
	o.runCtx = ctx
	defer o.finish(ctx)

	if err := o.connect(ctx, false); err != nil {
		o.runErr = err
		o.logger.Error().Err(err).Msg("Session failed to connect")
		return
	}
	o.setStatus(StatusActive)

	for {
		select {
		case <-ctx.Done():
			// Daemon shutdown cancels the base context; the session
			// closes cleanly through its final checkpoint.
			o.logger.Info().Msg("Session context cancelled, closing")
			return

		case <-o.closed:
			return

		case in := <-o.input:
			o.handleClientInput(o.runCtx, in)

		case ev, ok := <-o.conn.Events():
			if !ok {
				connErr := o.conn.Err()
				if connErr == nil {
					o.logger.Info().Msg("Provider closed the session")
					return
				}
				if err := o.reconnect(o.runCtx, connErr); err != nil {
					o.runErr = err
					return
				}
				continue
			}
			o.touch()
			o.handleProviderEvent(o.runCtx, ev)
		}
	}
}

// connect establishes the provider stream, primed with the current agent's
// instructions, retrying transient failures with exponential backoff up to
// the configured attempt bound.
func (o *Orchestrator) connect(ctx context.Context, isReconnect bool) error {
	params := provider.SessionParams{
		Model:              o.deps.Realtime.Model,
		Instructions:       renderInstructions(o.agent, o.state, summarize(o.history)),
		Tools:              toolDecls(o.agent),
		Voice:              o.deps.Realtime.Voice,
		TranscriptionModel: o.deps.Realtime.TranscriptionModel,
	}

	attempts := o.deps.Realtime.ReconnectMaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	base := o.deps.Realtime.ReconnectBaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))

	var conn provider.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, connErr := o.deps.Provider.Connect(ctx, params)
		if connErr != nil {
			if isReconnect {
				observability.RecordReconnect(o.deps.Provider.Name(), false)
			}
			o.logger.Warn().Err(connErr).Msg("Provider connect attempt failed")
			if provider.Retryable(connErr) {
				return retry.RetryableError(connErr)
			}
			return connErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return err
	}

	o.conn = conn
	if isReconnect {
		observability.RecordReconnect(o.deps.Provider.Name(), true)
	}
	return nil
}

// reconnect re-establishes the provider stream after a transport failure.
// History and the current flow state are checkpointed before the attempt and
// survive unchanged.
func (o *Orchestrator) reconnect(ctx context.Context, cause error) error {
	ctx, span := tracing.StartSpan(ctx, "session.reconnect",
		attribute.String("session.id", o.sessionID))
	defer span.End()

	o.setStatus(StatusReconnecting)
	o.logger.Warn().Err(cause).Msg("Provider connection lost, reconnecting")
	observability.RecordFailureAudit(ctx, o.sessionID, "provider_disconnect", string(provider.KindOf(cause)))

	o.checkpoint(ctx)
	o.resetTurn()

	if err := o.connect(ctx, true); err != nil {
		o.logger.Error().Err(err).Msg("Reconnect attempts exhausted")
		return err
	}
	o.setStatus(StatusActive)
	return nil
}

func (o *Orchestrator) handleClientInput(ctx context.Context, in clientInput) {
	var out provider.Outbound
	switch {
	case in.audio != nil:
		out = provider.AudioInput{Data: in.audio}
	case in.text != "":
		o.append(store.Message{Role: "user", Content: in.text, Timestamp: time.Now().UTC()})
		o.turnUserText = in.text
		out = provider.TextInput{Text: in.text}
	default:
		return
	}

	if err := o.conn.Send(ctx, out); err != nil {
		// A dead connection also closes the events channel; the
		// reconnect path owns recovery.
		o.logger.Warn().Err(err).Msg("Failed to forward client input")
	}
}

func (o *Orchestrator) handleProviderEvent(ctx context.Context, ev provider.Event) {
	switch ev := ev.(type) {
	case provider.PartialAudioEvent:
		o.markTurnStarted()
		o.emit(AudioChunkEvent{Data: ev.Data})

	case provider.PartialTextEvent:
		o.markTurnStarted()
		o.turnAssistantText += ev.Delta

	case provider.TranscriptEvent:
		if ev.Text == "" {
			return
		}
		o.append(store.Message{Role: ev.Role, Content: ev.Text, Timestamp: time.Now().UTC()})
		if ev.Role == "user" {
			o.turnUserText = ev.Text
		} else {
			o.turnAssistantText = ev.Text
		}
		o.emit(TranscriptUpdateEvent{Role: ev.Role, Text: ev.Text})

	case provider.InterruptionEvent:
		o.emit(StopPlaybackEvent{})

	case provider.ToolCallRequestedEvent:
		o.handleToolCall(ctx, ev)

	case provider.ResponseCompleteEvent:
		o.completeTurn(ctx)

	case provider.ConnectionErrorEvent:
		if provider.Retryable(ev.Err) {
			// Terminal transport failure; the events channel close
			// that follows drives the reconnect.
			return
		}
		// Malformed or unexpected provider traffic aborts the turn; the
		// session keeps serving.
		o.logger.Warn().Err(ev.Err).Msg("Provider protocol error, aborting turn")
		observability.RecordFailureAudit(ctx, o.sessionID, "provider_event", string(ev.Err.Kind))
		o.resetTurn()

	case provider.SessionExpiredEvent:
		o.logger.Info().Str("reason", ev.Reason).Msg("Provider session expired")
	}
}

// handleToolCall resolves one model-issued tool call. The session blocks
// further provider output for this turn until the call resolves; tool calls
// therefore serialize per session. The result (success, failure or timeout)
// is injected back into the provider stream exactly once.
func (o *Orchestrator) handleToolCall(ctx context.Context, ev provider.ToolCallRequestedEvent) {
	ctx, span := tracing.StartSpan(ctx, "tool.invoke",
		attribute.String("tool.name", ev.Name),
		attribute.String("tool.call_id", ev.CallID))
	defer span.End()

	o.setStatus(StatusAwaitingTool)
	defer o.setStatus(StatusActive)

	var result toolgateway.ToolResult
	args, err := toolgateway.ParseArguments(ev.Arguments)
	if err != nil {
		result = toolgateway.ToolResult{CallID: ev.CallID, Status: toolgateway.StatusFailed, Error: err.Error()}
		observability.RecordFailureAudit(ctx, o.sessionID, "invoke:"+ev.Name, "tool_arguments")
	} else {
		result = o.deps.Tools.Invoke(ctx, toolgateway.ToolCall{
			ID:        ev.CallID,
			Name:      ev.Name,
			Arguments: args,
		}, o.agent.Tool(ev.Name))
	}

	payload := result.Payload()
	o.append(store.Message{
		Role:      "tool",
		Content:   payload,
		Timestamp: time.Now().UTC(),
		ToolCall: &store.ToolCallRecord{
			ID:        ev.CallID,
			Name:      ev.Name,
			Arguments: ev.Arguments,
			Result:    payload,
			Status:    string(result.Status),
		},
	})
	observability.RecordToolAudit(ctx, o.sessionID, ev.Name, string(result.Status), nil)

	if err := o.conn.Send(ctx, provider.ToolResult{CallID: ev.CallID, Output: payload}); err != nil {
		o.logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("Failed to inject tool result")
	}
}

// completeTurn closes out one model turn: telemetry, then exactly one
// hand-off evaluation.
func (o *Orchestrator) completeTurn(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "turn.complete",
		attribute.String("agent.name", o.agent.Name),
		attribute.String("flow.state", o.state.Name))
	defer span.End()

	if !o.turnStart.IsZero() {
		latency := time.Since(o.turnStart)
		observability.RecordTurn(o.agent.Community, o.deps.Provider.Name(), latency)
		observability.RecordTurnAudit(ctx, o.sessionID, o.agent.Community, map[string]interface{}{
			"agent":      o.agent.Name,
			"state":      o.state.Name,
			"latency_ms": latency.Milliseconds(),
		})
	}

	o.evaluateTransition(ctx)
	o.resetTurn()
}

// evaluateTransition runs the current state's transition conditions against
// the completed turn. Same-flow matches move the state; a cross-agent match
// swaps the bound agent and re-primes the live connection without a
// reconnect. At most one transition is taken per turn.
func (o *Orchestrator) evaluateTransition(ctx context.Context) {
	if len(o.state.Transitions) == 0 {
		return
	}

	conditions := make([]string, 0, len(o.state.Transitions))
	for _, tr := range o.state.Transitions {
		conditions = append(conditions, tr.Condition)
	}

	turn := intent.Turn{UserText: o.turnUserText, AssistantText: o.turnAssistantText}
	matched, err := o.deps.Classifier.Classify(ctx, turn, conditions)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Intent classification failed, staying in current state")
		observability.RecordFailureAudit(ctx, o.sessionID, "classify", "intent_classifier")
		return
	}
	if matched == "" {
		return
	}

	idx := -1
	for i := range o.state.Transitions {
		if o.state.Transitions[i].Condition == matched {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	tr := o.state.Transitions[idx]

	// Resolve against the live definition map: a session keeps its bound
	// agent until this point, so a reload takes effect at the next
	// hand-off evaluation.
	defs := o.deps.Definitions.Current()
	target, nextState, err := defs.ResolveTransition(o.agent, tr)
	if err != nil {
		o.logger.Warn().Err(err).Str("condition", matched).Msg("Transition no longer resolves, ignoring")
		return
	}

	if target.Name == o.agent.Name {
		o.logger.Debug().Str("from", o.state.Name).Str("to", nextState.Name).
			Str("condition", matched).Msg("Conversation state advanced")
		o.state = nextState
		return
	}

	o.handoff(ctx, target, nextState, matched)
}

// handoff swaps the active agent on the same provider connection: new
// instructions and tools are pushed as a session update, preserving the
// stream and its latency.
func (o *Orchestrator) handoff(ctx context.Context, target *definition.AgentDefinition, nextState *definition.State, condition string) {
	source := o.agent

	ctx, span := tracing.StartSpan(ctx, "session.handoff",
		attribute.String("handoff.source", source.Name),
		attribute.String("handoff.target", target.Name),
		attribute.String("handoff.condition", condition))
	defer span.End()

	update := provider.InstructionUpdate{
		Instructions: renderInstructions(target, nextState, summarize(o.history)),
		Tools:        toolDecls(target),
	}
	if err := o.conn.Send(ctx, update); err != nil {
		o.logger.Error().Err(err).Str("target", target.Name).Msg("Failed to re-prime connection for hand-off")
		return
	}

	o.agent = target
	o.state = nextState
	o.agentName.Store(target.Name)

	// The trace and session identity survive the hand-off; the turn id
	// resets because the target agent starts a fresh turn.
	o.runCtx = tracing.PropagateToHandoff(o.runCtx, target.Name)
	o.logger = tracing.LoggerFromContext(o.runCtx, log.Logger)
	o.checkpoint(ctx)

	observability.RecordHandoff(source.Community, target.Community)
	observability.RecordHandoffAudit(ctx, o.sessionID, source.Name, target.Name)
	o.logger.Info().Str("source", source.Name).Str("target", target.Name).
		Str("condition", condition).Msg("Agent hand-off")
	o.emit(HandoffEvent{SourceAgent: source.Name, TargetAgent: target.Name})
}

// append adds a message to the session history. History is append-only:
// nothing ever rewrites or removes an entry.
func (o *Orchestrator) append(msg store.Message) {
	o.history = append(o.history, msg)
}

func (o *Orchestrator) markTurnStarted() {
	if o.turnStart.IsZero() {
		o.turnStart = time.Now()
	}
}

func (o *Orchestrator) resetTurn() {
	o.turnUserText = ""
	o.turnAssistantText = ""
	o.turnStart = time.Time{}
}

// checkpoint persists the session snapshot. Best-effort and bounded: a
// failed write is logged, never fatal to the session.
func (o *Orchestrator) checkpoint(ctx context.Context) {
	cpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()

	cp := &store.Checkpoint{
		SessionID: o.sessionID,
		Agent:     o.agent.Name,
		State:     o.state.Name,
		Summary:   summarize(o.history),
		History:   append([]store.Message(nil), o.history...),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.deps.Checkpoints.Put(cpCtx, cp); err != nil {
		o.logger.Warn().Err(err).Msg("Checkpoint write failed")
		observability.RecordFailureAudit(ctx, o.sessionID, "checkpoint", "store_write")
	}
}

// finish runs exactly once as the run loop exits: final checkpoint, resource
// release, terminal client event.
func (o *Orchestrator) finish(ctx context.Context) {
	o.setStatus(StatusClosed)

	if o.conn != nil {
		_ = o.conn.Close()
	}
	o.checkpoint(ctx)

	status := "clean"
	if o.runErr != nil {
		status = "error"
	}
	observability.RecordSessionClosed(status, time.Since(o.startedAt))

	select {
	case o.out <- ClosedEvent{Err: o.runErr}:
	default:
	}
	close(o.out)
	close(o.done)

	o.logger.Info().Str("status", status).Dur("lifetime", time.Since(o.startedAt)).Msg("Session closed")
}

// emit delivers a client event. The run loop never blocks on a slow or
// absent client: when the outbound buffer is full the event is dropped.
func (o *Orchestrator) emit(ev ClientEvent) {
	select {
	case o.out <- ev:
	default:
		o.logger.Debug().Msg("Client event dropped, outbound buffer full")
	}
}
