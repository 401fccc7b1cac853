package toolgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/observability"
	"github.com/vocalis/vocalis/internal/tracing"
	"github.com/vocalis/vocalis/pkg/definition"
)

// Dispatcher is the narrow surface the gateway needs from a tool server.
type Dispatcher interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
	Stop() error
}

// Gateway validates and dispatches model-issued tool calls against MCP
// servers, bounding each invocation by a deadline. Safe for concurrent use
// by many sessions.
type Gateway struct {
	timeout time.Duration

	mu      sync.RWMutex
	servers map[string]Dispatcher
	schemas map[string]*gojsonschema.Schema
}

// NewGateway builds a gateway over the configured MCP servers.
func NewGateway(cfg config.ToolsConfig) *Gateway {
	g := &Gateway{
		timeout: cfg.InvokeTimeout,
		servers: make(map[string]Dispatcher),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	if g.timeout <= 0 {
		g.timeout = 30 * time.Second
	}

	for _, entry := range cfg.MCPServers {
		g.servers[entry.ID] = NewServerAdapter(entry.ID, entry.Command, entry.Args)
	}

	log.Info().Int("servers", len(cfg.MCPServers)).Dur("timeout", g.timeout).
		Msg("Tool gateway initialized")
	return g
}

// RegisterServer adds or replaces a tool server. Exposed for tests and for
// definition linting against ad-hoc servers.
func (g *Gateway) RegisterServer(id string, d Dispatcher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.servers[id] = d
}

// Invoke resolves one tool call to exactly one result. Arguments are
// validated against the declared parameter schema before dispatch; the
// deadline is enforced by discarding the result; the external call itself
// is not guaranteed to be cancelled.
func (g *Gateway) Invoke(ctx context.Context, call ToolCall, spec *definition.ToolSpec) ToolResult {
	start := time.Now()
	result := g.invoke(ctx, call, spec)
	result.CallID = call.ID
	result.Duration = time.Since(start)

	observability.RecordToolInvocation(call.Name, string(result.Status), result.Duration)
	if result.Status != StatusSucceeded {
		observability.RecordFailureAudit(ctx, tracing.GetSessionID(ctx), "invoke:"+call.Name, "tool_"+string(result.Status))
	}

	log.Debug().Str("tool", call.Name).Str("call_id", call.ID).
		Str("status", string(result.Status)).Dur("duration", result.Duration).
		Msg("Tool call resolved")
	return result
}

func (g *Gateway) invoke(ctx context.Context, call ToolCall, spec *definition.ToolSpec) ToolResult {
	if spec == nil {
		return ToolResult{Status: StatusFailed, Error: fmt.Sprintf("tool %q is not declared by the active agent", call.Name)}
	}

	if err := g.validateArgs(call, spec); err != nil {
		return ToolResult{Status: StatusFailed, Error: err.Error()}
	}

	g.mu.RLock()
	server, ok := g.servers[spec.Server]
	g.mu.RUnlock()
	if !ok {
		return ToolResult{Status: StatusFailed, Error: fmt.Sprintf("tool server %q is not configured", spec.Server)}
	}

	deadline := call.Deadline
	if deadline <= 0 {
		deadline = g.timeout
	}

	type outcome struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)

	// The dispatch outlives the deadline on purpose: a timed-out call has
	// its result discarded, not its execution cancelled.
	go func() {
		output, err := server.CallTool(context.WithoutCancel(ctx), call.Name, call.Arguments)
		done <- outcome{output: output, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return ToolResult{Status: StatusFailed, Error: out.err.Error()}
		}
		return ToolResult{Status: StatusSucceeded, Output: out.output}
	case <-timer.C:
		return ToolResult{Status: StatusTimedOut, Error: fmt.Sprintf("tool %q did not complete within %s", call.Name, deadline)}
	case <-ctx.Done():
		return ToolResult{Status: StatusFailed, Error: ctx.Err().Error()}
	}
}

// validateArgs checks the call arguments against the tool's declared JSON
// schema. Compiled schemas are cached per server/tool pair.
func (g *Gateway) validateArgs(call ToolCall, spec *definition.ToolSpec) error {
	if len(spec.Parameters) == 0 {
		return nil
	}

	schema, err := g.schemaFor(spec)
	if err != nil {
		return fmt.Errorf("invalid parameter schema for tool %q: %w", spec.Name, err)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("argument validation failed for tool %q: %w", spec.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid arguments for tool %q: %s", spec.Name, strings.Join(msgs, "; "))
	}
	return nil
}

func (g *Gateway) schemaFor(spec *definition.ToolSpec) (*gojsonschema.Schema, error) {
	key := spec.Server + "/" + spec.Name

	g.mu.RLock()
	schema, ok := g.schemas[key]
	g.mu.RUnlock()
	if ok {
		return schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Parameters))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.schemas[key] = schema
	g.mu.Unlock()
	return schema, nil
}

// ParseArguments decodes a provider-streamed JSON argument payload.
func ParseArguments(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	return args, nil
}

// Close stops all tool server processes.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, server := range g.servers {
		if err := server.Stop(); err != nil {
			log.Warn().Err(err).Str("server", id).Msg("Failed to stop tool server")
		}
	}
}
