package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/tracing"
	"github.com/vocalis/vocalis/pkg/definition"
	"github.com/vocalis/vocalis/pkg/intent"
	"github.com/vocalis/vocalis/pkg/provider"
	"github.com/vocalis/vocalis/pkg/store"
	"github.com/vocalis/vocalis/pkg/toolgateway"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusAwaitingTool Status = "awaiting_tool"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// ErrClosed is returned when input is submitted to a closed session.
var ErrClosed = errors.New("session is closed")

// Deps wires the collaborators one orchestrator needs.
type Deps struct {
	Provider    provider.Provider
	Definitions *definition.Store
	Tools       *toolgateway.Gateway
	Checkpoints store.Store
	Classifier  intent.Classifier
	Realtime    config.RealtimeConfig
}

// clientInput is one inbound client event, serialized into the run loop.
type clientInput struct {
	audio []byte
	text  string
}

// Orchestrator drives one conversation end-to-end. All session state
// (current agent, flow state, history, the provider connection) is owned by
// the run loop goroutine; no other goroutine mutates it. The public methods
// communicate with the loop through channels only.
type Orchestrator struct {
	sessionID string
	deps      Deps
	logger    zerolog.Logger

	// Owned by the run loop. runCtx carries the session's trace identity
	// and is re-derived at each hand-off.
	runCtx  context.Context
	agent   *definition.AgentDefinition
	state   *definition.State
	history []store.Message
	conn    provider.Conn

	// Turn accumulators, reset per completed turn.
	turnUserText      string
	turnAssistantText string
	turnStart         time.Time

	input  chan clientInput
	closed chan struct{} // close requested
	done   chan struct{} // run loop exited
	out    chan ClientEvent

	closeReq   atomic.Bool
	status     atomic.Value // Status
	agentName  atomic.Value // string, for observers
	lastActive atomic.Int64 // unix nano
	startedAt  time.Time
	runErr     error
}

// New builds an orchestrator for a session. When resumed is non-nil the
// session continues from its checkpoint: same agent, flow state and
// history. Otherwise it starts with the definition set's opener agent.
func New(sessionID string, deps Deps, resumed *store.Checkpoint) *Orchestrator {
	defs := deps.Definitions.Current()

	agent := defs.Opener()
	state := agent.Flow.InitialState()
	var history []store.Message

	if resumed != nil {
		if a := defs.Agent(resumed.Agent); a != nil {
			agent = a
			state = a.Flow.InitialState()
			if s := a.Flow.State(resumed.State); s != nil {
				state = s
			}
		}
		history = append(history, resumed.History...)
	}

	o := &Orchestrator{
		sessionID: sessionID,
		deps:      deps,
		logger:    log.With().Str("session_id", sessionID).Logger(),
		agent:     agent,
		state:     state,
		history:   history,
		input:     make(chan clientInput, 64),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
		out:       make(chan ClientEvent, 256),
		startedAt: time.Now(),
	}
	o.status.Store(StatusConnecting)
	o.agentName.Store(agent.Name)
	o.touch()
	return o
}

// Start launches the session's run loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx = tracing.NewSessionContext(ctx, o.sessionID)
	ctx = tracing.WithAgent(ctx, o.agent.Name)
	o.logger = tracing.LoggerFromContext(ctx, log.Logger)
	go o.run(ctx)
}

// Events yields client-bound events in provider order. The channel closes
// after a final ClosedEvent.
func (o *Orchestrator) Events() <-chan ClientEvent {
	return o.out
}

// SendAudio forwards a chunk of caller audio into the session.
func (o *Orchestrator) SendAudio(data []byte) error {
	return o.submit(clientInput{audio: data})
}

// SendText forwards a complete user text message into the session.
func (o *Orchestrator) SendText(text string) error {
	return o.submit(clientInput{text: text})
}

func (o *Orchestrator) submit(in clientInput) error {
	select {
	case <-o.done:
		return ErrClosed
	case <-o.closed:
		return ErrClosed
	case o.input <- in:
		o.touch()
		return nil
	}
}

// Close requests shutdown and waits for the run loop to write its final
// checkpoint. Safe to call more than once.
func (o *Orchestrator) Close() error {
	if o.closeReq.CompareAndSwap(false, true) {
		close(o.closed)
	}
	<-o.done
	return o.runErr
}

// Status reports the current lifecycle state.
func (o *Orchestrator) Status() Status {
	return o.status.Load().(Status)
}

// Agent reports the currently bound agent name.
func (o *Orchestrator) Agent() string {
	return o.agentName.Load().(string)
}

// LastActive reports the time of the session's last client or provider
// activity, used by the idle sweep.
func (o *Orchestrator) LastActive() time.Time {
	return time.Unix(0, o.lastActive.Load())
}

// Done is closed once the run loop has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Err reports the terminal session error after Done, nil on a clean close.
func (o *Orchestrator) Err() error {
	select {
	case <-o.done:
		return o.runErr
	default:
		return nil
	}
}

func (o *Orchestrator) touch() {
	o.lastActive.Store(time.Now().UnixNano())
}

func (o *Orchestrator) setStatus(s Status) {
	prev := o.Status()
	if prev == s {
		return
	}
	o.status.Store(s)
	o.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("Session status changed")
}
