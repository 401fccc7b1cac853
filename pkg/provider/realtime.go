package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/observability"
)

// wsConn is a realtime model session over a websocket. Both provider
// dialects speak the same event protocol; they differ only in how the
// connection is dialed and authenticated.
//
// One goroutine (readLoop) owns reads; writes are serialized by writeMu.
// Events are delivered through a bounded channel: a consumer that falls too
// far behind fails the connection instead of growing the buffer.
type wsConn struct {
	name string
	conn *websocket.Conn

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func newWSConn(name string, conn *websocket.Conn, buffer int) *wsConn {
	c := &wsConn{
		name:   name,
		conn:   conn,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) Events() <-chan Event {
	return c.events
}

// Err returns the terminal connection error after the events channel closes.
func (c *wsConn) Err() error {
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Send translates one outbound event into its wire frames and writes them
// in order under the write lock.
func (c *wsConn) Send(ctx context.Context, out Outbound) error {
	if c.closed.Load() {
		return NewError(ErrKindConnection, "connection is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	frames, size, err := encodeOutbound(out)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, frame := range frames {
		if err := c.conn.WriteJSON(frame); err != nil {
			return NewError(ErrKindConnection, "failed to write outbound event", err)
		}
	}

	observability.RecordOutboundBytes(out.outboundKind(), size)
	return nil
}

// sendSessionUpdate primes or re-primes the model session. Used at connect
// time and on instruction updates.
func (c *wsConn) sendSessionUpdate(session map[string]interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(map[string]interface{}{
		"type":    "session.update",
		"session": session,
	})
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			perr := NewError(ErrKindConnection, "connection read failed", err)
			c.setErr(perr)
			c.emit(ConnectionErrorEvent{Err: perr})
			return
		}

		event, err := decodeWireEvent(data)
		if err != nil {
			// A malformed frame aborts the turn, not the session.
			perr := NewError(ErrKindProtocol, "malformed provider event", err)
			log.Warn().Err(perr).Str("provider", c.name).Msg("Dropping malformed provider event")
			if !c.emit(ConnectionErrorEvent{Err: perr}) {
				return
			}
			continue
		}
		if event == nil {
			continue
		}

		observability.RecordProviderEvent(c.name, event.eventKind())
		if !c.emit(event) {
			return
		}

		if see, ok := event.(SessionExpiredEvent); ok {
			c.setErr(NewError(ErrKindSessionExpired, see.Reason, nil))
			return
		}
	}
}

// emit delivers an event through the bounded buffer. A full buffer means the
// session stopped consuming: fail fast with an overflow error rather than
// block the read loop or grow memory.
func (c *wsConn) emit(event Event) bool {
	select {
	case c.events <- event:
		return true
	default:
		observability.RecordEventQueueOverflow()
		c.setErr(NewError(ErrKindOverflow,
			fmt.Sprintf("event buffer full (%d), consumer fell behind", cap(c.events)), nil))
		log.Error().Str("provider", c.name).Int("buffer", cap(c.events)).
			Msg("Provider event buffer overflow, failing connection")
		_ = c.conn.Close()
		return false
	}
}

// wireEvent is the provider's envelope; the type tag selects the payload.
type wireEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Response   *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// decodeWireEvent translates one provider frame into a normalized Event.
// Returns (nil, nil) for frames that carry nothing the session needs.
func decodeWireEvent(data []byte) (Event, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}

	switch ev.Type {
	case "response.output_audio.delta", "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return PartialAudioEvent{ResponseID: ev.ResponseID, Data: audio}, nil

	case "response.output_text.delta", "response.text.delta",
		"response.output_audio_transcript.delta", "response.audio_transcript.delta":
		return PartialTextEvent{ResponseID: ev.ResponseID, Delta: ev.Delta}, nil

	case "response.output_audio_transcript.done", "response.audio_transcript.done":
		return TranscriptEvent{Role: "assistant", Text: ev.Transcript}, nil

	case "conversation.item.input_audio_transcription.completed":
		return TranscriptEvent{Role: "user", Text: ev.Transcript}, nil

	case "response.function_call_arguments.done":
		return ToolCallRequestedEvent{CallID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments}, nil

	case "response.done":
		out := ResponseCompleteEvent{}
		if ev.Response != nil {
			out.ResponseID = ev.Response.ID
			out.Status = ev.Response.Status
		}
		return out, nil

	case "input_audio_buffer.speech_started":
		return InterruptionEvent{}, nil

	case "error":
		if ev.Error == nil {
			return nil, fmt.Errorf("error event without payload")
		}
		if ev.Error.Code == "session_expired" {
			return SessionExpiredEvent{Reason: ev.Error.Message}, nil
		}
		return ConnectionErrorEvent{
			Err: NewError(ErrKindProtocol, fmt.Sprintf("%s: %s", ev.Error.Code, ev.Error.Message), nil),
		}, nil

	default:
		// Lifecycle acks (session.created, response.created, rate_limits
		// and the like) carry nothing the session acts on.
		log.Trace().Str("type", ev.Type).Msg("Ignoring provider event")
		return nil, nil
	}
}

// encodeOutbound translates one outbound event into its ordered wire frames.
// Returns the frames and the payload byte count for metrics.
func encodeOutbound(out Outbound) ([]interface{}, int, error) {
	switch o := out.(type) {
	case AudioInput:
		return []interface{}{map[string]interface{}{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(o.Data),
		}}, len(o.Data), nil

	case TextInput:
		item := map[string]interface{}{
			"type": "conversation.item.create",
			"item": map[string]interface{}{
				"type": "message",
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "input_text", "text": o.Text},
				},
			},
		}
		return []interface{}{item, map[string]interface{}{"type": "response.create"}}, len(o.Text), nil

	case ToolResult:
		item := map[string]interface{}{
			"type": "conversation.item.create",
			"item": map[string]interface{}{
				"type":    "function_call_output",
				"call_id": o.CallID,
				"output":  o.Output,
			},
		}
		return []interface{}{item, map[string]interface{}{"type": "response.create"}}, len(o.Output), nil

	case InstructionUpdate:
		session := map[string]interface{}{
			"instructions": o.Instructions,
			"tools":        encodeTools(o.Tools),
			"tool_choice":  "auto",
		}
		return []interface{}{map[string]interface{}{
			"type":    "session.update",
			"session": session,
		}}, len(o.Instructions), nil

	default:
		return nil, 0, fmt.Errorf("unknown outbound event type %T", out)
	}
}

func encodeTools(tools []ToolDecl) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, map[string]interface{}{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}
	return out
}

// sessionPayload builds the session.update body that primes a new session.
func sessionPayload(params SessionParams) map[string]interface{} {
	session := map[string]interface{}{
		"instructions":        params.Instructions,
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"tools":               encodeTools(params.Tools),
		"tool_choice":         "auto",
		"turn_detection": map[string]interface{}{
			"type":               "semantic_vad",
			"create_response":    true,
			"interrupt_response": true,
		},
	}
	if params.Voice != "" {
		session["voice"] = params.Voice
	}
	if params.TranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]interface{}{
			"model": params.TranscriptionModel,
		}
	}
	return session
}
