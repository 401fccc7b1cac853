package provider

// Event is a normalized provider event. Adapters translate provider-native
// wire messages into this closed variant set; the orchestrator consumes one
// ordered sequence per session and never sees provider-specific shapes.
type Event interface {
	eventKind() string
}

// PartialTextEvent carries a streamed text chunk of the assistant response.
type PartialTextEvent struct {
	ResponseID string
	Delta      string
}

func (PartialTextEvent) eventKind() string { return "partial_text" }

// PartialAudioEvent carries a streamed audio chunk of the assistant response.
// Data is raw PCM bytes, already decoded from the provider's base64 framing.
type PartialAudioEvent struct {
	ResponseID string
	Data       []byte
}

func (PartialAudioEvent) eventKind() string { return "partial_audio" }

// ResponseCompleteEvent marks the end of one model turn.
type ResponseCompleteEvent struct {
	ResponseID string
	Status     string
}

func (ResponseCompleteEvent) eventKind() string { return "response_complete" }

// ToolCallRequestedEvent is the model asking for a tool invocation.
// Arguments is the raw JSON argument payload as streamed by the provider.
type ToolCallRequestedEvent struct {
	CallID    string
	Name      string
	Arguments string
}

func (ToolCallRequestedEvent) eventKind() string { return "tool_call_requested" }

// TranscriptEvent surfaces a completed transcription: the user's input
// utterance or the assistant's spoken output.
type TranscriptEvent struct {
	Role string // "user" or "assistant"
	Text string
}

func (TranscriptEvent) eventKind() string { return "transcript" }

// InterruptionEvent signals that the user started speaking over assistant
// audio; the client should stop playback immediately.
type InterruptionEvent struct{}

func (InterruptionEvent) eventKind() string { return "interruption" }

// ConnectionErrorEvent reports a transport-level failure. The connection is
// no longer usable; the events channel closes after this is delivered.
type ConnectionErrorEvent struct {
	Err *Error
}

func (ConnectionErrorEvent) eventKind() string { return "connection_error" }

// SessionExpiredEvent reports that the provider ended the model session.
type SessionExpiredEvent struct {
	Reason string
}

func (SessionExpiredEvent) eventKind() string { return "session_expired" }

// Outbound is an event sent toward the provider.
type Outbound interface {
	outboundKind() string
}

// AudioInput appends a chunk of caller audio to the provider's input buffer.
type AudioInput struct {
	Data []byte
}

func (AudioInput) outboundKind() string { return "audio" }

// TextInput submits a complete user text message and requests a response.
type TextInput struct {
	Text string
}

func (TextInput) outboundKind() string { return "text" }

// ToolResult injects a resolved tool call back into the conversation.
// Output is a JSON payload; a failed or timed-out call carries a structured
// error object here rather than failing the session.
type ToolResult struct {
	CallID string
	Output string
}

func (ToolResult) outboundKind() string { return "tool_result" }

// InstructionUpdate re-primes the live session with new system instructions
// and tool declarations. Used on agent hand-off so the same connection keeps
// serving without a reconnect.
type InstructionUpdate struct {
	Instructions string
	Tools        []ToolDecl
}

func (InstructionUpdate) outboundKind() string { return "instruction_update" }

// ToolDecl is a tool declaration in provider-neutral form.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}
