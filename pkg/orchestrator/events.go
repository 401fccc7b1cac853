package orchestrator

// ClientEvent is an event delivered to the session's client surface, in the
// order produced by the provider for each turn.
type ClientEvent interface {
	clientEventKind() string
}

// AudioChunkEvent is a chunk of assistant audio to play.
type AudioChunkEvent struct {
	Data []byte
}

func (AudioChunkEvent) clientEventKind() string { return "audio_chunk" }

// StopPlaybackEvent tells the client to flush buffered audio immediately,
// emitted when the user barges in over assistant speech.
type StopPlaybackEvent struct{}

func (StopPlaybackEvent) clientEventKind() string { return "stop_playback" }

// TranscriptUpdateEvent surfaces a completed transcription.
type TranscriptUpdateEvent struct {
	Role string
	Text string
}

func (TranscriptUpdateEvent) clientEventKind() string { return "transcript" }

// HandoffEvent notifies the client that the session switched agents. The
// provider connection is unchanged; this is informational.
type HandoffEvent struct {
	SourceAgent string
	TargetAgent string
}

func (HandoffEvent) clientEventKind() string { return "handoff" }

// ClosedEvent is the final event of a session. Err is nil on a clean close.
type ClosedEvent struct {
	Err error
}

func (ClosedEvent) clientEventKind() string { return "closed" }
