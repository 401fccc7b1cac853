package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Inbound frames arrive in telephony-media shape: a type discriminator and a
// base64 audio payload, camelCase keys.
type inboundFrame struct {
	Type      string        `json:"type"`
	AudioData *inboundAudio `json:"audioData,omitempty"`
	Text      string        `json:"text,omitempty"`
}

type inboundAudio struct {
	Data string `json:"data"`
}

// Outbound frames use the media-streaming casing the telephony client
// expects: Kind plus a capitalized payload object.
type outboundFrame struct {
	Kind       string         `json:"Kind"`
	AudioData  *outboundAudio `json:"AudioData"`
	StopAudio  *struct{}      `json:"StopAudio,omitempty"`
	Transcript *transcript    `json:"Transcript,omitempty"`
	Handoff    *handoff       `json:"Handoff,omitempty"`
}

type outboundAudio struct {
	Data string `json:"Data"`
}

type transcript struct {
	Role string `json:"Role"`
	Text string `json:"Text"`
}

type handoff struct {
	From string `json:"From"`
	To   string `json:"To"`
}

func decodeInbound(raw []byte) (*inboundFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &frame, nil
}

// audioBytes decodes the frame's base64 audio payload.
func (f *inboundFrame) audioBytes() ([]byte, error) {
	if f.AudioData == nil || f.AudioData.Data == "" {
		return nil, fmt.Errorf("audio frame without payload")
	}
	data, err := base64.StdEncoding.DecodeString(f.AudioData.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	return data, nil
}

func audioFrame(data []byte) outboundFrame {
	return outboundFrame{
		Kind:      "AudioData",
		AudioData: &outboundAudio{Data: base64.StdEncoding.EncodeToString(data)},
	}
}

func stopAudioFrame() outboundFrame {
	return outboundFrame{Kind: "StopAudio", StopAudio: &struct{}{}}
}

func transcriptFrame(role, text string) outboundFrame {
	return outboundFrame{Kind: "Transcript", Transcript: &transcript{Role: role, Text: text}}
}

func handoffFrame(from, to string) outboundFrame {
	return outboundFrame{Kind: "Handoff", Handoff: &handoff{From: from, To: to}}
}
