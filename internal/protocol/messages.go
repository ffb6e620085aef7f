package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioFrame MessageType = "client_audio_frame"
	TypeClientControl    MessageType = "client_control"
	TypeTranscript       MessageType = "transcript"
	TypeAssistantReply   MessageType = "assistant_reply"
	TypeAssistantAudio   MessageType = "assistant_audio"
	TypeStateEvent       MessageType = "state_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted from clients.
const (
	ActionStart          = "start"
	ActionStop           = "stop"
	ActionFinishSpeaking = "finish_speaking"
	ActionReset          = "reset"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioFrame carries one microphone frame. Frames may arrive at any
// rate and channel count; the server normalizes them.
type ClientAudioFrame struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms"`
}

// Transcript reports what the tutor heard for a completed turn.
type Transcript struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

// AssistantReply carries the tutor's text and how any buffered reply was
// resolved ("none", "continue", "merge", "drop").
type AssistantReply struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	Text         string      `json:"text"`
	BufferAction string      `json:"buffer_action"`
	Held         bool        `json:"held,omitempty"`
}

type AssistantAudio struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	WAVBase64  string      `json:"wav_base64"`
	SampleRate int         `json:"sample_rate"`
	Format     string      `json:"format"`
}

// StateEvent notifies the client of a conversation state change.
type StateEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	SinceMS   int64       `json:"since_ms"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioFrame:
		var msg ClientAudioFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_frame")
		}
		if msg.Channels <= 0 {
			msg.Channels = 1
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionFinishSpeaking, ActionReset:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
