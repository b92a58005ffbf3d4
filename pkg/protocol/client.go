package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client-to-server message types.
const (
	TypeAudioFrame = "audio_frame"
	TypeTextInput  = "text_input"
	TypeControl    = "control"
)

// Control operations.
const (
	OpEndSession = "end_session"
)

// ClientMessage is the interface for all client-to-server message types.
type ClientMessage interface {
	MessageType() string
}

// AudioFrame carries one frame of microphone PCM (s16le). Seq increases
// monotonically per session so the gateway can observe drops.
type AudioFrame struct {
	Type string `json:"type"` // "audio_frame"
	Seq  uint64 `json:"seq"`
	Data []byte `json:"data_b64"`
}

func (m AudioFrame) MessageType() string { return TypeAudioFrame }

// TextInput is a discrete typed utterance, treated by the gateway as a
// complete user turn.
type TextInput struct {
	Type string `json:"type"` // "text_input"
	Text string `json:"text"`
}

func (m TextInput) MessageType() string { return TypeTextInput }

// Control carries session control operations.
type Control struct {
	Type string `json:"type"` // "control"
	Op   string `json:"op"`
}

func (m Control) MessageType() string { return TypeControl }

// DecodeError is returned when strict client-frame decoding fails. It carries
// an optional Param naming the offending field.
type DecodeError struct {
	Param   string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s", e.Param, e.Message)
	}
	return e.Message
}

func decodeErr(param, msg string) error {
	return &DecodeError{Param: param, Message: msg}
}

// DecodeClientMessage deserializes one client-to-server frame and rejects
// unknown types and malformed payloads. The gateway uses this; the lenient
// direction is server-to-client only.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var typeHolder struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &typeHolder); err != nil {
		return nil, decodeErr("", "invalid JSON frame")
	}

	switch typeHolder.Type {
	case TypeAudioFrame:
		var msg AudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr("data_b64", "audio_frame payload is malformed")
		}
		if len(msg.Data) == 0 {
			return nil, decodeErr("data_b64", "audio_frame.data_b64 is required")
		}
		if len(msg.Data)%2 != 0 {
			return nil, decodeErr("data_b64", "audio_frame.data_b64 must hold whole s16le samples")
		}
		return msg, nil
	case TypeTextInput:
		var msg TextInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr("text", "text_input payload is malformed")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, decodeErr("text", "text_input.text is required")
		}
		return msg, nil
	case TypeControl:
		var msg Control
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr("op", "control payload is malformed")
		}
		if msg.Op != OpEndSession {
			return nil, decodeErr("op", fmt.Sprintf("unknown control op %q", msg.Op))
		}
		return msg, nil
	case "":
		return nil, decodeErr("type", "message type is required")
	default:
		return nil, decodeErr("type", fmt.Sprintf("unknown message type %q", typeHolder.Type))
	}
}
