// Package protocol defines the JSON wire messages carried over the duplex
// session channel, in both directions, plus their decoders.
//
// The two directions decode differently on purpose. Server-to-client decoding
// is lenient: unknown message types are ignored and missing payload fields
// fall back to safe defaults, so an older client keeps working against a newer
// gateway. Client-to-server decoding (used by the gateway) is strict and
// rejects malformed frames.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/voicewire/voicewire/pkg/core/state"
)

// Server-to-client message types.
const (
	TypeStateUpdate         = "state_update"
	TypeUserTranscript      = "user_transcript"
	TypeAgentTranscript     = "agent_transcript"
	TypeAgentSpeakingStart  = "agent_speaking_started"
	TypeAgentSpeakingStop   = "agent_speaking_stopped"
	TypeUserSpeakingStarted = "user_speaking_started"
	TypeAgentAudio          = "agent_audio"
	TypeError               = "error"
)

// ServerMessage is the interface for all server-to-client message types.
type ServerMessage interface {
	MessageType() string
}

// StatePayload is the wire shape of a conversation state snapshot. Topic
// identifier strings must exactly match the identifiers in the topic catalog
// the presentation layer renders from; that contract is not enforced here.
type StatePayload struct {
	AllTopics       []string                  `json:"all_topics"`
	DiscussedTopics []string                  `json:"discussed_topics"`
	Responses       map[string]ResponseRecord `json:"responses"`
	RemainingTopics []string                  `json:"remaining_topics"`
	CurrentTopics   []string                  `json:"current_topics"`
	CurrentNode     string                    `json:"current_node"`
	Progress        string                    `json:"progress"`
}

// ResponseRecord is the per-topic response captured by the flow engine.
type ResponseRecord struct {
	Interested bool `json:"interested"`
}

// Conversation maps the wire snapshot onto the store's state type.
func (p StatePayload) Conversation() state.ConversationState {
	cs := state.ConversationState{
		AllTopics:       p.AllTopics,
		DiscussedTopics: p.DiscussedTopics,
		RemainingTopics: p.RemainingTopics,
		CurrentTopics:   p.CurrentTopics,
		CurrentNode:     p.CurrentNode,
		Progress:        p.Progress,
	}
	if len(p.Responses) > 0 {
		cs.Responses = make(map[string]state.Sentiment, len(p.Responses))
		for topic, r := range p.Responses {
			cs.Responses[topic] = state.Sentiment{Interested: r.Interested}
		}
	}
	return cs
}

// StateUpdate replaces the client's conversation state wholesale.
type StateUpdate struct {
	Type  string       `json:"type"` // "state_update"
	State StatePayload `json:"state"`
}

func (m StateUpdate) MessageType() string { return TypeStateUpdate }

// UserTranscript carries recognized user speech. Final defaults to true when
// absent on the wire.
type UserTranscript struct {
	Type  string `json:"type"` // "user_transcript"
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (m UserTranscript) MessageType() string { return TypeUserTranscript }

// AgentTranscript carries one complete agent utterance.
type AgentTranscript struct {
	Type string `json:"type"` // "agent_transcript"
	Text string `json:"text"`
}

func (m AgentTranscript) MessageType() string { return TypeAgentTranscript }

// AgentSpeakingStarted marks the start of agent voice output.
type AgentSpeakingStarted struct {
	Type string `json:"type"` // "agent_speaking_started"
}

func (m AgentSpeakingStarted) MessageType() string { return TypeAgentSpeakingStart }

// AgentSpeakingStopped marks the end of agent voice output.
type AgentSpeakingStopped struct {
	Type string `json:"type"` // "agent_speaking_stopped"
}

func (m AgentSpeakingStopped) MessageType() string { return TypeAgentSpeakingStop }

// UserSpeakingStarted reports server-side voice activity detection, which may
// arrive before any partial transcript text.
type UserSpeakingStarted struct {
	Type string `json:"type"` // "user_speaking_started"
}

func (m UserSpeakingStarted) MessageType() string { return TypeUserSpeakingStarted }

// AgentAudio carries one frame of agent voice PCM (s16le) for playback and
// visualization.
type AgentAudio struct {
	Type string `json:"type"` // "agent_audio"
	Data []byte `json:"data_b64"`
}

func (m AgentAudio) MessageType() string { return TypeAgentAudio }

// ServerError reports a server-side fault on the session.
type ServerError struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m ServerError) MessageType() string { return TypeError }

// DecodeServerMessage deserializes one server-to-client frame.
//
// Unknown message types return (nil, nil) so callers skip them without
// failing the session. Missing payload fields keep their zero values, except
// user_transcript.final which defaults to true.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var typeHolder struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &typeHolder); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	switch typeHolder.Type {
	case TypeStateUpdate:
		var msg StateUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typeHolder.Type, err)
		}
		return msg, nil
	case TypeUserTranscript:
		var raw struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			Final *bool  `json:"final"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typeHolder.Type, err)
		}
		msg := UserTranscript{Type: raw.Type, Text: raw.Text, Final: true}
		if raw.Final != nil {
			msg.Final = *raw.Final
		}
		return msg, nil
	case TypeAgentTranscript:
		var msg AgentTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typeHolder.Type, err)
		}
		return msg, nil
	case TypeAgentSpeakingStart:
		return AgentSpeakingStarted{Type: typeHolder.Type}, nil
	case TypeAgentSpeakingStop:
		return AgentSpeakingStopped{Type: typeHolder.Type}, nil
	case TypeUserSpeakingStarted:
		return UserSpeakingStarted{Type: typeHolder.Type}, nil
	case TypeAgentAudio:
		var msg AgentAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typeHolder.Type, err)
		}
		return msg, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typeHolder.Type, err)
		}
		return msg, nil
	default:
		return nil, nil
	}
}
