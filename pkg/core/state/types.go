package state

import "time"

// Speaker identifies which side of the conversation produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptEntry is one finalized utterance in the conversation history.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Sentiment records the user's reaction to a topic.
type Sentiment struct {
	Interested bool `json:"interested"`
}

// NodeInitial is the flow node every session starts in. Unknown node names
// from the wire are coerced to it rather than rejected.
const NodeInitial = "initial"

// NodeQuestions is the flow node for topic Q&A.
const NodeQuestions = "questions"

// ConversationState is the client-side view of the remote flow engine's
// progress. It is replaced wholesale on every state snapshot, never mutated
// in place.
type ConversationState struct {
	// AllTopics is the full topic catalog, static for a session.
	AllTopics []string `json:"all_topics"`

	// DiscussedTopics are topics already covered, in the order they were
	// discussed. Always a subset of AllTopics.
	DiscussedTopics []string `json:"discussed_topics"`

	// Responses maps topic id to the recorded sentiment. Keys are always a
	// subset of AllTopics.
	Responses map[string]Sentiment `json:"responses"`

	// RemainingTopics and CurrentTopics reflect what the flow engine
	// currently considers pending / in focus.
	RemainingTopics []string `json:"remaining_topics"`
	CurrentTopics   []string `json:"current_topics"`

	// CurrentNode is the active flow node ("initial", "questions").
	CurrentNode string `json:"current_node"`

	// Progress is a display fraction like "1/3". Advisory only.
	Progress string `json:"progress"`
}

// InteractionMode is the derived three-state indicator used for theming.
type InteractionMode int

const (
	// ModeIdle means nobody is mid-turn.
	ModeIdle InteractionMode = iota
	// ModeListening means the user is speaking.
	ModeListening
	// ModeThinking means the user stopped and the agent has not replied yet.
	ModeThinking
)

// String returns a human-readable mode name.
func (m InteractionMode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeListening:
		return "LISTENING"
	case ModeThinking:
		return "THINKING"
	default:
		return "UNKNOWN"
	}
}

// StreamingUtterance is the transient in-flight user utterance: partial text
// plus a speaking flag. At most one exists; it is cleared on finalization,
// disconnect, or silence timeout.
type StreamingUtterance struct {
	Text     string `json:"text"`
	Speaking bool   `json:"speaking"`
}
