package flow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/voicewire/voicewire/pkg/protocol"
)

// Node names carried in state snapshots.
const (
	NodeInitial   = "initial"
	NodeQuestions = "questions"
)

// Phrases that navigate regardless of the current node.
var (
	backPhrases = []string{"go back", "back to topics", "other topics", "main menu"}
	exitPhrases = []string{"exit", "quit", "goodbye", "bye", "that's all", "that is all"}
)

// Turn is the engine's reaction to one user utterance.
type Turn struct {
	// Reply is the agent's scripted response.
	Reply string

	// Snapshot is the state to broadcast, present only when state changed
	// since the last emitted snapshot.
	Snapshot *protocol.StatePayload

	// Ended reports that the user asked to end the session.
	Ended bool
}

// Engine walks a conversation through the catalog. Each connection gets a
// fresh engine, so all progress resets on reconnect. Not safe for concurrent
// use; the owning session serializes calls.
type Engine struct {
	catalog Catalog

	node          string
	discussed     []string
	responses     map[string]protocol.ResponseRecord
	currentTopics []string

	lastSent *protocol.StatePayload
}

// NewEngine creates an engine positioned at the initial node.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{
		catalog:   catalog,
		node:      NodeInitial,
		responses: make(map[string]protocol.ResponseRecord),
	}
}

// Greeting returns the opening agent line.
func (e *Engine) Greeting() string {
	if e.catalog.Greeting != "" {
		return e.catalog.Greeting
	}
	return "Welcome! What would you like to know?"
}

// InitialSnapshot returns the first snapshot for a fresh connection and
// records it as sent.
func (e *Engine) InitialSnapshot() protocol.StatePayload {
	snap := e.snapshot()
	e.lastSent = &snap
	return snap
}

// HandleUtterance advances the flow on one final user utterance and returns
// the agent's reaction.
func (e *Engine) HandleUtterance(text string) Turn {
	lowered := strings.ToLower(text)

	if containsAny(lowered, exitPhrases) {
		return Turn{Reply: e.farewell(), Snapshot: e.snapshotIfChanged(), Ended: true}
	}
	if containsAny(lowered, backPhrases) {
		e.node = NodeInitial
		e.currentTopics = nil
		return Turn{Reply: e.Greeting(), Snapshot: e.snapshotIfChanged()}
	}

	if topic, ok := e.matchTopic(lowered); ok {
		e.recordInterest(topic.ID)
		return Turn{Reply: topic.Script, Snapshot: e.snapshotIfChanged()}
	}

	return Turn{Reply: e.fallback(), Snapshot: e.snapshotIfChanged()}
}

// recordInterest marks a topic discussed and moves to the questions node with
// that topic current.
func (e *Engine) recordInterest(id string) {
	if !contains(e.discussed, id) {
		e.discussed = append(e.discussed, id)
	}
	e.responses[id] = protocol.ResponseRecord{Interested: true}
	e.node = NodeQuestions
	e.currentTopics = []string{id}
}

func (e *Engine) matchTopic(lowered string) (Topic, bool) {
	for _, topic := range e.catalog.Topics {
		for _, kw := range topic.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return topic, true
			}
		}
	}
	return Topic{}, false
}

func (e *Engine) fallback() string {
	if e.catalog.Fallback != "" {
		return e.catalog.Fallback
	}
	return "I can help with " + strings.Join(e.remaining(), ", ") + ". Which one?"
}

func (e *Engine) farewell() string {
	if e.catalog.Farewell != "" {
		return e.catalog.Farewell
	}
	return "Thanks for the conversation. Goodbye!"
}

func (e *Engine) remaining() []string {
	out := make([]string, 0, len(e.catalog.Topics))
	for _, t := range e.catalog.Topics {
		if !contains(e.discussed, t.ID) {
			out = append(out, t.ID)
		}
	}
	return out
}

// snapshot builds the current state payload.
func (e *Engine) snapshot() protocol.StatePayload {
	responses := make(map[string]protocol.ResponseRecord, len(e.responses))
	for k, v := range e.responses {
		responses[k] = v
	}
	return protocol.StatePayload{
		AllTopics:       e.catalog.TopicIDs(),
		DiscussedTopics: append([]string{}, e.discussed...),
		Responses:       responses,
		RemainingTopics: e.remaining(),
		CurrentTopics:   append([]string{}, e.currentTopics...),
		CurrentNode:     e.node,
		Progress:        fmt.Sprintf("%d/%d", len(e.discussed), len(e.catalog.Topics)),
	}
}

// snapshotIfChanged returns the current snapshot only when it differs from
// the last one handed out, so clients are not flooded with identical state.
func (e *Engine) snapshotIfChanged() *protocol.StatePayload {
	snap := e.snapshot()
	if e.lastSent != nil && reflect.DeepEqual(*e.lastSent, snap) {
		return nil
	}
	e.lastSent = &snap
	return &snap
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
