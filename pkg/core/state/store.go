package state

import (
	"sync"
	"time"
)

// Store maintains the authoritative client-side view of conversation progress
// and transcript history from an inbound stream of typed protocol events.
//
// All mutation happens through the Apply*/Handle* methods, which are
// serialized by an internal mutex: each event is fully applied before the
// next is processed. Readers receive copies and may run concurrently.
type Store struct {
	config Config

	mu            sync.Mutex
	conversation  ConversationState
	transcript    []TranscriptEntry
	streaming     StreamingUtterance
	agentSpeaking bool
	mode          InteractionMode
	silenceTimer  *time.Timer
	silenceGen    uint64
	closed        bool

	now func() time.Time
}

// NewStore creates a conversation store.
func NewStore(config Config) *Store {
	return &Store{
		config:       config.withDefaults(),
		conversation: defaultConversationState(),
		now:          time.Now,
	}
}

func defaultConversationState() ConversationState {
	return ConversationState{
		AllTopics:       []string{},
		DiscussedTopics: []string{},
		Responses:       map[string]Sentiment{},
		RemainingTopics: []string{},
		CurrentTopics:   []string{},
		CurrentNode:     NodeInitial,
	}
}

// ApplyStateUpdate replaces the conversation state wholesale from a snapshot.
// Missing fields fall back to safe defaults and entries that violate the
// catalog invariants (discussed or responded topics not present in AllTopics)
// are filtered out rather than failing the whole event.
func (s *Store) ApplyStateUpdate(next ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.AllTopics == nil {
		next.AllTopics = []string{}
	}
	known := make(map[string]struct{}, len(next.AllTopics))
	for _, t := range next.AllTopics {
		known[t] = struct{}{}
	}

	discussed := make([]string, 0, len(next.DiscussedTopics))
	for _, t := range next.DiscussedTopics {
		if _, ok := known[t]; ok {
			discussed = append(discussed, t)
		}
	}
	next.DiscussedTopics = discussed

	responses := make(map[string]Sentiment, len(next.Responses))
	for t, r := range next.Responses {
		if _, ok := known[t]; ok {
			responses[t] = r
		}
	}
	next.Responses = responses

	if next.RemainingTopics == nil {
		next.RemainingTopics = []string{}
	}
	if next.CurrentTopics == nil {
		next.CurrentTopics = []string{}
	}
	switch next.CurrentNode {
	case NodeInitial, NodeQuestions:
	default:
		next.CurrentNode = NodeInitial
	}

	s.conversation = next
}

// ApplyUserTranscript handles a user transcript event. Non-final text updates
// the streaming utterance and marks the user as speaking; final text appends
// to history (idempotent against a duplicate of the most recent user entry)
// and clears the streaming state.
func (s *Store) ApplyUserTranscript(text string, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !final {
		s.streaming.Text = text
		s.setUserSpeakingLocked(true)
		s.armSilenceTimerLocked()
		return
	}

	s.appendEntryLocked(SpeakerUser, text)
	s.stopSilenceTimerLocked()
	s.setUserSpeakingLocked(false)
	s.streaming = StreamingUtterance{}
}

// ApplyAgentTranscript appends an agent utterance to history, deduplicated
// against the most recent agent entry only.
func (s *Store) ApplyAgentTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendEntryLocked(SpeakerAgent, text) && s.mode == ModeThinking {
		s.mode = ModeIdle
	}
}

// ApplyAgentSpeaking updates the agent speaking flag. Theming only; it does
// not touch transcript history.
func (s *Store) ApplyAgentSpeaking(speaking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSpeaking = speaking
}

// ApplyUserSpeakingStarted marks the user as speaking independent of any
// transcript event. Covers voice activity detected before partial text.
func (s *Store) ApplyUserSpeakingStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setUserSpeakingLocked(true)
	s.armSilenceTimerLocked()
}

// HandleConnected resets the store to fresh-session defaults. Called by the
// connection manager before a new session reaches ready so the UI never shows
// the prior session's transcript.
func (s *Store) HandleConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = nil
	s.streaming = StreamingUtterance{}
	s.agentSpeaking = false
	s.mode = ModeIdle
	s.stopSilenceTimerLocked()
}

// HandleDisconnected clears transient speaking state. Transcript history is
// preserved until the next connect.
func (s *Store) HandleDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streaming = StreamingUtterance{}
	s.agentSpeaking = false
	s.stopSilenceTimerLocked()
}

// Close stops the silence guard. The store remains readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopSilenceTimerLocked()
}

// appendEntryLocked appends unless the most recent entry from the same
// speaker carries identical text. Returns true if an entry was appended.
func (s *Store) appendEntryLocked(speaker Speaker, text string) bool {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Speaker != speaker {
			continue
		}
		if s.transcript[i].Text == text {
			return false
		}
		break
	}
	s.transcript = append(s.transcript, TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: s.now(),
	})
	return true
}

// setUserSpeakingLocked drives the interaction-mode machine off speaking
// edges: rising edge -> listening, falling edge -> thinking.
func (s *Store) setUserSpeakingLocked(speaking bool) {
	if speaking == s.streaming.Speaking {
		s.streaming.Speaking = speaking
		return
	}
	s.streaming.Speaking = speaking
	if speaking {
		s.mode = ModeListening
	} else {
		s.mode = ModeThinking
	}
}

// armSilenceTimerLocked (re)starts the stuck-speaking guard. Any partial
// transcript counts as activity, so the guard only fires after a window with
// no user events at all while the speaking flag is set. The generation
// counter invalidates a timer that already fired but lost the mutex race
// against a re-arm; Timer.Stop cannot catch that one.
func (s *Store) armSilenceTimerLocked() {
	if s.closed {
		return
	}
	s.stopSilenceTimerLocked()
	gen := s.silenceGen
	s.silenceTimer = time.AfterFunc(s.config.SilenceTimeout, func() { s.silenceExpired(gen) })
}

func (s *Store) stopSilenceTimerLocked() {
	s.silenceGen++
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
}

// silenceExpired synthesizes a final transcript from the last seen partial
// text. Guards against a dropped finalization event wedging the speaking
// indicator forever.
func (s *Store) silenceExpired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.streaming.Speaking || gen != s.silenceGen {
		return
	}
	if s.streaming.Text != "" {
		s.appendEntryLocked(SpeakerUser, s.streaming.Text)
	}
	s.silenceTimer = nil
	s.setUserSpeakingLocked(false)
	s.streaming = StreamingUtterance{}
}

// Conversation returns a copy of the current conversation state.
func (s *Store) Conversation() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversation
	c.AllTopics = append([]string(nil), c.AllTopics...)
	c.DiscussedTopics = append([]string(nil), c.DiscussedTopics...)
	c.RemainingTopics = append([]string(nil), c.RemainingTopics...)
	c.CurrentTopics = append([]string(nil), c.CurrentTopics...)
	responses := make(map[string]Sentiment, len(c.Responses))
	for t, r := range c.Responses {
		responses[t] = r
	}
	c.Responses = responses
	return c
}

// Transcript returns a copy of the finalized transcript history.
func (s *Store) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranscriptEntry(nil), s.transcript...)
}

// Streaming returns the in-flight user utterance.
func (s *Store) Streaming() StreamingUtterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// AgentSpeaking reports whether the agent is currently speaking.
func (s *Store) AgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSpeaking
}

// Mode returns the derived interaction mode.
func (s *Store) Mode() InteractionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}
