package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/core/state"
	"github.com/voicewire/voicewire/pkg/protocol"
)

// ChannelState is the lifecycle state of the managed session channel.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateReady
	StateClosing
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrConnectInFlight is returned by Connect while another connect attempt is
// still pending. Exactly one attempt runs at a time; concurrent calls are
// rejected rather than allowed to race two transport sessions.
var ErrConnectInFlight = errors.New("connect already in flight")

// ErrClosed is returned by Connect after the manager has been closed.
var ErrClosed = errors.New("lifecycle manager is closed")

const defaultSettleDelay = 500 * time.Millisecond

// Config configures a lifecycle Manager.
type Config struct {
	Transport Transport
	Store     *state.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// SettleDelay is the pause between an orderly disconnect and the next
	// connect attempt during reconnect. The transport has observed races
	// when a new session starts before the old one's teardown fully lands.
	// Default: 500ms.
	SettleDelay time.Duration

	// OnAgentAudio receives inbound agent voice PCM for playback and
	// visualization. Called from the event pump goroutine.
	OnAgentAudio func(pcm []byte)

	// OnServerError receives server-reported session faults.
	OnServerError func(code, message string)
}

// Manager owns the session channel lifecycle: disconnected → connecting →
// ready → disconnected, with ready → connecting on deliberate reconnect. It
// pumps inbound messages into the conversation store.
type Manager struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	state    ChannelState
	channel  *Channel
	pumpDone chan struct{}
	inFlight bool
	closed   bool
}

// NewManager creates a manager in the disconnected state.
func NewManager(config Config) *Manager {
	if config.SettleDelay <= 0 {
		config.SettleDelay = defaultSettleDelay
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{config: config, logger: logger}
}

// State returns the current lifecycle state.
func (m *Manager) State() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Channel returns the active session channel, or nil when not ready.
func (m *Manager) Channel() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Connect establishes a session. If a session is already up (or partially
// up), it is torn down first and the settle delay observed before the new
// attempt, so the old session's teardown lands before the new one starts.
// The store is reset to its connected defaults before the state reaches
// ready, so readers never observe the prior session's transcript.
//
// Returns ErrConnectInFlight if another Connect is pending.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.inFlight {
		m.mu.Unlock()
		return ErrConnectInFlight
	}
	m.inFlight = true
	prior := m.channel
	priorPumpDone := m.pumpDone
	m.channel = nil
	m.pumpDone = nil
	needsSettle := prior != nil || m.state != StateDisconnected
	m.state = StateConnecting
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	if prior != nil {
		// Disconnect failures must not block the new attempt.
		if err := prior.Close(); err != nil {
			m.logger.Warn("orderly disconnect failed", "error", err)
		}
		// The old pump must be fully drained before the store resets, or a
		// buffered message from the prior session lands in the fresh one.
		if priorPumpDone != nil {
			<-priorPumpDone
		}
		if m.config.Store != nil {
			m.config.Store.HandleDisconnected()
		}
	}
	if needsSettle {
		if err := sleepContext(ctx, m.config.SettleDelay); err != nil {
			m.setState(StateDisconnected)
			return err
		}
	}

	conn, err := m.config.Transport.Dial(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}

	if m.config.Store != nil {
		m.config.Store.HandleConnected()
	}

	ch := newChannel(conn)

	m.mu.Lock()
	if m.closed {
		m.state = StateDisconnected
		m.mu.Unlock()
		_ = ch.Close()
		return ErrClosed
	}
	pumpDone := make(chan struct{})
	m.channel = ch
	m.pumpDone = pumpDone
	m.state = StateReady
	m.mu.Unlock()

	go m.pump(ch, pumpDone)
	return nil
}

// Disconnect tears down the active session, if any, and settles to the
// disconnected state. Transcript history in the store is preserved until the
// next connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	prior := m.channel
	priorPumpDone := m.pumpDone
	m.channel = nil
	m.pumpDone = nil
	if prior != nil {
		m.state = StateClosing
	}
	m.mu.Unlock()

	var err error
	if prior != nil {
		err = prior.Close()
	}
	if priorPumpDone != nil {
		<-priorPumpDone
	}
	if m.config.Store != nil {
		m.config.Store.HandleDisconnected()
	}
	m.setState(StateDisconnected)
	return err
}

// Close disconnects and permanently shuts the manager down.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Disconnect()
}

func (m *Manager) setState(s ChannelState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// pump applies inbound messages to the store until the channel ends. Each
// message is fully applied before the next is read; no reordering, no
// interleaved partial application. Once the channel is superseded the
// remaining buffered messages are drained without being applied.
func (m *Manager) pump(ch *Channel, done chan struct{}) {
	defer close(done)

	for msg := range ch.Events() {
		m.mu.Lock()
		current := m.channel == ch
		m.mu.Unlock()
		if !current {
			continue
		}
		m.apply(msg)
	}

	if n := ch.Dropped(); n > 0 {
		m.logger.Warn("inbound events dropped on full buffer", "count", n)
	}

	m.mu.Lock()
	wasCurrent := m.channel == ch
	if wasCurrent {
		m.channel = nil
		m.pumpDone = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if wasCurrent {
		if m.config.Store != nil {
			m.config.Store.HandleDisconnected()
		}
		if err := ch.Err(); err != nil {
			m.logger.Warn("session ended", "error", err)
		}
	}
}

func (m *Manager) apply(msg protocol.ServerMessage) {
	store := m.config.Store
	switch msg := msg.(type) {
	case protocol.StateUpdate:
		if store != nil {
			store.ApplyStateUpdate(msg.State.Conversation())
		}
	case protocol.UserTranscript:
		if store != nil {
			store.ApplyUserTranscript(msg.Text, msg.Final)
		}
	case protocol.AgentTranscript:
		if store != nil {
			store.ApplyAgentTranscript(msg.Text)
		}
	case protocol.AgentSpeakingStarted:
		if store != nil {
			store.ApplyAgentSpeaking(true)
		}
	case protocol.AgentSpeakingStopped:
		if store != nil {
			store.ApplyAgentSpeaking(false)
		}
	case protocol.UserSpeakingStarted:
		if store != nil {
			store.ApplyUserSpeakingStarted()
		}
	case protocol.AgentAudio:
		if m.config.OnAgentAudio != nil {
			m.config.OnAgentAudio(msg.Data)
		}
	case protocol.ServerError:
		m.logger.Warn("server error", "code", msg.Code, "message", msg.Message)
		if m.config.OnServerError != nil {
			m.config.OnServerError(msg.Code, msg.Message)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
