package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/voicewire/voicewire/pkg/gateway/flow"
	"github.com/voicewire/voicewire/pkg/gateway/metrics"
	"github.com/voicewire/voicewire/pkg/protocol"
)

// Config holds per-session tunables.
type Config struct {
	MaxAudioFrameBytes int
	MaxAudioFPS        float64
	AudioBurstFrames   int

	SpeechStartThreshold float64
	SpeechStopThreshold  float64
	SpeechStopDuration   time.Duration

	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Session drives one client connection: it greets, decodes client frames
// strictly, detects speech edges on inbound audio, and runs the flow engine
// on each completed user turn.
type Session struct {
	id      string
	conn    Conn
	cfg     Config
	logger  *slog.Logger
	engine  *flow.Engine
	metrics *metrics.Metrics

	writer   *writer
	limiter  *rate.Limiter
	detector *speechDetector

	cancel context.CancelFunc
}

// New creates a session. Each connection gets a fresh flow engine, so all
// conversation progress resets when the client reconnects.
func New(id string, conn Conn, engine *flow.Engine, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	fps := cfg.MaxAudioFPS
	if fps <= 0 {
		fps = 120
	}
	burst := cfg.AudioBurstFrames
	if burst <= 0 {
		burst = int(fps * 2)
	}
	return &Session{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		logger:   logger.With("session_id", id),
		engine:   engine,
		metrics:  m,
		writer:   newWriter(conn, cfg.WriteTimeout, cfg.PingInterval),
		limiter:  rate.NewLimiter(rate.Limit(fps), burst),
		detector: newSpeechDetector(cfg.SpeechStartThreshold, cfg.SpeechStopThreshold, cfg.SpeechStopDuration),
	}
}

// Cancel requests session teardown. Safe to call from any goroutine.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NotifyError pushes a server error message to the client.
func (s *Session) NotifyError(code, message string) error {
	return s.send(protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message})
}

// Run owns the connection until the client leaves, the context ends, or the
// conversation is over. It always closes the connection before returning.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	writerDone := make(chan error, 1)
	go func() { writerDone <- s.writer.run(ctx) }()

	s.greet()
	err := s.readLoop(ctx)

	// Let the writer flush the close frame and shut the connection.
	cancel()
	if werr := <-writerDone; werr != nil && err == nil {
		err = werr
	}
	return err
}

// greet sends the fresh-connection opening: the initial state snapshot and
// the scripted greeting as a full agent turn.
func (s *Session) greet() {
	snap := s.engine.InitialSnapshot()
	s.sendSnapshot(snap)
	s.speakReply(s.engine.Greeting())
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			if s.metrics != nil {
				s.metrics.DecodeFailures.Inc()
			}
			s.logger.Warn("rejected client frame", "error", err)
			_ = s.NotifyError("bad_request", err.Error())
			continue
		}

		switch msg := msg.(type) {
		case protocol.AudioFrame:
			s.handleAudioFrame(msg)
		case protocol.TextInput:
			if done := s.handleUtterance(msg.Text); done {
				return nil
			}
		case protocol.Control:
			if msg.Op == protocol.OpEndSession {
				s.logger.Info("client ended session")
				return nil
			}
		}
	}
}

func (s *Session) handleAudioFrame(frame protocol.AudioFrame) {
	if s.metrics != nil {
		s.metrics.FramesTotal.WithLabelValues(protocol.TypeAudioFrame).Inc()
	}
	if s.cfg.MaxAudioFrameBytes > 0 && len(frame.Data) > s.cfg.MaxAudioFrameBytes {
		if s.metrics != nil {
			s.metrics.FramesDropped.WithLabelValues("oversized").Inc()
		}
		return
	}
	if !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
		}
		return
	}
	if s.detector.process(frame.Data) {
		s.send(protocol.UserSpeakingStarted{Type: protocol.TypeUserSpeakingStarted})
	}
}

// handleUtterance runs one completed user turn through the flow engine.
// Returns true when the conversation ended.
func (s *Session) handleUtterance(text string) bool {
	if s.metrics != nil {
		s.metrics.FramesTotal.WithLabelValues(protocol.TypeTextInput).Inc()
	}

	// Echo the typed utterance back as its transcript, partial then final,
	// so the client walks the same store path as recognized speech.
	s.send(protocol.UserTranscript{Type: protocol.TypeUserTranscript, Text: text, Final: false})
	s.send(protocol.UserTranscript{Type: protocol.TypeUserTranscript, Text: text, Final: true})

	turn := s.engine.HandleUtterance(text)
	if turn.Snapshot != nil {
		s.sendSnapshot(*turn.Snapshot)
	}
	s.speakReply(turn.Reply)

	if turn.Ended {
		s.logger.Info("conversation ended by user")
		return true
	}
	return false
}

// speakReply emits one full agent turn: speaking marker, transcript, voice
// frames, then the stop marker.
func (s *Session) speakReply(text string) {
	if text == "" {
		return
	}
	s.send(protocol.AgentSpeakingStarted{Type: protocol.TypeAgentSpeakingStart})
	s.send(protocol.AgentTranscript{Type: protocol.TypeAgentTranscript, Text: text})
	for _, pcm := range agentVoiceFrames(replyVoiceDuration(text)) {
		s.send(protocol.AgentAudio{Type: protocol.TypeAgentAudio, Data: pcm})
	}
	s.send(protocol.AgentSpeakingStopped{Type: protocol.TypeAgentSpeakingStop})
}

func (s *Session) sendSnapshot(snap protocol.StatePayload) {
	s.send(protocol.StateUpdate{Type: protocol.TypeStateUpdate, State: snap})
}

func (s *Session) send(msg protocol.ServerMessage) error {
	err := s.writer.send(msg)
	if err != nil {
		s.logger.Warn("dropping outbound message", "type", msg.MessageType(), "error", err)
		return err
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(msg.MessageType()).Inc()
	}
	return nil
}
