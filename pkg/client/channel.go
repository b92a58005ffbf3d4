// Package client implements the duplex session channel and the connection
// lifecycle manager that owns it.
package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/protocol"
)

// Conn is the subset of a websocket connection the channel needs. It is
// satisfied by *websocket.Conn and by test fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Channel is one live duplex session: decoded server messages flow out of
// Events(), and outbound frames are serialized through a single write lock.
type Channel struct {
	conn Conn

	events chan protocol.ServerMessage
	done   chan struct{}

	seq     uint64
	dropped atomic.Uint64

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func newChannel(conn Conn) *Channel {
	ch := &Channel{
		conn:   conn,
		events: make(chan protocol.ServerMessage, 256),
		done:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

// Events yields decoded server messages. The channel is closed when the
// session ends.
func (c *Channel) Events() <-chan protocol.ServerMessage {
	if c == nil {
		return nil
	}
	return c.events
}

// Done is closed when the read loop has exited.
func (c *Channel) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// SendAudioFrame sends one frame of microphone PCM. The sequence number is
// assigned internally and increases monotonically for the session.
func (c *Channel) SendAudioFrame(pcm []byte) error {
	if c == nil {
		return fmt.Errorf("channel must not be nil")
	}
	frame := protocol.AudioFrame{
		Type: protocol.TypeAudioFrame,
		Seq:  atomic.AddUint64(&c.seq, 1),
		Data: pcm,
	}
	return c.sendJSON(frame)
}

// SendText sends a discrete typed utterance.
func (c *Channel) SendText(text string) error {
	if c == nil {
		return fmt.Errorf("channel must not be nil")
	}
	return c.sendJSON(protocol.TextInput{Type: protocol.TypeTextInput, Text: text})
}

// EndSession requests a graceful session shutdown.
func (c *Channel) EndSession() error {
	if c == nil {
		return fmt.Errorf("channel must not be nil")
	}
	return c.sendJSON(protocol.Control{Type: protocol.TypeControl, Op: protocol.OpEndSession})
}

func (c *Channel) sendJSON(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("session channel is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Close closes the session channel and waits for the read loop to exit.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Err returns the terminal session error, if any, once the session ends.
func (c *Channel) Err() error {
	if c == nil {
		return nil
	}
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			// Unparseable frame; skip it rather than ending the session.
			continue
		}
		if msg == nil {
			continue
		}
		c.emit(msg)
	}
}

func (c *Channel) emit(msg protocol.ServerMessage) {
	select {
	case c.events <- msg:
	default:
		// Avoid deadlocking the read loop if the consumer stalls.
		c.dropped.Add(1)
	}
}

// Dropped reports how many decoded messages were discarded because the
// events buffer was full, which indicates a stalled consumer.
func (c *Channel) Dropped() uint64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}
