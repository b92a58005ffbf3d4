// Package session implements one gateway connection: strict inbound decode,
// rate limiting, speech edge detection, and the scripted agent turn loop.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/protocol"
)

// Conn is the subset of a websocket connection the session needs. Satisfied
// by *websocket.Conn and by test fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// writer serializes all outbound frames for one connection through a single
// goroutine, so the agent turn loop and shutdown notifications never
// interleave writes.
type writer struct {
	conn         Conn
	writeTimeout time.Duration
	pingInterval time.Duration

	out chan []byte
}

func newWriter(conn Conn, writeTimeout, pingInterval time.Duration) *writer {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &writer{
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		out:          make(chan []byte, 256),
	}
}

// send marshals and queues one server message. Returns an error when the
// outbound queue is full, which indicates a stalled client.
func (w *writer) send(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	select {
	case w.out <- data:
		return nil
	default:
		return fmt.Errorf("outbound queue full, dropping %s", msg.MessageType())
	}
}

// run writes queued frames until the context ends or a write fails. On
// context end it sends a close frame and closes the connection, which also
// unblocks the session's read loop.
func (w *writer) run(ctx context.Context) error {
	pingTicker := time.NewTicker(w.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(w.writeTimeout)
			_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = w.conn.Close()
			return nil
		case data := <-w.out:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = w.conn.Close()
				return err
			}
		case <-pingTicker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				_ = w.conn.Close()
				return err
			}
		}
	}
}
