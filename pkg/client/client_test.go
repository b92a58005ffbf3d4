package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/core/state"
	"github.com/voicewire/voicewire/pkg/protocol"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) push(frame string) { f.inbound <- []byte(frame) }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		if f.onClose != nil {
			f.onClose()
		}
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials []time.Time

	dialErr   error
	dialEnter chan struct{} // signaled on dial entry, when non-nil
	dialGate  chan struct{} // dial blocks on this, when non-nil
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	if t.dialEnter != nil {
		t.dialEnter <- struct{}{}
	}
	if t.dialGate != nil {
		select {
		case <-t.dialGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials = append(t.dials, time.Now())
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannelDecodesAndEmits(t *testing.T) {
	conn := newFakeConn()
	ch := newChannel(conn)
	defer ch.Close()

	conn.push(`{"type":"agent_transcript","text":"hello"}`)

	select {
	case msg := <-ch.Events():
		at, ok := msg.(protocol.AgentTranscript)
		if !ok {
			t.Fatalf("decoded %T", msg)
		}
		if at.Text != "hello" {
			t.Errorf("text = %q", at.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}
}

func TestChannelSkipsUnknownAndMalformedFrames(t *testing.T) {
	conn := newFakeConn()
	ch := newChannel(conn)
	defer ch.Close()

	conn.push(`{"type":`)
	conn.push(`{"type":"future_feature"}`)
	conn.push(`{"type":"agent_transcript","text":"still here"}`)

	select {
	case msg := <-ch.Events():
		if at, ok := msg.(protocol.AgentTranscript); !ok || at.Text != "still here" {
			t.Fatalf("got %#v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not survive malformed frames")
	}
}

func TestChannelSendAudioFrameSequencing(t *testing.T) {
	conn := newFakeConn()
	ch := newChannel(conn)
	defer ch.Close()

	if err := ch.SendAudioFrame([]byte{0, 0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ch.SendAudioFrame([]byte{0, 0}); err != nil {
		t.Fatalf("send: %v", err)
	}

	frames := conn.writtenFrames()
	if len(frames) != 2 {
		t.Fatalf("wrote %d frames", len(frames))
	}
	for i, raw := range frames {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Seq != uint64(i+1) {
			t.Errorf("frame %d seq = %d", i, frame.Seq)
		}
		if frame.Type != protocol.TypeAudioFrame {
			t.Errorf("frame %d type = %q", i, frame.Type)
		}
	}
}

func TestChannelSendAfterClose(t *testing.T) {
	conn := newFakeConn()
	ch := newChannel(conn)
	ch.Close()
	ch.Close() // idempotent

	if err := ch.SendText("hi"); err == nil {
		t.Fatal("send after close must fail")
	}
}

func TestConnectReachesReadyAndResetsStore(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	store.ApplyAgentTranscript("stale from last session")

	transport := &fakeTransport{}
	m := NewManager(Config{Transport: transport, Store: store, SettleDelay: time.Millisecond})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := m.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
	if entries := store.Transcript(); len(entries) != 0 {
		t.Errorf("transcript not reset: %v", entries)
	}
	if m.Channel() == nil {
		t.Error("no active channel while ready")
	}
}

func TestConnectSingleFlight(t *testing.T) {
	transport := &fakeTransport{
		dialEnter: make(chan struct{}, 1),
		dialGate:  make(chan struct{}),
	}
	m := NewManager(Config{Transport: transport, SettleDelay: time.Millisecond})
	defer m.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background()) }()
	<-transport.dialEnter

	if err := m.Connect(context.Background()); !errors.Is(err, ErrConnectInFlight) {
		t.Fatalf("concurrent connect error = %v, want ErrConnectInFlight", err)
	}

	close(transport.dialGate)
	if err := <-errCh; err != nil {
		t.Fatalf("first connect: %v", err)
	}
}

func TestReconnectDisconnectsThenSettlesThenDials(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
		times  = map[string]time.Time{}
	)
	record := func(name string) {
		mu.Lock()
		events = append(events, name)
		times[name] = time.Now()
		mu.Unlock()
	}

	settle := 50 * time.Millisecond
	store := state.NewStore(state.DefaultConfig())
	transport := &fakeTransport{}
	m := NewManager(Config{Transport: transport, Store: store, SettleDelay: settle})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	transport.conn(0).onClose = func() { record("close") }
	store.ApplyAgentTranscript("from first session")

	record("reconnect")
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	record("ready")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"reconnect", "close", "ready"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", events, want)
	}
	if gap := times["ready"].Sub(times["close"]); gap < settle {
		t.Errorf("only %v elapsed between disconnect and new session, want >= %v", gap, settle)
	}
	if transport.dialCount() != 2 {
		t.Errorf("dial count = %d, want 2", transport.dialCount())
	}
	if entries := store.Transcript(); len(entries) != 0 {
		t.Errorf("transcript from prior session survived reconnect: %v", entries)
	}
	if got := m.State(); got != StateReady {
		t.Errorf("state = %v, want ready", got)
	}
}

func TestConnectFailureSettlesDisconnected(t *testing.T) {
	transport := &fakeTransport{dialErr: errors.New("gateway unreachable")}
	m := NewManager(Config{Transport: transport, SettleDelay: time.Millisecond})
	defer m.Close()

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("connect must surface transport failure")
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestPumpAppliesMessagesToStore(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	transport := &fakeTransport{}
	m := NewManager(Config{Transport: transport, Store: store, SettleDelay: time.Millisecond})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := transport.conn(0)

	conn.push(`{"type":"user_speaking_started"}`)
	waitFor(t, "listening mode", func() bool { return store.Mode() == state.ModeListening })

	conn.push(`{"type":"user_transcript","text":"tell me more","final":true}`)
	waitFor(t, "user entry", func() bool { return len(store.Transcript()) == 1 })

	conn.push(`{"type":"agent_transcript","text":"sure"}`)
	waitFor(t, "agent entry", func() bool { return len(store.Transcript()) == 2 })
	if store.Mode() != state.ModeIdle {
		t.Errorf("mode = %v after agent reply, want idle", store.Mode())
	}
}

func TestAgentAudioRoutedToCallback(t *testing.T) {
	audio := make(chan []byte, 1)
	transport := &fakeTransport{}
	m := NewManager(Config{
		Transport:    transport,
		SettleDelay:  time.Millisecond,
		OnAgentAudio: func(pcm []byte) { audio <- pcm },
	})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport.conn(0).push(`{"type":"agent_audio","data_b64":"AAD/fw=="}`)

	select {
	case pcm := <-audio:
		if len(pcm) != 4 {
			t.Errorf("pcm length = %d", len(pcm))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent audio never reached callback")
	}
}

func TestRemoteCloseSettlesDisconnected(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	transport := &fakeTransport{}
	m := NewManager(Config{Transport: transport, Store: store, SettleDelay: time.Millisecond})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	store.ApplyAgentTranscript("hello")

	transport.conn(0).Close()
	waitFor(t, "disconnected state", func() bool { return m.State() == StateDisconnected })

	if entries := store.Transcript(); len(entries) != 1 {
		t.Errorf("transcript must survive disconnect, got %v", entries)
	}
}

func TestClosedManagerRejectsConnect(t *testing.T) {
	m := NewManager(Config{Transport: &fakeTransport{}})
	m.Close()
	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("connect after close must fail")
	}
}

func TestReconnectSkipsStaleSessionEvents(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	defer store.Close()

	release := make(chan struct{})
	blocked := make(chan struct{}, 1)
	transport := &fakeTransport{}
	m := NewManager(Config{
		Transport:   transport,
		Store:       store,
		SettleDelay: 10 * time.Millisecond,
		OnAgentAudio: func([]byte) {
			blocked <- struct{}{}
			<-release
		},
	})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := transport.conn(0)

	// Stall the pump mid-apply with a transcript buffered behind it.
	conn.push(`{"type":"agent_audio","data_b64":"AAA="}`)
	<-blocked
	conn.push(`{"type":"agent_transcript","text":"left over from the first session"}`)
	waitFor(t, "buffered transcript", func() bool { return len(conn.inbound) == 0 })

	connectDone := make(chan error, 1)
	go func() { connectDone <- m.Connect(context.Background()) }()

	// The reconnect must not reach ready while the old pump still holds
	// undrained messages.
	select {
	case err := <-connectDone:
		t.Fatalf("connect finished before the prior pump drained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-connectDone; err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %v after reconnect, want ready", m.State())
	}
	if entries := store.Transcript(); len(entries) != 0 {
		t.Fatalf("prior session transcript leaked into the fresh store: %v", entries)
	}
}

func TestChannelCountsDroppedEvents(t *testing.T) {
	conn := newFakeConn()
	ch := newChannel(conn)
	defer ch.Close()

	// Nobody drains Events; everything past the buffer must be counted.
	frames := cap(ch.events) + 5
	for i := 0; i < frames; i++ {
		conn.push(`{"type":"agent_transcript","text":"overflow"}`)
	}
	want := uint64(frames - cap(ch.events))
	waitFor(t, "dropped counter", func() bool { return ch.Dropped() == want })
}
