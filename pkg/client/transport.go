package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const defaultConnectTimeout = 15 * time.Second

// Transport establishes one session channel connection. The production
// implementation is WebsocketTransport; tests substitute fakes.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketTransport starts a session against the gateway's HTTP API and
// dials the websocket URL the gateway hands back.
type WebsocketTransport struct {
	// BaseURL is the gateway HTTP base, for example "http://localhost:8087".
	BaseURL string

	// HTTPClient is used for the start request. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// ConnectTimeout bounds the start request plus the websocket dial when
	// the caller's context has no deadline. Default: 15s.
	ConnectTimeout time.Duration
}

type startResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

// Dial starts a session and opens its websocket. The start request is
// idempotent on the gateway side; no session parameters are required.
func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	wsURL, err := t.startSession(ctx)
	if err != nil {
		return nil, err
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed (status %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", wsURL, err)
	}
	return conn, nil
}

func (t *WebsocketTransport) startSession(ctx context.Context) (string, error) {
	httpClient := t.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/api/start", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read start response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("start session: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var start startResponse
	if err := json.Unmarshal(body, &start); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if start.WSURL == "" {
		return "", fmt.Errorf("start response missing ws_url")
	}
	return start.WSURL, nil
}
