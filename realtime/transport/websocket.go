package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseError carries the WebSocket close code so the session can tell
// an expected closure (1000, 1001) from an abnormal one.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed with code %d: %s", e.Code, e.Reason)
}

func (e *CloseError) CloseCode() int {
	return e.Code
}

// WebSocket dials a JSON-text WebSocket endpoint. Each Connect opens a
// fresh underlying connection, so one value serves a session across
// reconnect cycles.
type WebSocket struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	url          string
	dialer       *websocket.Dialer
	headers      http.Header
	connected    bool
	writeTimeout time.Duration
}

type Option func(*WebSocket)

func WithHeaders(headers http.Header) Option {
	return func(t *WebSocket) {
		t.headers = headers
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(t *WebSocket) {
		t.writeTimeout = timeout
	}
}

func NewWebSocket(url string, opts ...Option) *WebSocket {
	t := &WebSocket{
		url:          url,
		dialer:       websocket.DefaultDialer,
		headers:      make(http.Header),
		writeTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		return err
	}

	t.conn = conn
	t.connected = true

	return nil
}

func (t *WebSocket) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return errors.New("not connected")
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocket) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return nil, errors.New("not connected")
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return nil, err
	}

	return message, nil
}

func (t *WebSocket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	// best-effort close handshake before tearing the connection down
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := t.conn.Close()
	t.connected = false
	t.conn = nil

	return err
}
