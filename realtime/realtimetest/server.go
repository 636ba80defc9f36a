// Package realtimetest provides an in-process scripted WebSocket peer
// for exercising sessions against real socket semantics: accept,
// authenticate, push frames and close with chosen codes.
package realtimetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lunance/realtime-go/realtime"
)

type Server struct {
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	authCode int

	// writeMu serializes writers: the handler's auto-acks and test
	// pushes share one connection.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	dials    int
	received []realtime.Envelope
}

type Option func(*Server)

// RejectAuth makes the server answer every authentication frame with
// an error event carrying the given code.
func RejectAuth(code int) Option {
	return func(s *Server) {
		s.authCode = code
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// address clients should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http")
}

func (s *Server) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.httpSrv.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.dials++
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := realtime.Decode(data)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()

		switch env.Event {
		case realtime.EventAuthentication:
			if s.authCode != 0 {
				s.write(conn, realtime.Envelope{
					Event: realtime.EventError,
					Data: map[string]interface{}{
						"code":    s.authCode,
						"message": "authentication failed",
					},
				})
				continue
			}
			s.write(conn, realtime.Envelope{Event: realtime.EventHeartbeat})
		case realtime.EventHeartbeat:
			s.write(conn, realtime.Envelope{Event: realtime.EventHeartbeat})
		}
	}
}

func (s *Server) write(conn *websocket.Conn, env realtime.Envelope) {
	frame, err := realtime.EncodeEnvelope(env)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	conn.WriteMessage(websocket.TextMessage, frame)
	s.writeMu.Unlock()
}

// Push sends a frame to the currently connected client.
func (s *Server) Push(env realtime.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	frame, err := realtime.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// CloseWithCode closes the current client connection with the given
// WebSocket close code.
func (s *Server) CloseWithCode(code int) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	conn.Close()
}

// Dials returns how many connections the server has accepted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Received returns a snapshot of decoded frames read from clients.
func (s *Server) Received() []realtime.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.Envelope, len(s.received))
	copy(out, s.received)
	return out
}

// AwaitFrame waits until the server has read a frame with the given
// event name, or the timeout elapses.
func (s *Server) AwaitFrame(event realtime.Event, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, env := range s.Received() {
			if env.Event == event {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
