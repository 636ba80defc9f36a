package realtime

import (
	"context"
	"errors"
	"fmt"
)

// Event names a frame on the realtime channel. A small closed set of
// names is reserved for the session itself; everything else is an
// application event delivered on the event stream.
type Event string

const (
	EventConnect        Event = "connect"
	EventDisconnect     Event = "disconnect"
	EventError          Event = "error"
	EventHeartbeat      Event = "heartbeat"
	EventAuthentication Event = "authentication"
	EventSubscribe      Event = "subscribe"
	EventUnsubscribe    Event = "unsubscribe"
)

var systemEvents = map[Event]struct{}{
	EventConnect:        {},
	EventDisconnect:     {},
	EventError:          {},
	EventHeartbeat:      {},
	EventAuthentication: {},
	EventSubscribe:      {},
	EventUnsubscribe:    {},
}

// IsSystemEvent reports whether the event name is reserved for the
// session's own control traffic.
func IsSystemEvent(e Event) bool {
	_, ok := systemEvents[e]
	return ok
}

// Transport is a single underlying connection. A Session dials a fresh
// transport connection for every reconnect cycle.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

var (
	ErrNotConnected        = errors.New("session not connected")
	ErrConnectTimeout      = errors.New("connect timed out")
	ErrMaxAttemptsExceeded = errors.New("reconnect attempts exhausted")
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrMissingEvent        = errors.New("missing event field")
	ErrReservedEvent       = errors.New("event name reserved for session control")
)

// AuthRejectedError is terminal: the server explicitly refused the
// token and no reconnect is scheduled.
type AuthRejectedError struct {
	Code   int
	Reason string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("authentication rejected (code %d): %s", e.Code, e.Reason)
}
