package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON frame exchanged over the realtime channel.
// Unknown fields on inbound frames are ignored, not rejected.
type Envelope struct {
	Event     Event                  `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Encode marshals an outbound frame, filling message_id and timestamp
// when the caller leaves them empty.
func Encode(event Event, data map[string]interface{}, channel string) ([]byte, error) {
	return EncodeEnvelope(Envelope{Event: event, Data: data, Channel: channel})
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(env)
}

// Decode parses an inbound frame. Invalid JSON yields ErrMalformedFrame,
// a frame without an event name yields ErrMissingEvent.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}
