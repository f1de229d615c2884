package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the payload format.
type Encoding string

const (
	JSON    Encoding = "json"
	MsgPack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case "":
		return JSON, nil
	case JSON, MsgPack:
		return e, nil
	}
	return "", fmt.Errorf("unsupported payload encoding %q", s)
}

// Envelope is the payload published for every event.
type Envelope struct {
	SessionID string      `json:"session_id" msgpack:"session_id"`
	Seq       uint64      `json:"seq" msgpack:"seq"`
	Time      time.Time   `json:"time" msgpack:"time"`
	Type      events.Type `json:"type" msgpack:"type"`
	Message   string      `json:"event" msgpack:"event"`
}

// Event converts the envelope back into an event.
func (e Envelope) Event() events.Event {
	return events.Event{Time: e.Time, Type: e.Type, Message: e.Message}
}

// Encode serialises an envelope.
func Encode(enc Encoding, env Envelope) ([]byte, error) {
	switch enc {
	case JSON, "":
		return json.Marshal(env)
	case MsgPack:
		return msgpack.Marshal(env)
	}
	return nil, fmt.Errorf("unsupported payload encoding %q", enc)
}

// Decode parses a payload produced by Encode.
func Decode(enc Encoding, data []byte) (Envelope, error) {
	var env Envelope
	var err error
	switch enc {
	case JSON, "":
		err = json.Unmarshal(data, &env)
	case MsgPack:
		err = msgpack.Unmarshal(data, &env)
	default:
		return env, fmt.Errorf("unsupported payload encoding %q", enc)
	}
	if err != nil {
		return env, fmt.Errorf("failed to decode %s payload: %w", enc, err)
	}
	return env, nil
}
