// Package streams carries pipeline jobs and progress events over Redis
// Streams. Every entry holds one JSON Envelope whose payload is validated
// against a registered JSON Schema on both publish and consume.
package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope wraps an event payload with routing and delivery metadata.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Version    string          `json:"payload_version"`
	OccurredAt time.Time       `json:"occurred_at"`
	TraceID    string          `json:"trace_id,omitempty"`
	Attempt    int             `json:"attempt"`
	Data       json.RawMessage `json:"data"`
}

func (e *Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return errors.New("envelope: event_id is required")
	case e.EventType == "":
		return errors.New("envelope: event_type is required")
	case e.Version == "":
		return errors.New("envelope: payload_version is required")
	case e.Attempt < 0:
		return errors.New("envelope: attempt must be >= 0")
	case len(e.Data) == 0:
		return errors.New("envelope: data is required")
	}
	return nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// UnmarshalEnvelope parses and validates an encoded envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}
