// Package message defines the wire envelope shared by every bus
// consumer and producer in Angora.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the fixed-shape object carried over the bus. It mirrors
// the Python source's Message(dict) exactly in field set, but is a
// tagged struct here rather than a dict subclass (see DESIGN.md "Dict-
// subclass tasks").
type Envelope struct {
	Exchange    string          `json:"exchange"`
	Queue       string          `json:"queue"`
	Message     string          `json:"message"`
	RoutingKey  string          `json:"routing_key,omitempty"`
	TimeStamp   *string         `json:"time_stamp,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// New builds an Envelope, validating the required fields.
func New(exchange, queue, msg string, data any) (Envelope, error) {
	if exchange == "" || queue == "" || msg == "" {
		return Envelope{}, fmt.Errorf("message: exchange, queue and message are required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("message: marshal data: %w", err)
	}
	return Envelope{Exchange: exchange, Queue: queue, Message: msg, Data: raw}, nil
}

// WithTimeStamp returns a copy stamped with an ISO-8601 time.
func (e Envelope) WithTimeStamp(t time.Time) Envelope {
	ts := t.UTC().Format(time.RFC3339)
	e.TimeStamp = &ts
	return e
}

// WithRoutingKey returns a copy with the bus routing key set.
func (e Envelope) WithRoutingKey(key string) Envelope {
	e.RoutingKey = key
	return e
}

// DataAs unmarshals the payload into v.
func (e Envelope) DataAs(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Marshal serializes the envelope for transport.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a wire envelope.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("message: unmarshal envelope: %w", err)
	}
	return e, nil
}
