// Package models holds the wire and storage shapes shared by every
// coordination package: envelopes, hops, the inbox/outbox/event-store
// row shapes, status flags, and the coordinator's error taxonomy.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Hop is one record in an envelope's observability trail: every
// service, topic, lifecycle stage, timestamp and caller location the
// message has traversed. Hops are append-only.
type Hop struct {
	Service   string    `json:"service"`
	Topic     string    `json:"topic,omitempty"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
}

// Envelope is the identity, payload and observability trail carried by
// every message the coordinator ever sees. Envelopes are serialized
// once (via Marshal) and then travel as opaque JSON through the
// coordinator — it never inspects Payload.
type Envelope struct {
	MessageID     uuid.UUID       `json:"message_id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	CausationID   uuid.UUID       `json:"causation_id,omitempty"`
	EnvelopeType  string          `json:"envelope_type"`
	Payload       json.RawMessage `json:"payload"`
	Hops          []Hop           `json:"hops"`
}

// NewEnvelope creates an envelope with a fresh time-ordered message id.
// CorrelationID defaults to the message id itself (the message
// correlates with itself unless the caller overrides it).
func NewEnvelope(envelopeType string, payload json.RawMessage) Envelope {
	id := mustNewV7()
	return Envelope{
		MessageID:     id,
		CorrelationID: id,
		EnvelopeType:  envelopeType,
		Payload:       payload,
	}
}

// AddHop appends an observability record to the envelope's trail.
func (e *Envelope) AddHop(service, topic, stage, location string) {
	e.Hops = append(e.Hops, Hop{
		Service:   service,
		Topic:     topic,
		Stage:     stage,
		Timestamp: time.Now(),
		Location:  location,
	})
}

// Marshal serializes the envelope to the opaque JSON form stored in
// envelope_json columns.
func (e Envelope) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// UnmarshalEnvelope decodes an envelope_json column back into an Envelope.
func UnmarshalEnvelope(data json.RawMessage) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// mustNewV7 generates a time-ordered UUIDv7. google/uuid.NewV7 only
// fails if the system clock/entropy source is unavailable, which would
// mean the process can't do anything useful anyway.
func mustNewV7() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NewID returns a fresh time-ordered id, used for event ids and any
// other identifier the spec calls "time-ordered 128-bit values".
func NewID() uuid.UUID {
	return mustNewV7()
}
